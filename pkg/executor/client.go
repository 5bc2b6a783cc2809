package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/codeduel/codeduel-backend/pkg/logger"
)

// ErrSandbox covers sandbox-side failures (timeouts, 5xx). Callers map it
// to a runtime_error verdict, never to an acceptance.
var ErrSandbox = errors.New("execution sandbox error")

// Client talks to the external execution sandbox over HTTP. The sandbox
// timeout is short and independent of any match-level timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// TestCaseInput is one test case sent to the sandbox.
type TestCaseInput struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
}

// RunRequest is the payload for one execution.
type RunRequest struct {
	Code        string          `json:"code"`
	Language    string          `json:"language"`
	TestCases   []TestCaseInput `json:"testCases"`
	TimeLimitMs int             `json:"timeLimitMs"`
}

// CaseVerdict is the sandbox's per-test result.
type CaseVerdict struct {
	Passed    bool  `json:"passed"`
	TimedOut  bool  `json:"timedOut"`
	Errored   bool  `json:"errored"`
	RuntimeMs int64 `json:"runtimeMs"`
}

// RunResponse is the sandbox's reply. CompileError is set when the code
// did not compile; Cases is empty in that case.
type RunResponse struct {
	CompileError string        `json:"compileError,omitempty"`
	Cases        []CaseVerdict `json:"cases"`
}

// Execute runs the code against the test cases and returns per-test
// verdicts.
func (c *Client) Execute(ctx context.Context, req RunRequest) (*RunResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build run request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.Warn("Sandbox request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSandbox, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("Sandbox returned non-OK status", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrSandbox, resp.StatusCode)
	}

	var result RunResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: bad response: %v", ErrSandbox, err)
	}

	return &result, nil
}
