package models

type Verdict string

const (
	VerdictAccepted     Verdict = "accepted"
	VerdictWrongAnswer  Verdict = "wrong_answer"
	VerdictRuntimeError Verdict = "runtime_error"
	VerdictTimeLimit    Verdict = "time_limit"
	VerdictCompileError Verdict = "compile_error"
)

type CaseResult struct {
	CaseID    int   `json:"caseId"`
	Passed    bool  `json:"passed"`
	TimedOut  bool  `json:"timedOut,omitempty"`
	Errored   bool  `json:"errored,omitempty"`
	RuntimeMs int64 `json:"runtimeMs"`
}

// SubmissionOutcome is the transient result of running one submission
// against a problem's test cases. Only a fully accepted outcome feeds
// into match finalization.
type SubmissionOutcome struct {
	Status  Verdict      `json:"status"`
	Passed  int          `json:"passed"`
	Total   int          `json:"total"`
	Cases   []CaseResult `json:"cases,omitempty"`
	Message string       `json:"message,omitempty"`
}

func (o *SubmissionOutcome) Accepted() bool {
	return o.Status == VerdictAccepted
}
