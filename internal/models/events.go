package models

import (
	"encoding/json"
	"time"
)

// Inbound event types (client -> service).
const (
	EventJoinQueue        = "join_queue"
	EventLeaveQueue       = "leave_queue"
	EventSubmitCode       = "submit_code"
	EventForfeit          = "forfeit"
	EventRejoinMatch      = "rejoin_match"
	EventCheckActiveMatch = "check_active_match"
)

// Outbound event types (service -> client).
const (
	EventQueueJoined      = "queue_joined"
	EventQueueLeft        = "queue_left"
	EventMatchFound       = "match_found"
	EventSubmissionResult = "submission_result"
	EventOpponentProgress = "opponent_progress"
	EventGameOver         = "game_over"
	EventActiveMatch      = "active_match_found"
	EventError            = "error"
)

// Error codes carried in error events.
const (
	CodeAlreadyQueued  = "already_queued"
	CodeNotQueued      = "not_queued"
	CodeMatchNotActive = "match_not_active"
	CodeNotParticipant = "not_participant"
	CodeRateLimited    = "rate_limited"
	CodeBadRequest     = "bad_request"
	CodeInternal       = "internal_error"
)

// InboundEvent is the envelope parsed off the websocket.
type InboundEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type SubmitCodePayload struct {
	MatchID    string `json:"matchId"`
	Code       string `json:"code"`
	LanguageID string `json:"languageId"`
}

type MatchRefPayload struct {
	MatchID string `json:"matchId"`
}

type QueueJoinedPayload struct {
	Position int `json:"position"`
}

type OpponentView struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Rating      int    `json:"rating"`
}

type MatchFoundPayload struct {
	MatchID   string       `json:"matchId"`
	Problem   *ProblemView `json:"problem"`
	Opponent  OpponentView `json:"opponent"`
	StartedAt time.Time    `json:"startTime"`
}

type SubmissionResultPayload struct {
	Status      string `json:"status"`
	Passed      int    `json:"passed"`
	Total       int    `json:"total"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// Submission status reported to a racer whose accepted solution arrived
// after the match was already decided. Not an error at the user level.
const SubmissionStatusTooLate = "match_already_finished"

type OpponentProgressPayload struct {
	Status      string `json:"status"`
	Percent     int    `json:"percent,omitempty"`
	TestsPassed int    `json:"testsPassed,omitempty"`
	TestsTotal  int    `json:"testsTotal,omitempty"`
}

type GameOverPayload struct {
	WinnerID  string `json:"winnerId,omitempty"`
	Reason    string `json:"reason"`
	YouWon    bool   `json:"youWon"`
	Message   string `json:"message"`
	NewRating int    `json:"newRating,omitempty"`
}

type ActiveMatchPayload struct {
	MatchID string `json:"matchId,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
