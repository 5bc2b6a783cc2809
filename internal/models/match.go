package models

import (
	"strings"
	"time"
)

type MatchStatus string

const (
	MatchStatusActive    MatchStatus = "active"
	MatchStatusFinished  MatchStatus = "finished"
	MatchStatusAbandoned MatchStatus = "abandoned"
)

// Finish reasons recorded on the match and echoed in game_over events.
const (
	ReasonSolved       = "solved"
	ReasonForfeited    = "forfeited"
	ReasonDisconnected = "opponent_disconnected"
	ReasonTimeout      = "timeout"
)

const BotIDPrefix = "bot:"

// MatchSide is one participant of a match. A side may represent a bot,
// in which case ConnID is empty and the user id carries the bot prefix.
type MatchSide struct {
	UserID      string `json:"userId"`
	ConnID      string `json:"connId"`
	DisplayName string `json:"displayName"`
	Rating      int    `json:"rating"`
	Bot         bool   `json:"bot"`
}

// Match is the authoritative record of one live 1:1 session. It lives in
// the shared state store under a bounded TTL and transitions
// active -> finished exactly once, via the store's check-and-set.
//
// The record deliberately holds no arrays: it is rewritten in place by
// Lua scripts and flat objects survive the cjson round trip unchanged.
type Match struct {
	ID            string      `json:"id"`
	SideA         MatchSide   `json:"sideA"`
	SideB         MatchSide   `json:"sideB"`
	ProblemID     string      `json:"problemId"`
	ProblemTitle  string      `json:"problemTitle"`
	ProblemRating int         `json:"problemRating"`
	Difficulty    string      `json:"difficulty"`
	Status        MatchStatus `json:"status"`
	WinnerID      string      `json:"winnerId,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	StartedAt     time.Time   `json:"startedAt"`
	FinishedAt    string      `json:"finishedAt,omitempty"`
}

// SideOf returns the participant side for userID, or nil.
func (m *Match) SideOf(userID string) *MatchSide {
	switch userID {
	case m.SideA.UserID:
		return &m.SideA
	case m.SideB.UserID:
		return &m.SideB
	}
	return nil
}

// OpponentOf returns the other side for userID, or nil if userID is not
// a participant.
func (m *Match) OpponentOf(userID string) *MatchSide {
	switch userID {
	case m.SideA.UserID:
		return &m.SideB
	case m.SideB.UserID:
		return &m.SideA
	}
	return nil
}

func (m *Match) HasParticipant(userID string) bool {
	return m.SideOf(userID) != nil
}

func (m *Match) IsActive() bool {
	return m.Status == MatchStatusActive
}

// IsBotID reports whether an id belongs to a synthetic opponent.
func IsBotID(id string) bool {
	return strings.HasPrefix(id, BotIDPrefix)
}
