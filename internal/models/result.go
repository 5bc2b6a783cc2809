package models

// MatchResult is handed to the persistence collaborator exactly once per
// finished match. WinnerID and LoserID are empty on a timed-out draw.
type MatchResult struct {
	MatchID         string `json:"matchId"`
	WinnerID        string `json:"winnerId,omitempty"`
	LoserID         string `json:"loserId,omitempty"`
	ProblemID       string `json:"problemId"`
	Reason          string `json:"reason"`
	DurationSeconds int    `json:"durationSeconds"`
	Language        string `json:"language,omitempty"`
	RatingDelta     int    `json:"ratingDelta"`
}

// User is the public profile slice this service consumes: identity is
// verified upstream, profile CRUD lives elsewhere.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Rating      int    `json:"rating"`
}
