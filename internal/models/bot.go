package models

import "time"

// BotCheckpoint is one scheduled progress emission of a synthetic opponent.
type BotCheckpoint struct {
	Offset  time.Duration `json:"offsetMs"`
	Percent int           `json:"percent"`
	Label   string        `json:"label"`
}

// BotTimeline is computed once when a bot opponent is created and then
// consumed by a single cancellable runner. Checkpoints are strictly
// increasing in offset and percent.
type BotTimeline struct {
	BotID         string          `json:"botId"`
	DisplayName   string          `json:"displayName"`
	Total         time.Duration   `json:"totalMs"`
	Checkpoints   []BotCheckpoint `json:"checkpoints"`
	Succeeds      bool            `json:"succeeds"`
	FailAtPercent int             `json:"failAtPercent,omitempty"`
}
