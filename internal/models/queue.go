package models

import "time"

// QueueEntry is one player waiting for an opponent. Entries live in the
// shared Redis list; a user id appears at most once at a time.
type QueueEntry struct {
	UserID      string    `json:"userId"`
	ConnID      string    `json:"connId"`
	DisplayName string    `json:"displayName"`
	Rating      int       `json:"rating"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// WaitedFor reports how long the entry has been queued.
func (e *QueueEntry) WaitedFor(now time.Time) time.Duration {
	return now.Sub(e.EnqueuedAt)
}
