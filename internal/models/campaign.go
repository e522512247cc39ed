package models

import "time"

// Campaign summarizes one bulk send across all of its recipients. It is
// created in SENDING state by the dispatch router and closed exactly once by
// the batch worker; once terminal, TotalSent+TotalFailed equals the number of
// recipients in the snapshot.
type Campaign struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Channel     Channel    `json:"channel"`
	Recipients  []string   `json:"recipients"`
	Subject     string     `json:"subject,omitempty"`
	Body        string     `json:"body"`
	Status      string     `json:"status"`
	TotalSent   int        `json:"total_sent"`
	TotalFailed int        `json:"total_failed"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
