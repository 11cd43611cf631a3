package domain

import "time"

// ProgressRecord tracks a running invocation graph: how many units it
// compiled to and how many have completed. The record is ephemeral: it exists
// only while the graph runs, and is created and deleted exclusively within
// the session's lock scope. Within a single record's lifetime
// Executed <= Total always holds; a new record may reset both counters for a
// new graph.
type ProgressRecord struct {
	SessionID string    `json:"session_id"`
	TaskID    string    `json:"task_id"`
	Total     int       `json:"total"`
	Executed  int       `json:"executed"`
	CreatedAt time.Time `json:"created_at"`
}
