package domain

import "time"

// RecordingResult is returned when a recording is finalized.
type RecordingResult struct {
	EventID         EventID `json:"event_id"`
	Filename        string  `json:"filename"`
	DurationSeconds int     `json:"duration"`
	Bytes           int64   `json:"bytes"`
}

// RecordingMetadata is persisted by the recording collaborator.
type RecordingMetadata struct {
	EventID         EventID   `json:"event_id"`
	Filename        string    `json:"filename"`
	DurationSeconds int       `json:"duration"`
	CreatedAt       time.Time `json:"created_at"`
}
