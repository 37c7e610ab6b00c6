package store

import "time"

// Job payload schemas, one per JobType. They travel as JSON in jobs.payload.

// SendImmediatePayload references the single event an immediate send covers.
type SendImmediatePayload struct {
	EventID string `json:"event_id"`
}

// CompileDigestPayload pins the digest window to the scheduled fire time,
// so a retried run recompiles the same window instead of a drifted one.
type CompileDigestPayload struct {
	WindowEnd time.Time `json:"window_end"`
}

// ReportPayload pins the reporting window the same way.
type ReportPayload struct {
	WindowEnd time.Time `json:"window_end"`
}
