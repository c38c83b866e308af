package eventbus

import "time"

// Event types published by the poller and the publisher.
const (
	TypeCycleCompleted = "cycle.completed"
	TypePublishSent    = "publish.sent"
	TypePublishFailed  = "publish.failed"
	TypeEventRejected  = "event.rejected"
)

// CycleEvent summarizes one poll cycle.
type CycleEvent struct {
	CycleID               string        `json:"cycle_id"`
	Fetched               int           `json:"fetched"`
	Rejected              int           `json:"rejected"`
	Published             int           `json:"published"`
	SkippedSeen           int           `json:"skipped_seen"`
	SkippedBelowThreshold int           `json:"skipped_below_threshold"`
	Failed                int           `json:"failed"`
	Took                  time.Duration `json:"took"`
	Error                 string        `json:"error,omitempty"`
}

type PublishEvent struct {
	EventID string        `json:"event_id"`
	URI     string        `json:"uri,omitempty"`
	DryRun  bool          `json:"dry_run,omitempty"`
	Kind    string        `json:"kind,omitempty"`
	Took    time.Duration `json:"took,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// RejectedEvent is a feed feature that failed validation.
type RejectedEvent struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}
