package poller

import (
	"context"
	"time"

	"quakebot/internal/feed"
	"quakebot/internal/publisher"
	"quakebot/internal/quake"
)

// State is the poller lifecycle state.
type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

type Fetcher interface {
	Fetch(ctx context.Context) (feed.Snapshot, error)
}

// Store is the dedup store as seen by the poller. The poller is its only writer.
type Store interface {
	Has(id string) bool
	Record(ctx context.Context, id string) error
	Len() int
}

type Publisher interface {
	Publish(ctx context.Context, n quake.Notification) (publisher.Result, error)
}

// Report summarizes one cycle.
type Report struct {
	CycleID               string        `json:"cycle_id"`
	StartedAt             time.Time     `json:"started_at"`
	Fetched               int           `json:"fetched"`
	Rejected              int           `json:"rejected"`
	Published             int           `json:"published"`
	SkippedSeen           int           `json:"skipped_seen"`
	SkippedBelowThreshold int           `json:"skipped_below_threshold"`
	Failed                int           `json:"failed"`
	StorageErrors         int           `json:"storage_errors"`
	Err                   error         `json:"-"`
	Took                  time.Duration `json:"took"`
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeSeen
	outcomeBelow
	outcomeFailed
)
