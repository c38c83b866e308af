package app

import (
	"time"

	"quakebot/internal/poller"
	"quakebot/internal/runtime/supervisor"
)

// staleGrace is how far past its next scheduled start a cycle may be before
// the poller is reported unhealthy. It covers one fetch plus a slow publish run.
const staleGrace = 5 * time.Minute

type statusDoc struct {
	State        string                 `json:"state"`
	Healthy      bool                   `json:"healthy"`
	Schedule     string                 `json:"schedule"`
	MinMagnitude float64                `json:"min_magnitude"`
	DryRun       bool                   `json:"dry_run"`
	DedupIDs     int                    `json:"dedup_ids"`
	LastReport   *poller.Report         `json:"last_report,omitempty"`
	LastError    string                 `json:"last_error,omitempty"`
	Tasks        []supervisor.TaskStats `json:"tasks,omitempty"`
}

func (a *App) status() any {
	now := time.Now()
	doc := statusDoc{
		State:        a.poller.State().String(),
		Healthy:      a.healthy(now),
		Schedule:     a.poller.Schedule().String(),
		MinMagnitude: a.poller.MinMagnitude(),
		DryRun:       a.pub.DryRun(),
		DedupIDs:     a.store.Len(),
	}
	if rep, ok := a.poller.LastReport(); ok {
		doc.LastReport = &rep
		if rep.Err != nil {
			doc.LastError = rep.Err.Error()
		}
	}
	if a.sup != nil {
		doc.Tasks = a.sup.Snapshot()
	}
	return doc
}

// healthy reports whether the poll loop is keeping its schedule. Before the
// first cycle completes it is always healthy.
func (a *App) healthy(now time.Time) bool {
	rep, ok := a.poller.LastReport()
	if !ok {
		return true
	}
	completed := rep.StartedAt.Add(rep.Took)
	due := a.poller.Schedule().Next(completed)
	return now.Before(due.Add(staleGrace))
}
