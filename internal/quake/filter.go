package quake

import "math"

// Decision is the filter verdict for one event.
type Decision int

const (
	Publish Decision = iota
	SkipAlreadySeen
	SkipBelowThreshold
)

func (d Decision) String() string {
	switch d {
	case Publish:
		return "publish"
	case SkipAlreadySeen:
		return "skip_seen"
	case SkipBelowThreshold:
		return "skip_below_threshold"
	default:
		return "unknown"
	}
}

// Seen answers dedup membership.
type Seen interface {
	Has(id string) bool
}

// Filter applies the dedup check and the magnitude threshold.
type Filter struct {
	MinMagnitude float64
}

func NewFilter(minMagnitude float64) Filter {
	if math.IsNaN(minMagnitude) || minMagnitude <= 0 {
		minMagnitude = DefaultMinMagnitude
	}
	return Filter{MinMagnitude: minMagnitude}
}

// ShouldPublish checks dedup first, then the threshold. A nil seen set is
// treated as empty.
func (f Filter) ShouldPublish(ev Event, seen Seen) Decision {
	if seen != nil && seen.Has(ev.ID) {
		return SkipAlreadySeen
	}
	if ev.Magnitude == nil {
		return SkipBelowThreshold
	}
	m := *ev.Magnitude
	if math.IsNaN(m) || m < f.MinMagnitude {
		return SkipBelowThreshold
	}
	return Publish
}
