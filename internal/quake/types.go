package quake

import "errors"

// DefaultMinMagnitude is the inclusive publish threshold.
const DefaultMinMagnitude = 5.0

// Event is one validated feed feature.
type Event struct {
	ID               string
	OccurredAtMillis int64
	Place            string
	// Magnitude is nil when the feed omits it or sends null.
	Magnitude  *float64
	Longitude  float64
	Latitude   float64
	DetailsURL string
}

// Link annotates Text[Start:End] (UTF-8 byte offsets) with URL.
type Link struct {
	Start int
	End   int
	URL   string
}

// Embed is the external link card attached to a post.
type Embed struct {
	URI         string
	Title       string
	Description string
}

// Notification is a ready-to-publish post.
type Notification struct {
	EventID string
	Text    string
	Links   []Link
	Embed   *Embed
}

var ErrInvalidNotification = errors.New("quake: invalid notification")
