package quake

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rivo/uniseg"
)

const (
	DefaultMapLabel     = "🗺 Map"
	DefaultDetailsLabel = "🔍 Details"

	// MaxGraphemes is the post length limit of the sink.
	MaxGraphemes = 300

	embedText = "Earthquake coordinates"
)

// Formatter renders events into notifications.
type Formatter struct {
	MapLabel     string
	DetailsLabel string
}

func NewFormatter(mapLabel, detailsLabel string) Formatter {
	if strings.TrimSpace(mapLabel) == "" {
		mapLabel = DefaultMapLabel
	}
	if strings.TrimSpace(detailsLabel) == "" {
		detailsLabel = DefaultDetailsLabel
	}
	return Formatter{MapLabel: mapLabel, DetailsLabel: detailsLabel}
}

// MapURL returns the coordinate link for lat/lon.
func MapURL(lat, lon float64) string {
	return "https://www.google.com/maps?q=" + formatFloat(lat) + "," + formatFloat(lon)
}

// Preposition returns "" when the place already reads as a relative
// distance ("12 km SSW of Town"), "in " otherwise.
func Preposition(place string) string {
	tokens := strings.Fields(place)
	for i := 0; i < len(tokens) && i < 2; i++ {
		if strings.Contains(tokens[i], "km") {
			return ""
		}
	}
	return "in "
}

func (f Formatter) Format(ev Event) (Notification, error) {
	if ev.Magnitude == nil {
		return Notification{}, fmt.Errorf("%w: event %s has no magnitude", ErrInvalidNotification, ev.ID)
	}
	mapLabel, detailsLabel := f.MapLabel, f.DetailsLabel
	if mapLabel == "" {
		mapLabel = DefaultMapLabel
	}
	if detailsLabel == "" {
		detailsLabel = DefaultDetailsLabel
	}
	coords := MapURL(ev.Latitude, ev.Longitude)

	var b strings.Builder
	b.WriteString("A ")
	b.WriteString(formatFloat(*ev.Magnitude))
	b.WriteString(" magnitude earthquake occurred ")
	b.WriteString(Preposition(ev.Place))
	b.WriteString(ev.Place)
	b.WriteString(".\n\n")

	mapStart := b.Len()
	b.WriteString(mapLabel)
	mapEnd := b.Len()
	b.WriteString("\n")
	detStart := b.Len()
	b.WriteString(detailsLabel)
	detEnd := b.Len()

	n := Notification{
		EventID: ev.ID,
		Text:    b.String(),
		Links: []Link{
			{Start: mapStart, End: mapEnd, URL: coords},
			{Start: detStart, End: detEnd, URL: ev.DetailsURL},
		},
		Embed: &Embed{URI: coords, Title: embedText, Description: embedText},
	}
	if err := Validate(n); err != nil {
		return Notification{}, err
	}
	return n, nil
}

// Validate checks link ranges, URLs and the grapheme limit.
func Validate(n Notification) error {
	if n.Text == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidNotification)
	}
	if c := uniseg.GraphemeClusterCount(n.Text); c > MaxGraphemes {
		return fmt.Errorf("%w: text is %d graphemes (max %d)", ErrInvalidNotification, c, MaxGraphemes)
	}

	links := append([]Link(nil), n.Links...)
	sort.Slice(links, func(i, j int) bool { return links[i].Start < links[j].Start })
	prevEnd := 0
	for i, l := range links {
		if l.Start < 0 || l.End > len(n.Text) || l.Start >= l.End {
			return fmt.Errorf("%w: link range [%d,%d) out of bounds", ErrInvalidNotification, l.Start, l.End)
		}
		if i > 0 && l.Start < prevEnd {
			return fmt.Errorf("%w: link ranges overlap at %d", ErrInvalidNotification, l.Start)
		}
		if strings.TrimSpace(l.URL) == "" {
			return fmt.Errorf("%w: link [%d,%d) has empty url", ErrInvalidNotification, l.Start, l.End)
		}
		prevEnd = l.End
	}
	if n.Embed != nil && strings.TrimSpace(n.Embed.URI) == "" {
		return fmt.Errorf("%w: embed has empty uri", ErrInvalidNotification)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
