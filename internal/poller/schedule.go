package poller

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind is either a fixed pause between cycles or a cron expression.
type ScheduleKind int

const (
	ScheduleInterval ScheduleKind = iota
	ScheduleCron
)

func (k ScheduleKind) String() string {
	if k == ScheduleCron {
		return "cron"
	}
	return "interval"
}

// Schedule decides when the next cycle starts, measured from the completion
// of the previous one.
//
// Accepted forms:
//   - Go duration: "2m", "90s"
//   - HH:MM interval: "00:02" (2 minutes), "01:30"
//   - Cron: "*/2 * * * *", "@every 2m", "0 */5 * * * *" (optional seconds)
//
// "cron:" and "interval:"/"every:" prefixes force the kind.
type Schedule struct {
	Kind   ScheduleKind
	Every  time.Duration
	Cron   string
	Source string // "duration" | "hhmm" | "cron"

	cron cron.Schedule
}

var (
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// DefaultSchedule polls every two minutes.
func DefaultSchedule() Schedule {
	return Schedule{Kind: ScheduleInterval, Every: 2 * time.Minute, Source: "duration"}
}

// Next returns the start time of the cycle after one that completed at t.
func (s Schedule) Next(t time.Time) time.Time {
	if s.Kind == ScheduleCron && s.cron != nil {
		return s.cron.Next(t)
	}
	return t.Add(s.Every)
}

func (s Schedule) String() string {
	if s.Kind == ScheduleCron {
		return "cron:" + s.Cron
	}
	return s.Every.String()
}

func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("poll interval required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	}

	// Whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	if sc, err := parseInterval(s); err == nil {
		return sc, nil
	}
	return Schedule{}, fmt.Errorf(
		"invalid poll interval %q (use a duration like '2m', HH:MM like '00:02', or cron like '*/2 * * * *')",
		raw,
	)
}

func parseCron(expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Schedule{Kind: ScheduleCron, Cron: expr, Source: "cron", cron: sched}, nil
}

func parseInterval(v string) (Schedule, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Schedule{}, fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		if err != nil {
			return Schedule{}, err
		}
		return Schedule{Kind: ScheduleInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid interval %q", v)
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval must be > 0")
	}
	return Schedule{Kind: ScheduleInterval, Every: d, Source: "duration"}, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
