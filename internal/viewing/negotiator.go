// Package viewing proposes and confirms property viewing slots in the
// fixed operational timezone.
package viewing

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SlotStatus tracks the lifecycle of a viewing slot.
type SlotStatus string

const (
	SlotOffered   SlotStatus = "offered"
	SlotConfirmed SlotStatus = "confirmed"
	SlotCanceled  SlotStatus = "canceled"
)

// Slot is a candidate or confirmed viewing time window.
type Slot struct {
	Start    time.Time  `json:"start"`
	End      time.Time  `json:"end"`
	Timezone string     `json:"timezone"`
	Status   SlotStatus `json:"status"`
}

// Display renders the slot the way it is shown to the lead.
func (s Slot) Display() string {
	return s.Start.Format("Mon Jan 2 at 3:04 PM")
}

// Config controls slot proposal.
type Config struct {
	Timezone     string
	DurationMins int
	Days         []string // weekday names, e.g. "Monday"
	Hours        []string // "15:04" start times
	SlotCount    int
}

// Negotiator generates candidate slots and matches lead replies against
// previously offered ones.
type Negotiator struct {
	loc      *time.Location
	tzName   string
	duration time.Duration
	days     map[time.Weekday]bool
	hours    []dayTime
	count    int
	now      func() time.Time
}

type dayTime struct {
	hour   int
	minute int
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// NewNegotiator creates a negotiator for the given operational settings.
func NewNegotiator(cfg Config) (*Negotiator, error) {
	tzName := cfg.Timezone
	if tzName == "" {
		tzName = "America/New_York"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("viewing: invalid timezone %q: %w", tzName, err)
	}

	duration := time.Duration(cfg.DurationMins) * time.Minute
	if duration <= 0 {
		duration = 30 * time.Minute
	}

	days := make(map[time.Weekday]bool)
	for _, name := range cfg.Days {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("viewing: unknown weekday %q", name)
		}
		days[wd] = true
	}
	if len(days) == 0 {
		for wd := time.Monday; wd <= time.Friday; wd++ {
			days[wd] = true
		}
	}

	var hours []dayTime
	for _, raw := range cfg.Hours {
		parsed, err := parseDayTime(raw)
		if err != nil {
			return nil, err
		}
		hours = append(hours, parsed)
	}
	if len(hours) == 0 {
		hours = []dayTime{{hour: 10}, {hour: 13}, {hour: 16}}
	}

	count := cfg.SlotCount
	if count <= 0 {
		count = 3
	}

	return &Negotiator{
		loc:      loc,
		tzName:   tzName,
		duration: duration,
		days:     days,
		hours:    hours,
		count:    count,
		now:      time.Now,
	}, nil
}

func parseDayTime(raw string) (dayTime, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return dayTime{}, fmt.Errorf("viewing: invalid time %q", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return dayTime{}, fmt.Errorf("viewing: invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return dayTime{}, fmt.Errorf("viewing: invalid minute in %q", raw)
	}
	return dayTime{hour: hour, minute: minute}, nil
}

// ErrNoSlots indicates proposal produced no candidates.
var ErrNoSlots = errors.New("viewing: no candidate slots available")

// ProposeSlots returns the next candidate slots honoring the configured
// days and times. Every candidate that has already elapsed is rolled
// forward to its next weekly occurrence, so returned slots always start
// strictly in the future, earliest first.
func (n *Negotiator) ProposeSlots() ([]Slot, error) {
	now := n.now().In(n.loc)

	weeks := n.count/(len(n.days)*len(n.hours)) + 2
	seen := make(map[int64]bool)
	var starts []time.Time
	for week := 0; week < weeks; week++ {
		for wd := range n.days {
			day := now.AddDate(0, 0, int((wd-now.Weekday()+7)%7)+7*week)
			for _, h := range n.hours {
				start := time.Date(day.Year(), day.Month(), day.Day(), h.hour, h.minute, 0, 0, n.loc)
				start = n.RollForward(start)
				if seen[start.Unix()] {
					continue
				}
				seen[start.Unix()] = true
				starts = append(starts, start)
			}
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	if len(starts) > n.count {
		starts = starts[:n.count]
	}
	if len(starts) == 0 {
		return nil, ErrNoSlots
	}

	slots := make([]Slot, 0, len(starts))
	for _, start := range starts {
		slots = append(slots, Slot{
			Start:    start,
			End:      start.Add(n.duration),
			Timezone: n.tzName,
			Status:   SlotOffered,
		})
	}
	return slots, nil
}

// RollForward advances a time reference that has already elapsed to the
// next occurrence with the same weekday and time-of-day. Future times are
// returned unchanged.
func (n *Negotiator) RollForward(t time.Time) time.Time {
	now := n.now().In(n.loc)
	t = t.In(n.loc)
	for !t.After(now) {
		t = t.AddDate(0, 0, 7)
	}
	return t
}

// FormatSlots renders offered slots as a numbered list. Callers supply
// their own lead-in line.
func FormatSlots(slots []Slot) string {
	var b strings.Builder
	for i, s := range slots {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Display())
	}
	b.WriteString("Reply with the number that suits you best.")
	return b.String()
}
