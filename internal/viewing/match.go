package viewing

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MatchOutcome classifies the result of matching a reply against the
// offered slots.
type MatchOutcome int

const (
	// MatchNone means the reply did not reference any offered slot.
	MatchNone MatchOutcome = iota
	// MatchFound means exactly one offered slot matched.
	MatchFound
	// MatchAmbiguous means the reply could mean more than one slot;
	// the caller must ask for clarification instead of guessing.
	MatchAmbiguous
)

var (
	indexPattern   = regexp.MustCompile(`(?i)^\s*(?:option|number|choice|slot|#)?\s*(\d{1,2})\s*$`)
	ordinalWords   = []string{"first", "second", "third", "fourth", "fifth", "sixth"}
	ordinalPattern = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)\b`)
	timePattern    = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	yesPattern     = regexp.MustCompile(`(?i)^\s*(yes|yep|yeah|sure|ok|okay|sounds good|that works|confirm(ed)?)\b`)
)

// ConfirmSlot matches free text against the offered slots. The returned
// slot is always a copy of one of the offered entries.
func ConfirmSlot(message string, offered []Slot) (*Slot, MatchOutcome) {
	if len(offered) == 0 || strings.TrimSpace(message) == "" {
		return nil, MatchNone
	}
	text := strings.TrimSpace(message)

	if idx := matchIndex(text, len(offered)); idx > 0 {
		slot := offered[idx-1]
		return &slot, MatchFound
	}

	candidates := matchDayAndTime(text, offered)
	switch len(candidates) {
	case 1:
		slot := offered[candidates[0]]
		return &slot, MatchFound
	default:
		if len(candidates) > 1 {
			return nil, MatchAmbiguous
		}
	}

	// Bare acceptance only works when exactly one slot is on the table.
	if yesPattern.MatchString(text) {
		if len(offered) == 1 {
			slot := offered[0]
			return &slot, MatchFound
		}
		return nil, MatchAmbiguous
	}

	return nil, MatchNone
}

// matchIndex resolves "2", "option 2", "#2", "2nd", "second".
func matchIndex(text string, count int) int {
	if m := indexPattern.FindStringSubmatch(text); m != nil {
		if idx, err := strconv.Atoi(m[1]); err == nil && idx >= 1 && idx <= count {
			return idx
		}
	}
	if m := ordinalPattern.FindStringSubmatch(text); m != nil {
		if idx, err := strconv.Atoi(m[1]); err == nil && idx >= 1 && idx <= count {
			return idx
		}
	}
	lower := strings.ToLower(text)
	for i, word := range ordinalWords {
		if strings.Contains(lower, word) && i+1 <= count {
			return i + 1
		}
	}
	return 0
}

// matchDayAndTime returns indexes of slots compatible with any weekday
// and/or clock time mentioned in the text.
func matchDayAndTime(text string, offered []Slot) []int {
	lower := strings.ToLower(text)
	wantDay := extractWeekday(lower)

	wantHour, wantMinute, hasTime := extractClockTime(lower)
	if wantDay == nil && !hasTime {
		return nil
	}

	var candidates []int
	for i, slot := range offered {
		start := slot.Start
		if wantDay != nil && start.Weekday() != *wantDay {
			continue
		}
		if hasTime && (start.Hour() != wantHour || start.Minute() != wantMinute) {
			continue
		}
		candidates = append(candidates, i)
	}
	return candidates
}

// extractWeekday finds a weekday mention as a whole token or a
// three-letter-plus abbreviation ("mon", "tues", "thurs"). Substring
// matching is deliberately avoided: "month" must not read as Monday.
func extractWeekday(lower string) *time.Weekday {
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return r < 'a' || r > 'z'
	})
	for _, tok := range tokens {
		if len(tok) < 3 {
			continue
		}
		for name, wd := range weekdayNames {
			if strings.HasPrefix(name, tok) {
				day := wd
				return &day
			}
		}
	}
	return nil
}

func extractClockTime(text string) (hour, minute int, ok bool) {
	for _, m := range timePattern.FindAllStringSubmatch(text, -1) {
		h, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		min := 0
		if m[2] != "" {
			min, err = strconv.Atoi(m[2])
			if err != nil {
				continue
			}
		}
		meridiem := strings.ToLower(m[3])
		// A bare number without minutes or am/pm is an index, not a time.
		if m[2] == "" && meridiem == "" {
			continue
		}
		if meridiem == "pm" && h < 12 {
			h += 12
		}
		if meridiem == "am" && h == 12 {
			h = 0
		}
		if h > 23 || min > 59 {
			continue
		}
		return h, min, true
	}
	return 0, 0, false
}
