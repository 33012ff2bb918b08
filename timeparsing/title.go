// Package timeparsing extracts due dates from free-text task titles and from
// explicit due-date strings. Parsing is advisory: nothing here returns an
// error, an unrecognized input simply yields no timestamp.
package timeparsing

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Result is the outcome of scanning a task title. When DueAt is nil the
// CleanedTitle is the trimmed input, untouched.
type Result struct {
	CleanedTitle string
	DueAt        *time.Time
}

var (
	relativeDayRe = regexp.MustCompile(`(?i)\b(today|tomorrow|tmr)\b`)

	weekdayRe = regexp.MustCompile(`(?i)\b(?:next\s+)?(monday|tuesday|tues|wednesday|thursday|thurs|thur|friday|saturday|sunday|mon|tue|wed|thu|fri|sat|sun)\b`)

	slashDateRe = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})(?:[/-](\d{4}|\d{2}))?\b`)

	monthDateRe = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\.?\s+(\d{1,2})(st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)

	// Meridiem form first so "6:00PM" is consumed whole; bare HH:MM is 24h.
	timeRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::([0-5]\d))?\s*([ap]m)\b|\b([01]?\d|2[0-3]):([0-5]\d)\b`)
)

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tues": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thurs": time.Thursday, "thur": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
	"sunday": time.Sunday, "sun": time.Sunday,
}

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sept": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

type span struct{ start, end int }

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

type dateMatch struct {
	at        span
	year      int
	month     time.Month
	day       int
	isToday   bool
	explicit  bool // slash or month-name date
	yearGiven bool
}

// ExtractDue scans a raw task title for a temporal expression, removes the
// matched phrases from the title, and resolves them to a future timestamp in
// now's location. Pattern priority: relative day words, weekday names,
// slash/dash dates, month-name dates, then time-only expressions.
func ExtractDue(raw string, now time.Time) Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Result{CleanedTitle: trimmed}
	}

	date := findDate(trimmed, now)

	var timeSpan *span
	hour, minute := 9, 0
	hasTime := false
	for _, idx := range timeRe.FindAllStringSubmatchIndex(trimmed, -1) {
		sp := span{idx[0], idx[1]}
		if date != nil && sp.overlaps(date.at) {
			continue
		}
		h, m, ok := parseClock(trimmed, idx)
		if !ok {
			continue
		}
		hour, minute = h, m
		timeSpan = &sp
		hasTime = true
		break
	}

	var due time.Time
	switch {
	case date != nil:
		due = time.Date(date.year, date.month, date.day, hour, minute, 0, 0, now.Location())
		if date.isToday && !due.After(now) {
			// "today" always resolves strictly into the future.
			due = now.Add(time.Hour).Truncate(time.Minute)
		} else if date.explicit && !due.After(now) {
			if date.yearGiven {
				// The caller asked for a moment that has already passed.
				return Result{CleanedTitle: trimmed}
			}
			due = due.AddDate(1, 0, 0)
		}
	case hasTime:
		due = time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !due.After(now) {
			due = due.AddDate(0, 0, 1)
		}
	default:
		return Result{CleanedTitle: trimmed}
	}

	spans := make([]span, 0, 2)
	if date != nil {
		spans = append(spans, widenPreposition(trimmed, date.at))
	}
	if timeSpan != nil {
		spans = append(spans, widenPreposition(trimmed, *timeSpan))
	}

	cleaned := removeSpans(trimmed, spans)
	if cleaned == "" {
		cleaned = raw
	}
	return Result{CleanedTitle: cleaned, DueAt: &due}
}

func findDate(s string, now time.Time) *dateMatch {
	if idx := relativeDayRe.FindStringSubmatchIndex(s); idx != nil {
		word := strings.ToLower(s[idx[2]:idx[3]])
		d := now
		if word != "today" {
			d = now.AddDate(0, 0, 1)
		}
		return &dateMatch{
			at:      span{idx[0], idx[1]},
			year:    d.Year(),
			month:   d.Month(),
			day:     d.Day(),
			isToday: word == "today",
		}
	}

	if idx := weekdayRe.FindStringSubmatchIndex(s); idx != nil {
		wd := weekdays[strings.ToLower(s[idx[2]:idx[3]])]
		delta := (int(wd) - int(now.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		d := now.AddDate(0, 0, delta)
		return &dateMatch{
			at:    span{idx[0], idx[1]},
			year:  d.Year(),
			month: d.Month(),
			day:   d.Day(),
		}
	}

	if idx := slashDateRe.FindStringSubmatchIndex(s); idx != nil {
		month, _ := strconv.Atoi(s[idx[2]:idx[3]])
		day, _ := strconv.Atoi(s[idx[4]:idx[5]])
		year, yearGiven := now.Year(), false
		if idx[6] >= 0 {
			y, _ := strconv.Atoi(s[idx[6]:idx[7]])
			if y < 100 {
				y += 2000
			}
			year, yearGiven = y, true
		}
		if validDate(year, time.Month(month), day) {
			return &dateMatch{
				at:        span{idx[0], idx[1]},
				year:      year,
				month:     time.Month(month),
				day:       day,
				explicit:  true,
				yearGiven: yearGiven,
			}
		}
	}

	if idx := monthDateRe.FindStringSubmatchIndex(s); idx != nil {
		month := months[strings.ToLower(s[idx[2]:idx[3]])]
		day, _ := strconv.Atoi(s[idx[4]:idx[5]])
		year, yearGiven := now.Year(), false
		if idx[8] >= 0 {
			y, _ := strconv.Atoi(s[idx[8]:idx[9]])
			year, yearGiven = y, true
		}
		if validDate(year, month, day) {
			return &dateMatch{
				at:        span{idx[0], idx[1]},
				year:      year,
				month:     month,
				day:       day,
				explicit:  true,
				yearGiven: yearGiven,
			}
		}
	}

	return nil
}

func parseClock(s string, idx []int) (hour, minute int, ok bool) {
	if idx[2] >= 0 { // meridiem form
		hour, _ = strconv.Atoi(s[idx[2]:idx[3]])
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if idx[4] >= 0 {
			minute, _ = strconv.Atoi(s[idx[4]:idx[5]])
		}
		meridiem := strings.ToLower(s[idx[6]:idx[7]])
		hour = hour % 12
		if meridiem == "pm" {
			hour += 12
		}
		return hour, minute, true
	}
	// 24h form
	hour, _ = strconv.Atoi(s[idx[8]:idx[9]])
	minute, _ = strconv.Atoi(s[idx[10]:idx[11]])
	return hour, minute, true
}

func validDate(year int, month time.Month, day int) bool {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return t.Month() == month && t.Day() == day
}

// widenPreposition pulls a dangling "at"/"on" in front of the matched phrase
// into the span so "Call Nick at 6pm" cleans to "Call Nick".
func widenPreposition(s string, sp span) span {
	i := sp.start
	for i > 0 && s[i-1] == ' ' {
		i--
	}
	for _, prep := range []string{"at", "on"} {
		j := i - len(prep)
		if j >= 0 && strings.EqualFold(s[j:i], prep) && (j == 0 || s[j-1] == ' ') {
			return span{j, sp.end}
		}
	}
	return sp
}

func removeSpans(s string, spans []span) string {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })
	for _, sp := range spans {
		s = s[:sp.start] + " " + s[sp.end:]
	}
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, " ,-")
}
