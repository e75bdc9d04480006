package agent

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dusk-indust/querydesk/internal/source"
)

var (
	explicitRangeRE = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s*(?:to|until|through|and|-|–)\s*(\d{4}-\d{2}-\d{2})`)
	lastNRE         = regexp.MustCompile(`\b(?:last|past|previous)\s+(\d+)\s+(day|week|month)s?\b`)
	daysAgoRE       = regexp.MustCompile(`\b(\d+)daysago\b`)
	quarterRE       = regexp.MustCompile(`\bq([1-4])(?:\s+(\d{4}))?\b`)
	isoDateRE       = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
)

// ResolveDateRange finds a relative or absolute date expression in expr and
// resolves it against now into explicit YYYY-MM-DD bounds. It reports false
// when expr contains no recognizable expression.
//
// Recognized: "today", "yesterday", "NdaysAgo", "last N days|weeks|months",
// "last week" (the previous Monday to Sunday), "this week", "last month",
// "this month", "last quarter", "this quarter", "Qn", "Qn YYYY",
// "last year", "this year", "YYYY-MM-DD", and "YYYY-MM-DD to YYYY-MM-DD".
func ResolveDateRange(expr string, now time.Time) (source.DateRange, bool) {
	s := strings.ToLower(strings.TrimSpace(expr))
	today := dateOf(now)

	if m := explicitRangeRE.FindStringSubmatch(s); m != nil {
		start, err1 := time.Parse(time.DateOnly, m[1])
		end, err2 := time.Parse(time.DateOnly, m[2])
		if err1 == nil && err2 == nil {
			if end.Before(start) {
				start, end = end, start
			}
			return span(start, end), true
		}
	}
	if m := lastNRE.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "week":
			n *= 7
		case "month":
			return span(today.AddDate(0, -n, 0), today), true
		}
		return span(today.AddDate(0, 0, -n), today), true
	}
	if m := daysAgoRE.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return span(today.AddDate(0, 0, -n), today), true
	}

	switch {
	case strings.Contains(s, "last week") || strings.Contains(s, "previous week"):
		monday := weekStart(today).AddDate(0, 0, -7)
		return span(monday, monday.AddDate(0, 0, 6)), true
	case strings.Contains(s, "this week"):
		return span(weekStart(today), today), true
	case strings.Contains(s, "last month") || strings.Contains(s, "previous month"):
		first := monthStart(today).AddDate(0, -1, 0)
		return span(first, first.AddDate(0, 1, -1)), true
	case strings.Contains(s, "this month"):
		return span(monthStart(today), today), true
	case strings.Contains(s, "last quarter") || strings.Contains(s, "previous quarter"):
		first := quarterStart(today).AddDate(0, -3, 0)
		return span(first, first.AddDate(0, 3, -1)), true
	case strings.Contains(s, "this quarter"):
		return span(quarterStart(today), today), true
	}

	if m := quarterRE.FindStringSubmatch(s); m != nil {
		q, _ := strconv.Atoi(m[1])
		year := today.Year()
		if m[2] != "" {
			year, _ = strconv.Atoi(m[2])
		}
		first := time.Date(year, time.Month(3*(q-1)+1), 1, 0, 0, 0, 0, time.UTC)
		return span(first, first.AddDate(0, 3, -1)), true
	}

	switch {
	case strings.Contains(s, "last year") || strings.Contains(s, "previous year"):
		first := time.Date(today.Year()-1, time.January, 1, 0, 0, 0, 0, time.UTC)
		return span(first, first.AddDate(1, 0, -1)), true
	case strings.Contains(s, "this year"):
		return span(time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), today), true
	case strings.Contains(s, "yesterday"):
		y := today.AddDate(0, 0, -1)
		return span(y, y), true
	case strings.Contains(s, "today"):
		return span(today, today), true
	}

	if m := isoDateRE.FindStringSubmatch(s); m != nil {
		if d, err := time.Parse(time.DateOnly, m[1]); err == nil {
			return span(d, d), true
		}
	}
	return source.DateRange{}, false
}

// DefaultDateRange is the window used when a request names none: seven days
// ago through today.
func DefaultDateRange(now time.Time) source.DateRange {
	today := dateOf(now)
	return span(today.AddDate(0, 0, -7), today)
}

// ResolveDate resolves a single date bound ("today", "yesterday",
// "NdaysAgo", or YYYY-MM-DD) to YYYY-MM-DD. It reports false, with today's
// date, for anything else.
func ResolveDate(expr string, now time.Time) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(expr))
	today := dateOf(now)
	switch s {
	case "today":
		return today.Format(time.DateOnly), true
	case "yesterday":
		return today.AddDate(0, 0, -1).Format(time.DateOnly), true
	}
	if m := daysAgoRE.FindStringSubmatch(s); m != nil && m[0] == s {
		n, _ := strconv.Atoi(m[1])
		return today.AddDate(0, 0, -n).Format(time.DateOnly), true
	}
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d.Format(time.DateOnly), true
	}
	return today.Format(time.DateOnly), false
}

func span(start, end time.Time) source.DateRange {
	return source.DateRange{
		StartDate: start.Format(time.DateOnly),
		EndDate:   end.Format(time.DateOnly),
	}
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func weekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func quarterStart(t time.Time) time.Time {
	m := time.Month(3*((int(t.Month())-1)/3) + 1)
	return time.Date(t.Year(), m, 1, 0, 0, 0, 0, time.UTC)
}
