package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/querydesk/internal/source"
)

// refDate is a Saturday.
var refDate = time.Date(2024, time.June, 15, 14, 30, 0, 0, time.UTC)

func TestResolveDateRange(t *testing.T) {
	tests := []struct {
		expr       string
		start, end string
	}{
		{"last 7 days", "2024-06-08", "2024-06-15"},
		{"How many sessions in the past 30 days?", "2024-05-16", "2024-06-15"},
		{"last 2 weeks", "2024-06-01", "2024-06-15"},
		{"last 3 months", "2024-03-15", "2024-06-15"},
		{"yesterday", "2024-06-14", "2024-06-14"},
		{"today", "2024-06-15", "2024-06-15"},
		{"14daysAgo", "2024-06-01", "2024-06-15"},
		{"last week", "2024-06-03", "2024-06-09"},
		{"this week", "2024-06-10", "2024-06-15"},
		{"last month", "2024-05-01", "2024-05-31"},
		{"this month", "2024-06-01", "2024-06-15"},
		{"last quarter", "2024-01-01", "2024-03-31"},
		{"this quarter", "2024-04-01", "2024-06-15"},
		{"users in Q1", "2024-01-01", "2024-03-31"},
		{"Q3 2023", "2023-07-01", "2023-09-30"},
		{"last year", "2023-01-01", "2023-12-31"},
		{"this year", "2024-01-01", "2024-06-15"},
		{"on 2024-02-29", "2024-02-29", "2024-02-29"},
		{"from 2024-01-01 to 2024-01-31", "2024-01-01", "2024-01-31"},
		{"between 2024-03-10 and 2024-03-01", "2024-03-01", "2024-03-10"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, ok := ResolveDateRange(tt.expr, refDate)
			require.True(t, ok)
			assert.Equal(t, source.DateRange{StartDate: tt.start, EndDate: tt.end}, got)
		})
	}
}

func TestResolveDateRange_YesterdayIsSingleDay(t *testing.T) {
	got, ok := ResolveDateRange("What were page views yesterday?", refDate)
	require.True(t, ok)
	assert.Equal(t, got.StartDate, got.EndDate)
}

func TestResolveDateRange_Unrecognized(t *testing.T) {
	_, ok := ResolveDateRange("top pages by views", refDate)
	assert.False(t, ok)
}

func TestResolveDate(t *testing.T) {
	tests := []struct {
		expr string
		want string
		ok   bool
	}{
		{"today", "2024-06-15", true},
		{"Yesterday", "2024-06-14", true},
		{"7daysAgo", "2024-06-08", true},
		{"2023-12-01", "2023-12-01", true},
		{"the other day", "2024-06-15", false},
		{"", "2024-06-15", false},
	}
	for _, tt := range tests {
		got, ok := ResolveDate(tt.expr, refDate)
		assert.Equal(t, tt.want, got, tt.expr)
		assert.Equal(t, tt.ok, ok, tt.expr)
	}
}

func TestDefaultDateRange(t *testing.T) {
	assert.Equal(t, source.DateRange{StartDate: "2024-06-08", EndDate: "2024-06-15"}, DefaultDateRange(refDate))
}
