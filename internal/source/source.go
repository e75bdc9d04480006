// Package source provides the data sources the agents query: a web
// analytics reporting API and a tabular snapshot of a site crawl. Every call
// fetches live data; nothing is cached between requests.
package source

import (
	"context"

	"github.com/dusk-indust/querydesk/internal/fault"
	"github.com/dusk-indust/querydesk/internal/table"
)

// DateRange is an inclusive reporting window in YYYY-MM-DD form.
type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// ReportRequest is a validated analytics report request.
type ReportRequest struct {
	DateRanges []DateRange
	Dimensions []string
	Metrics    []string
	Limit      int
}

// Analytics runs reports against a web analytics property.
type Analytics interface {
	// RunReport returns the report rows with dimension columns first, then
	// metric columns. A request the provider rejects as invalid yields a
	// fault.SourceRejection error carrying the provider's message.
	RunReport(ctx context.Context, propertyID string, req ReportRequest) (table.Table, error)
}

// Table returns a fresh snapshot of the crawl table.
type Table interface {
	Snapshot(ctx context.Context) (table.Table, error)
}

// UnconfiguredAnalytics fails every report as unavailable. It stands in when
// no credentials are configured so that requests fail fast instead of
// consuming repair attempts.
type UnconfiguredAnalytics struct{}

// Compile-time check.
var _ Analytics = UnconfiguredAnalytics{}

// RunReport always returns a fault.Unavailable error.
func (UnconfiguredAnalytics) RunReport(context.Context, string, ReportRequest) (table.Table, error) {
	return table.Table{}, fault.New(fault.Unavailable, "source.run_report", "analytics credentials are not configured")
}

// UnconfiguredTable fails every snapshot as unavailable.
type UnconfiguredTable struct{}

// Compile-time check.
var _ Table = UnconfiguredTable{}

// Snapshot always returns a fault.Unavailable error.
func (UnconfiguredTable) Snapshot(context.Context) (table.Table, error) {
	return table.Table{}, fault.New(fault.Unavailable, "source.snapshot", "table source is not configured")
}

// Static is a Table that returns a fixed snapshot. Each call returns a copy.
type Static struct {
	Data table.Table
}

// Compile-time check.
var _ Table = Static{}

// Snapshot returns a copy of s.Data.
func (s Static) Snapshot(context.Context) (table.Table, error) {
	return s.Data.Clone(), nil
}
