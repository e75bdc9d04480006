package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dusk-indust/querydesk/internal/table"
)

// demoRows is the number of rows a demo report returns.
const demoRows = 5

var demoDimensionValues = map[string][]string{
	"pagePath":                   {"/", "/blog", "/pricing", "/about", "/contact"},
	"pagePathPlusQueryString":    {"/", "/blog?page=2", "/pricing", "/about", "/contact"},
	"landingPage":                {"/", "/blog", "/pricing", "/about", "/contact"},
	"country":                    {"United States", "United Kingdom", "Germany", "Canada", "India"},
	"deviceCategory":             {"desktop", "mobile", "tablet", "desktop", "mobile"},
	"sessionSource":              {"google", "(direct)", "bing", "newsletter", "twitter.com"},
	"sessionDefaultChannelGroup": {"Organic Search", "Direct", "Referral", "Email", "Organic Social"},
}

// Demo decorates an Analytics source: reports that come back empty are
// replaced with deterministic sample rows shaped like the request. It is
// meant for demonstrations against properties without traffic.
type Demo struct {
	next   Analytics
	logger *zap.Logger
}

// Compile-time check.
var _ Analytics = (*Demo)(nil)

// WithDemoData wraps next.
func WithDemoData(next Analytics, logger *zap.Logger) *Demo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Demo{next: next, logger: logger}
}

// RunReport delegates to the wrapped source and substitutes sample rows for
// an empty result. Errors pass through unchanged.
func (d *Demo) RunReport(ctx context.Context, propertyID string, req ReportRequest) (table.Table, error) {
	out, err := d.next.RunReport(ctx, propertyID, req)
	if err != nil || !out.Empty() {
		return out, err
	}
	d.logger.Warn("report empty, returning demo data", zap.String("property", propertyID))
	return DemoReport(req), nil
}

// DemoReport builds deterministic sample rows for req.
func DemoReport(req ReportRequest) table.Table {
	headers := append(append([]string(nil), req.Dimensions...), req.Metrics...)
	n := demoRows
	if req.Limit > 0 && req.Limit < n {
		n = req.Limit
	}

	start := time.Now().UTC()
	if len(req.DateRanges) > 0 {
		if t, err := time.Parse(time.DateOnly, req.DateRanges[0].StartDate); err == nil {
			start = t
		}
	}

	rows := make([]table.Row, n)
	for i := range rows {
		row := table.Row{}
		for _, dim := range req.Dimensions {
			row[dim] = demoDimension(dim, i, start)
		}
		for j, m := range req.Metrics {
			row[m] = int64((demoRows-i)*(1000-j*150) / demoRows)
		}
		rows[i] = row
	}
	return table.New(headers, rows)
}

func demoDimension(name string, i int, start time.Time) string {
	if vals, ok := demoDimensionValues[name]; ok {
		return vals[i%len(vals)]
	}
	switch name {
	case "date":
		return start.AddDate(0, 0, i).Format("20060102")
	case "hostName":
		return "www.example.com"
	}
	return fmt.Sprintf("%s %d", name, i+1)
}
