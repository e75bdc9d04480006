package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	analyticsdata "google.golang.org/api/analyticsdata/v1beta"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dusk-indust/querydesk/internal/fault"
	"github.com/dusk-indust/querydesk/internal/table"
)

// GA4 is an Analytics backed by the Google Analytics Data API.
type GA4 struct {
	svc     *analyticsdata.Service
	timeout time.Duration
	logger  *zap.Logger
}

// Compile-time check.
var _ Analytics = (*GA4)(nil)

// GA4Option configures a GA4 source.
type GA4Option func(*GA4)

// WithReportTimeout bounds each report call.
func WithReportTimeout(d time.Duration) GA4Option {
	return func(g *GA4) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithGA4Logger sets the logger.
func WithGA4Logger(l *zap.Logger) GA4Option {
	return func(g *GA4) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGA4 creates a GA4 source. clientOpts are passed to the API client, e.g.
// option.WithCredentialsFile or, in tests, option.WithEndpoint.
func NewGA4(ctx context.Context, clientOpts []option.ClientOption, opts ...GA4Option) (*GA4, error) {
	svc, err := analyticsdata.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("source: create analytics client: %w", err)
	}
	g := &GA4{svc: svc, timeout: 60 * time.Second, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// RunReport runs a report for propertyID. Provider 400 responses become
// fault.SourceRejection and a call that hits the report timeout is a
// fault.Execution error; authentication, quota, and transport failures become
// fault.Unavailable.
func (g *GA4) RunReport(ctx context.Context, propertyID string, req ReportRequest) (table.Table, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "source.ga4.run_report")
	defer span.End()
	span.SetAttributes(
		attribute.String("ga4.property", propertyID),
		attribute.StringSlice("ga4.metrics", req.Metrics),
		attribute.StringSlice("ga4.dimensions", req.Dimensions),
	)

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	property := propertyID
	if !strings.HasPrefix(property, "properties/") {
		property = "properties/" + property
	}
	resp, err := g.svc.Properties.RunReport(property, toGA4Request(req)).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return table.Table{}, &fault.Error{
				Kind: fault.Execution,
				Op:   "source.ga4.run_report",
				Msg:  fmt.Sprintf("report timed out after %s", g.timeout),
				Err:  err,
			}
		}
		return table.Table{}, classifyGA4Error(err)
	}
	out := fromGA4Response(resp)
	g.logger.Debug("ga4 report",
		zap.String("property", property),
		zap.Int("rows", out.Len()),
	)
	return out, nil
}

func toGA4Request(req ReportRequest) *analyticsdata.RunReportRequest {
	out := &analyticsdata.RunReportRequest{Limit: int64(req.Limit)}
	for _, dr := range req.DateRanges {
		out.DateRanges = append(out.DateRanges, &analyticsdata.DateRange{
			StartDate: dr.StartDate,
			EndDate:   dr.EndDate,
		})
	}
	for _, d := range req.Dimensions {
		out.Dimensions = append(out.Dimensions, &analyticsdata.Dimension{Name: d})
	}
	for _, m := range req.Metrics {
		out.Metrics = append(out.Metrics, &analyticsdata.Metric{Name: m})
	}
	return out
}

func fromGA4Response(resp *analyticsdata.RunReportResponse) table.Table {
	var headers []string
	for _, h := range resp.DimensionHeaders {
		headers = append(headers, h.Name)
	}
	for _, h := range resp.MetricHeaders {
		headers = append(headers, h.Name)
	}

	rows := make([]table.Row, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		row := table.Row{}
		for i, v := range r.DimensionValues {
			if i < len(resp.DimensionHeaders) {
				row[resp.DimensionHeaders[i].Name] = v.Value
			}
		}
		for i, v := range r.MetricValues {
			if i < len(resp.MetricHeaders) {
				row[resp.MetricHeaders[i].Name] = metricValue(v.Value)
			}
		}
		rows = append(rows, row)
	}
	return table.New(headers, rows)
}

// metricValue parses a metric string into int64 or float64, keeping the
// original text when it is not a finite number.
func metricValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}

func classifyGA4Error(err error) error {
	const op = "source.ga4.run_report"
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := gerr.Message
		if msg == "" {
			msg = strings.TrimSpace(gerr.Body)
		}
		if gerr.Code == http.StatusBadRequest {
			return &fault.Error{Kind: fault.SourceRejection, Op: op, Msg: msg, Err: err}
		}
		return &fault.Error{Kind: fault.Unavailable, Op: op, Msg: fmt.Sprintf("HTTP %d: %s", gerr.Code, msg), Err: err}
	}
	return fault.Wrap(fault.Unavailable, op, err)
}

const tracerName = "github.com/dusk-indust/querydesk/internal/source"
