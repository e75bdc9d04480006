package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dusk-indust/querydesk/internal/fault"
	"github.com/dusk-indust/querydesk/internal/oracle"
	"github.com/dusk-indust/querydesk/internal/repair"
	"github.com/dusk-indust/querydesk/internal/source"
	"github.com/dusk-indust/querydesk/internal/table"
)

// Report request limits.
const (
	defaultReportLimit = 10
	maxReportLimit     = 10000
	maxDimensions      = 9
	maxMetrics         = 10
)

// Metrics and Dimensions are the vocabulary offered to the oracle.
var (
	Metrics = []string{
		"activeUsers", "newUsers", "totalUsers",
		"sessions", "screenPageViews", "eventCount",
		"averageSessionDuration", "bounceRate", "engagementRate",
		"itemsViewed", "itemsPurchased", "itemRevenue",
	}
	Dimensions = []string{
		"date", "pagePath", "pagePathPlusQueryString", "landingPage", "pageTitle",
		"sessionDefaultChannelGroup", "deviceCategory", "country", "city",
		"firstUserSource", "sessionSource", "hostName",
		"itemName", "itemId", "itemCategory",
	}
)

// incompatible maps a dimension to the metrics the Data API refuses to report
// against it. Item-scoped dimensions cannot break down session or page
// metrics, and item metrics cannot be split by session attribution.
var incompatible = func() map[string][]string {
	itemDims := []string{"itemName", "itemId", "itemCategory"}
	sessionMetrics := []string{
		"sessions", "newUsers", "screenPageViews",
		"averageSessionDuration", "bounceRate", "engagementRate",
	}
	sessionDims := []string{"landingPage", "sessionDefaultChannelGroup", "sessionSource", "pagePath", "pagePathPlusQueryString", "pageTitle"}
	itemMetrics := []string{"itemsViewed", "itemsPurchased", "itemRevenue"}

	m := map[string][]string{}
	for _, d := range itemDims {
		m[d] = sessionMetrics
	}
	for _, d := range sessionDims {
		m[d] = itemMetrics
	}
	return m
}()

// checkCompatible reports the first dimension and metric pair listed in
// incompatible.
func checkCompatible(dims, metrics []Field) (dim, metric string, ok bool) {
	for _, d := range dims {
		for _, bad := range incompatible[d.Name] {
			for _, m := range metrics {
				if m.Name == bad {
					return d.Name, m.Name, false
				}
			}
		}
	}
	return "", "", true
}

var apiNameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(:[A-Za-z0-9_]+)?$`)

// Field names a dimension or metric.
type Field struct {
	Name string `json:"name"`
}

// ReportParams is the report request the oracle produces from a question.
type ReportParams struct {
	DateRanges []source.DateRange `json:"date_ranges"`
	Dimensions []Field            `json:"dimensions"`
	Metrics    []Field            `json:"metrics"`
	Limit      int                `json:"limit,omitempty"`
}

// Normalize resolves every date bound to YYYY-MM-DD and applies the limit
// default and cap. When no date range is given, one found in query is used,
// falling back to DefaultDateRange.
func (p *ReportParams) Normalize(query string, now time.Time) {
	if len(p.DateRanges) == 0 {
		dr, ok := ResolveDateRange(query, now)
		if !ok {
			dr = DefaultDateRange(now)
		}
		p.DateRanges = []source.DateRange{dr}
	}
	for i, dr := range p.DateRanges {
		p.DateRanges[i] = source.DateRange{
			StartDate: resolveBound(dr.StartDate, now, true),
			EndDate:   resolveBound(dr.EndDate, now, false),
		}
	}
	if p.Limit <= 0 {
		p.Limit = defaultReportLimit
	}
	if p.Limit > maxReportLimit {
		p.Limit = maxReportLimit
	}
}

// resolveBound resolves a single bound, accepting a range phrase such as
// "last week" by taking its start or end.
func resolveBound(expr string, now time.Time, start bool) string {
	if d, ok := ResolveDate(expr, now); ok {
		return d
	}
	if dr, ok := ResolveDateRange(expr, now); ok {
		if start {
			return dr.StartDate
		}
		return dr.EndDate
	}
	if start {
		return DefaultDateRange(now).StartDate
	}
	return DefaultDateRange(now).EndDate
}

// Validate checks the request shape and dimension/metric compatibility
// before it is sent to the source.
func (p ReportParams) Validate() error {
	const op = "agent.analytics.validate"
	if len(p.Metrics) == 0 {
		return fault.New(fault.SourceRejection, op, "at least one metric is required")
	}
	if len(p.Metrics) > maxMetrics {
		return fault.New(fault.SourceRejection, op, fmt.Sprintf("at most %d metrics are allowed, got %d", maxMetrics, len(p.Metrics)))
	}
	if len(p.Dimensions) > maxDimensions {
		return fault.New(fault.SourceRejection, op, fmt.Sprintf("at most %d dimensions are allowed, got %d", maxDimensions, len(p.Dimensions)))
	}
	seen := map[string]bool{}
	for _, f := range append(append([]Field(nil), p.Dimensions...), p.Metrics...) {
		if !apiNameRE.MatchString(f.Name) {
			return fault.New(fault.SourceRejection, op, fmt.Sprintf("%q is not a valid field name", f.Name))
		}
		if seen[f.Name] {
			return fault.New(fault.SourceRejection, op, fmt.Sprintf("field %q is listed twice", f.Name))
		}
		seen[f.Name] = true
	}
	if dim, metric, ok := checkCompatible(p.Dimensions, p.Metrics); !ok {
		return fault.New(fault.SourceRejection, op, fmt.Sprintf("dimension %q is not compatible with metric %q", dim, metric))
	}
	for _, dr := range p.DateRanges {
		if dr.StartDate > dr.EndDate {
			return fault.New(fault.SourceRejection, op, fmt.Sprintf("start date %s is after end date %s", dr.StartDate, dr.EndDate))
		}
	}
	return nil
}

// Request converts p into a source request.
func (p ReportParams) Request() source.ReportRequest {
	req := source.ReportRequest{
		DateRanges: append([]source.DateRange(nil), p.DateRanges...),
		Limit:      p.Limit,
	}
	for _, d := range p.Dimensions {
		req.Dimensions = append(req.Dimensions, d.Name)
	}
	for _, m := range p.Metrics {
		req.Metrics = append(req.Metrics, m.Name)
	}
	return req
}

// AnalyticsAgent answers questions about web analytics by having the oracle
// write a report request, running it, and repairing it on rejection.
type AnalyticsAgent struct {
	base
	source source.Analytics
}

// Compile-time check.
var _ Agent = (*AnalyticsAgent)(nil)

// NewAnalyticsAgent creates an analytics agent.
func NewAnalyticsAgent(o oracle.TextOracle, src source.Analytics, opts Options) *AnalyticsAgent {
	if src == nil {
		src = source.UnconfiguredAnalytics{}
	}
	return &AnalyticsAgent{base: newBase(o, opts, RoleAnalytics), source: src}
}

// Role returns RoleAnalytics.
func (a *AnalyticsAgent) Role() Role { return RoleAnalytics }

// Handle answers query for the property identified by scope.
func (a *AnalyticsAgent) Handle(ctx context.Context, query, scope string) (*Result, error) {
	const op = "agent.analytics"
	ctx, span := otel.Tracer(tracerName).Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("agent.scope", scope))

	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, fault.New(fault.InvalidRequest, op, "a property id (scope_id) is required for analytics questions")
	}

	now := a.now()
	var params ReportParams
	loop := &repair.Loop[table.Table]{
		Name:        string(RoleAnalytics),
		MaxAttempts: a.maxAttempts,
		Logger:      a.logger,
		Generate: func(ctx context.Context, req repair.Request) (string, error) {
			p, err := a.plan(ctx, query, now, req)
			if err != nil {
				return "", err
			}
			params = p
			b, err := json.Marshal(p)
			if err != nil {
				return "", fmt.Errorf("agent: encode report params: %w", err)
			}
			return string(b), nil
		},
		Execute: func(ctx context.Context, program string) (table.Table, error) {
			var p ReportParams
			if err := json.Unmarshal([]byte(program), &p); err != nil {
				return table.Table{}, fmt.Errorf("agent: decode report params: %w", err)
			}
			if err := p.Validate(); err != nil {
				return table.Table{}, err
			}
			return a.source.RunReport(ctx, scope, p.Request())
		},
	}

	res := loop.Run(ctx)
	out := &Result{Steps: res.Steps(), Final: res.Program, Attempts: res.Attempts}
	if res.Err != nil {
		span.RecordError(res.Err)
		return out, res.Err
	}

	out.Table = res.Value
	a.logger.Info("report complete", zap.Int("rows", out.Table.Len()), zap.Int("steps", out.Steps))
	if DataOnly(ctx) {
		return out, nil
	}
	if out.Table.Empty() {
		out.Answer = emptyReportAnswer(query, params)
		return out, nil
	}
	out.Answer = a.synthesize(ctx, query, out.Table, "Analytics")
	return out, nil
}

// plan asks the oracle for report params, or for a revision on repair.
func (a *AnalyticsAgent) plan(ctx context.Context, query string, now time.Time, req repair.Request) (ReportParams, error) {
	text, err := a.oracle.Complete(ctx, reportPrompt(query, now, req))
	if err != nil {
		return ReportParams{}, err
	}
	var p ReportParams
	if err := oracle.DecodeJSON(text, &p); err != nil {
		return ReportParams{}, fmt.Errorf("report params are not valid JSON: %w", err)
	}
	p.Normalize(query, now)
	return p, nil
}

func reportPrompt(query string, now time.Time, req repair.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are an expert Google Analytics 4 Data API developer.
Convert the question into a JSON RunReport request.

Question: %q
Today is %s.

Dates: use YYYY-MM-DD, "today", "yesterday", or "NdaysAgo" (e.g. "7daysAgo").
For "last N days" use start_date "NdaysAgo" and end_date "today".

Valid metrics: %s
Valid dimensions: %s

Respond with JSON only, in this shape:
{"date_ranges": [{"start_date": "...", "end_date": "..."}], "dimensions": [{"name": "..."}], "metrics": [{"name": "..."}], "limit": 10}
`, query, now.Format(time.DateOnly), strings.Join(Metrics, ", "), strings.Join(Dimensions, ", "))
	if req.IsRepair() {
		fmt.Fprintf(&b, "\nThe previous request was:\n%s\nIt failed with: %s\nFix the request.\n", req.PriorProgram, req.PriorError)
	}
	return b.String()
}

func emptyReportAnswer(query string, p ReportParams) string {
	var metrics []string
	for _, m := range p.Metrics {
		metrics = append(metrics, m.Name)
	}
	window := "the requested period"
	if len(p.DateRanges) > 0 {
		window = fmt.Sprintf("%s to %s", p.DateRanges[0].StartDate, p.DateRanges[0].EndDate)
	}
	return fmt.Sprintf(`No analytics data was returned for %q (%s, %s).
The report ran successfully but the property has no rows for this window. Possible reasons:
- the property is new and has no history yet;
- recent data can take 24 to 48 hours to be processed;
- the site received no traffic in this period.`, query, strings.Join(metrics, ", "), window)
}
