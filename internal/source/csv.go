package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/dusk-indust/querydesk/internal/fault"
	"github.com/dusk-indust/querydesk/internal/table"
)

// CSVTable reads the crawl table from a CSV export. Location is an http(s)
// URL (e.g. a published spreadsheet export) or a local file path.
type CSVTable struct {
	location string
	http     *http.Client
	logger   *zap.Logger
}

// Compile-time check.
var _ Table = (*CSVTable)(nil)

// CSVOption configures a CSVTable.
type CSVOption func(*CSVTable)

// WithFetchTimeout sets the HTTP timeout for a fetch.
func WithFetchTimeout(d time.Duration) CSVOption {
	return func(c *CSVTable) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) CSVOption {
	return func(c *CSVTable) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithCSVLogger sets the logger.
func WithCSVLogger(l *zap.Logger) CSVOption {
	return func(c *CSVTable) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCSVTable creates a CSV table source for location.
func NewCSVTable(location string, opts ...CSVOption) *CSVTable {
	c := &CSVTable{
		location: strings.TrimSpace(location),
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot fetches and decodes the table. An unreachable source or an empty
// export is reported as fault.Unavailable.
func (c *CSVTable) Snapshot(ctx context.Context) (table.Table, error) {
	const op = "source.csv.snapshot"
	ctx, span := otel.Tracer(tracerName).Start(ctx, op)
	defer span.End()

	body, err := c.open(ctx)
	if err != nil {
		span.RecordError(err)
		return table.Table{}, fault.Wrap(fault.Unavailable, op, err)
	}
	defer body.Close()

	t, err := table.ReadCSV(body)
	if err != nil {
		span.RecordError(err)
		return table.Table{}, fault.Wrap(fault.Unavailable, op, err)
	}
	if len(t.Headers) == 0 {
		return table.Table{}, fault.New(fault.Unavailable, op, "table data not available")
	}
	c.logger.Debug("table snapshot", zap.Int("rows", t.Len()), zap.Int("columns", len(t.Headers)))
	return t, nil
}

func (c *CSVTable) open(ctx context.Context) (io.ReadCloser, error) {
	if c.location == "" {
		return nil, fmt.Errorf("source: no table location configured")
	}
	if !strings.HasPrefix(c.location, "http://") && !strings.HasPrefix(c.location, "https://") {
		f, err := os.Open(strings.TrimPrefix(c.location, "file://"))
		if err != nil {
			return nil, fmt.Errorf("source: open table file: %w", err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.location, nil)
	if err != nil {
		return nil, fmt.Errorf("source: create request: %w", err)
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: fetch table: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("source: fetch table: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}
