package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/dusk-indust/querydesk/internal/oracle"
	"github.com/dusk-indust/querydesk/internal/repair"
	"github.com/dusk-indust/querydesk/internal/table"
)

// previewRows bounds the rows shown to the oracle for answer synthesis.
const previewRows = 10

// Options configures the shared behavior of agents.
type Options struct {
	// MaxAttempts bounds the repair loop; zero means repair.DefaultMaxAttempts.
	MaxAttempts int

	// Logger receives structured logs; nil discards them.
	Logger *zap.Logger

	// Now returns the reference time for relative dates; nil means time.Now.
	Now func() time.Time
}

// base holds what every specialist agent needs: the oracle, the loop budget,
// and answer synthesis. Specialists embed it.
type base struct {
	oracle      oracle.TextOracle
	maxAttempts int
	logger      *zap.Logger
	now         func() time.Time
}

func newBase(o oracle.TextOracle, opts Options, role Role) base {
	b := base{
		oracle:      o,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if b.oracle == nil {
		b.oracle = oracle.Unconfigured{}
	}
	if b.maxAttempts <= 0 {
		b.maxAttempts = repair.DefaultMaxAttempts
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	b.logger = b.logger.Named(string(role))
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// synthesize asks the oracle for a natural language answer over the first
// rows of t. An oracle failure degrades to a deterministic summary.
func (b *base) synthesize(ctx context.Context, query string, t table.Table, source string) string {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.synthesize")
	defer span.End()

	prompt := fmt.Sprintf(`You are a data analyst.
User question: %q
%s data (%s):
%s

Answer the question clearly and concisely from this data. Mention the total
number of rows when it matters. If the data compares periods, give the
percentage change.`, query, source, rowsLabel(t), previewJSON(t, previewRows))

	answer, err := b.oracle.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(answer) == "" {
		if err != nil {
			span.RecordError(err)
			b.logger.Warn("answer synthesis failed, using summary", zap.Error(err))
		}
		return summarize(t)
	}
	return strings.TrimSpace(answer)
}

func rowsLabel(t table.Table) string {
	if t.Len() > previewRows {
		return fmt.Sprintf("first %d of %d rows", previewRows, t.Len())
	}
	return fmt.Sprintf("%d rows", t.Len())
}

// summarize describes t without the oracle.
func summarize(t table.Table) string {
	noun := "rows"
	if t.Len() == 1 {
		noun = "row"
	}
	return fmt.Sprintf("Found %d %s with columns: %s.", t.Len(), noun, strings.Join(t.Headers, ", "))
}

// previewJSON renders the first n rows of t as JSON for a prompt.
func previewJSON(t table.Table, n int) string {
	b, err := json.MarshalIndent(t.Head(n).Rows, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

type dataOnlyKey struct{}

// WithDataOnly marks ctx so agents skip answer synthesis; callers that only
// want rows avoid the extra oracle call.
func WithDataOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, dataOnlyKey{}, true)
}

// DataOnly reports whether ctx was marked by WithDataOnly.
func DataOnly(ctx context.Context) bool {
	v, _ := ctx.Value(dataOnlyKey{}).(bool)
	return v
}

const tracerName = "github.com/dusk-indust/querydesk/internal/agent"
