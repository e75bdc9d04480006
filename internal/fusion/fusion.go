// Package fusion answers questions that need both data sources: it splits the
// question, runs both agents concurrently, joins their tables on a normalized
// URL key, and summarizes the joined rows.
package fusion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dusk-indust/querydesk/internal/agent"
	"github.com/dusk-indust/querydesk/internal/fault"
	"github.com/dusk-indust/querydesk/internal/normalize"
	"github.com/dusk-indust/querydesk/internal/oracle"
	"github.com/dusk-indust/querydesk/internal/table"
)

// summaryRows bounds the joined rows shown to the oracle.
const summaryRows = 10

// rightSuffix renames right columns that collide with analytics columns.
const rightSuffix = "table"

// Outcome is a fused answer.
type Outcome struct {
	FusedResult

	// Answer is the narrative summary; empty when only data was asked for.
	Answer string `json:"answer"`

	SubQueries SubQueries `json:"sub_queries"`

	// Steps is the total number of attempts made by both agents.
	Steps int `json:"steps"`

	// Final lists each side's last program or request parameters.
	Final string `json:"final_params_or_code"`

	// Missing names the sides that failed.
	Missing []agent.Role `json:"missing,omitempty"`
}

// Data returns the table that best represents the outcome: the joined rows,
// or the surviving side's rows when the other side is missing.
func (o *Outcome) Data() table.Table {
	switch {
	case o.RightMissing != "" && o.LeftMissing == "":
		return o.Left
	case o.LeftMissing != "" && o.RightMissing == "":
		return o.Right
	default:
		return o.Joined
	}
}

// Fuser runs fused queries.
type Fuser struct {
	oracle     oracle.TextOracle
	analytics  agent.Agent
	table      agent.Agent
	normalizer normalize.Normalizer
	logger     *zap.Logger
	onEvent    func(Event)
}

// FuserOption configures a Fuser.
type FuserOption func(*Fuser)

// WithNormalizer sets the policy used to derive join keys.
func WithNormalizer(n normalize.Normalizer) FuserOption {
	return func(f *Fuser) { f.normalizer = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) FuserOption {
	return func(f *Fuser) {
		if l != nil {
			f.logger = l.Named("fusion")
		}
	}
}

// WithEventHandler registers a callback for fan-out progress.
func WithEventHandler(fn func(Event)) FuserOption {
	return func(f *Fuser) { f.onEvent = fn }
}

// NewFuser creates a Fuser over an analytics agent (left side) and a table
// agent (right side).
func NewFuser(o oracle.TextOracle, analytics, tbl agent.Agent, opts ...FuserOption) *Fuser {
	f := &Fuser{
		oracle:    o,
		analytics: analytics,
		table:     tbl,
		logger:    zap.NewNop(),
	}
	if f.oracle == nil {
		f.oracle = oracle.Unconfigured{}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fuse answers query using both agents. One failing side yields a partial
// outcome annotated with the missing side; both failing is an Unavailable
// fault carrying both reasons.
func (f *Fuser) Fuse(ctx context.Context, query, scope string) (*Outcome, error) {
	const op = "fusion.fuse"
	ctx, span := otel.Tracer(tracerName).Start(ctx, op)
	defer span.End()

	sq, err := Decompose(ctx, f.oracle, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	f.logger.Debug("decomposed", zap.String("analytics_query", sq.Analytics), zap.String("table_query", sq.Table))

	// Sides return data only; the narrative is produced once over the join.
	sideCtx := agent.WithDataOnly(ctx)
	results := FanOut(sideCtx, []Task{
		{Agent: f.analytics, Query: sq.Analytics, Scope: scope},
		{Agent: f.table, Query: sq.Table},
	}, handlers(ctx, f.onEvent))
	left, right := results[0], results[1]

	out := &Outcome{SubQueries: sq}
	var finals []string
	for _, r := range results {
		if r.Result == nil {
			continue
		}
		out.Steps += r.Result.Steps
		if r.Result.Final != "" {
			finals = append(finals, fmt.Sprintf("%s: %s", r.Side, r.Result.Final))
		}
	}
	out.Final = strings.Join(finals, "\n\n")

	if left.Err != nil && right.Err != nil {
		err := &fault.Error{
			Kind: fault.Unavailable,
			Op:   op,
			Msg:  fmt.Sprintf("both sources failed: analytics: %s; table: %s", left.Err, right.Err),
			Err:  errors.Join(left.Err, right.Err),
		}
		span.RecordError(err)
		return out, err
	}

	var lt, rt table.Table
	if left.Err == nil {
		lt = left.Result.Table
	}
	if right.Err == nil {
		rt = right.Result.Table
	}
	out.FusedResult = Join(lt, rt, JoinOptions{Normalizer: f.normalizer, RightSuffix: rightSuffix})
	if left.Err != nil {
		out.LeftMissing = left.Err.Error()
		out.Missing = append(out.Missing, left.Side)
	}
	if right.Err != nil {
		out.RightMissing = right.Err.Error()
		out.Missing = append(out.Missing, right.Side)
	}
	if out.Partial() {
		f.logger.Warn("partial fusion", zap.Any("missing", out.Missing))
	}
	span.SetAttributes(
		attribute.Int("fusion.joined", out.Joined.Len()),
		attribute.Int("fusion.unmatched_left", out.UnmatchedLeft.Len()),
		attribute.Int("fusion.unmatched_right", out.UnmatchedRight.Len()),
		attribute.Bool("fusion.partial", out.Partial()),
	)

	if agent.DataOnly(ctx) {
		return out, nil
	}
	out.Answer = f.summarize(ctx, query, out)
	return out, nil
}

// summarize asks the oracle once for a narrative. A failure falls back to a
// line of counts.
func (f *Fuser) summarize(ctx context.Context, query string, out *Outcome) string {
	data := out.Data()
	rows, err := json.MarshalIndent(data.Head(summaryRows).Rows, "", "  ")
	if err != nil {
		return describe(out)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `You are a data analyst combining web analytics with a website crawl.
User question: %q
Rows (first %d of %d):
%s
`, query, min(summaryRows, data.Len()), data.Len(), rows)
	fmt.Fprintf(&b, "Joined rows: %d. Analytics rows without a crawl match: %d. Crawl rows without analytics: %d.\n",
		out.Joined.Len(), out.UnmatchedLeft.Len(), out.UnmatchedRight.Len())
	for _, side := range out.Missing {
		fmt.Fprintf(&b, "The %s data is missing because its query failed; say so in the answer.\n", side)
	}
	b.WriteString("Answer the question clearly and concisely from this data.")

	answer, err := f.oracle.Complete(ctx, b.String())
	if err != nil || strings.TrimSpace(answer) == "" {
		if err != nil {
			f.logger.Warn("fusion summary failed", zap.Error(err))
		}
		return describe(out)
	}
	return strings.TrimSpace(answer)
}

// describe summarizes out without the oracle.
func describe(out *Outcome) string {
	s := fmt.Sprintf("Joined %d rows; %d analytics rows and %d crawl rows had no match.",
		out.Joined.Len(), out.UnmatchedLeft.Len(), out.UnmatchedRight.Len())
	for _, side := range out.Missing {
		s += fmt.Sprintf(" The %s query failed.", side)
	}
	return s
}

const tracerName = "github.com/dusk-indust/querydesk/internal/fusion"
