package agent

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dusk-indust/querydesk/internal/fault"
	"github.com/dusk-indust/querydesk/internal/oracle"
	"github.com/dusk-indust/querydesk/internal/repair"
	"github.com/dusk-indust/querydesk/internal/sandbox"
	"github.com/dusk-indust/querydesk/internal/source"
	"github.com/dusk-indust/querydesk/internal/table"
)

// sampleRows is the number of rows shown in the schema prompt.
const sampleRows = 2

// NoMatchAnswer is the answer for a valid program that selected no rows.
const NoMatchAnswer = "No data matched the query criteria."

// TableAgent answers questions about the crawl table by having the oracle
// write a sandboxed program over a fresh snapshot and repairing it on
// failure.
type TableAgent struct {
	base
	source source.Table
	exec   *sandbox.Executor
}

// Compile-time check.
var _ Agent = (*TableAgent)(nil)

// NewTableAgent creates a table agent. A nil exec uses sandbox defaults.
func NewTableAgent(o oracle.TextOracle, src source.Table, exec *sandbox.Executor, opts Options) *TableAgent {
	if src == nil {
		src = source.UnconfiguredTable{}
	}
	b := newBase(o, opts, RoleTable)
	if exec == nil {
		exec = sandbox.New(sandbox.Config{}, b.logger)
	}
	return &TableAgent{base: b, source: src, exec: exec}
}

// Role returns RoleTable.
func (a *TableAgent) Role() Role { return RoleTable }

// Handle answers query. The snapshot is fetched on every call; scope is
// ignored.
func (a *TableAgent) Handle(ctx context.Context, query, _ string) (*Result, error) {
	const op = "agent.table"
	ctx, span := otel.Tracer(tracerName).Start(ctx, op)
	defer span.End()

	data, err := a.source.Snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fault.Wrap(fault.Unavailable, op, err)
	}
	if len(data.Headers) == 0 {
		return nil, fault.New(fault.Unavailable, op, "table data not available")
	}
	span.SetAttributes(attribute.Int("table.rows", data.Len()))

	loop := &repair.Loop[table.Table]{
		Name:        string(RoleTable),
		MaxAttempts: a.maxAttempts,
		Logger:      a.logger,
		Generate: func(ctx context.Context, req repair.Request) (string, error) {
			text, err := a.oracle.Complete(ctx, programPrompt(query, data, req))
			if err != nil {
				return "", err
			}
			return oracle.ExtractBlock(text, "lua"), nil
		},
		Execute: func(ctx context.Context, program string) (table.Table, error) {
			out := a.exec.Execute(ctx, program, data)
			if !out.Success {
				return table.Table{}, out.Error()
			}
			return out.Table, nil
		},
	}

	res := loop.Run(ctx)
	out := &Result{Steps: res.Steps(), Final: res.Program, Attempts: res.Attempts}
	if res.Err != nil {
		span.RecordError(res.Err)
		return out, res.Err
	}

	out.Table = res.Value
	a.logger.Info("program complete", zap.Int("rows", out.Table.Len()), zap.Int("steps", out.Steps))
	if DataOnly(ctx) {
		return out, nil
	}
	if out.Table.Empty() {
		out.Answer = NoMatchAnswer
		return out, nil
	}
	out.Answer = a.synthesize(ctx, query, out.Table, "Crawl")
	return out, nil
}

// programPrompt describes the dataset schema with sample values and asks for
// a program, or for a revision on repair.
func programPrompt(query string, data table.Table, req repair.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You analyze a website crawl table with %d rows.
Columns: %s
Sample rows:
%s

%s

Question: %q
Respond with the Lua program only, in a single lua code block.
`, data.Len(), quoteAll(data.Headers), previewJSON(data, sampleRows), sandbox.Primer, query)
	if req.IsRepair() {
		fmt.Fprintf(&b, "\nThe previous program was:\n```lua\n%s\n```\nIt failed with: %s\nFix the program.\n", req.PriorProgram, req.PriorError)
	}
	return b.String()
}

func quoteAll(ss []string) string {
	q := make([]string, len(ss))
	for i, s := range ss {
		q[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(q, ", ")
}
