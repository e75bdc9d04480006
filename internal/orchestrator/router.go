package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dusk-indust/querydesk/internal/agent"
	"github.com/dusk-indust/querydesk/internal/fault"
	"github.com/dusk-indust/querydesk/internal/fusion"
	"github.com/dusk-indust/querydesk/internal/oracle"
)

// Orchestrator classifies queries and dispatches them. It holds no
// per-request state and is safe for concurrent use.
type Orchestrator struct {
	oracle   oracle.TextOracle
	agents   *agent.Registry
	fuser    FusionRunner
	logger   *zap.Logger
	progress *ProgressReporter
}

// New creates an Orchestrator.
func New(opts ...Option) *Orchestrator {
	r := &Orchestrator{
		oracle: oracle.Unconfigured{},
		agents: agent.NewRegistry(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.oracle == nil {
		r.oracle = oracle.Unconfigured{}
	}
	return r
}

// Route answers q. On failure the returned Response still carries the
// steps taken and the last program or parameters, when any.
func (r *Orchestrator) Route(ctx context.Context, q Query) (*Response, error) {
	const op = "orchestrator.route"
	ctx, span := otel.Tracer(tracerName).Start(ctx, op)
	defer span.End()

	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fault.New(fault.InvalidRequest, op, "query is required")
	}
	scope := strings.TrimSpace(q.ScopeID)

	intent := r.classify(ctx, text, scope != "")
	span.SetAttributes(attribute.String("query.intent", string(intent)))
	logger := r.logger.With(zap.String("intent", string(intent)))
	logger.Info("routing query", zap.String("query", truncate(text, 100)))

	resp := &Response{Meta: Meta{Steps: 1, Intent: intent}}
	if intent.NeedsScope() && scope == "" {
		return resp, fault.New(fault.InvalidRequest, op,
			fmt.Sprintf("a property id (scope_id) is required for %s questions", intent))
	}
	if wantsJSON(text) {
		ctx = agent.WithDataOnly(ctx)
	}

	var err error
	if intent == IntentFusion {
		err = r.routeFusion(ctx, text, scope, resp)
	} else {
		err = r.routeAgent(ctx, intent, text, scope, resp)
	}
	if err != nil {
		span.RecordError(err)
		logger.Warn("query failed", zap.Error(err), zap.Int("steps", resp.Meta.Steps))
		return resp, err
	}
	logger.Info("query answered", zap.Int("steps", resp.Meta.Steps))
	return resp, nil
}

func (r *Orchestrator) routeAgent(ctx context.Context, intent Intent, text, scope string, resp *Response) error {
	role := agent.RoleTable
	if intent == IntentAnalytics {
		role = agent.RoleAnalytics
	}
	a, err := r.agents.Get(role)
	if err != nil {
		return fault.Wrap(fault.Unavailable, "orchestrator.route", err)
	}

	r.emit(ctx, ProgressEvent{Phase: PhaseAgent, Section: string(role), Status: ProgressWorking})
	res, err := a.Handle(ctx, text, scope)
	if res != nil {
		resp.Meta.Steps += res.Steps
		resp.Meta.Final = res.Final
	}
	if err != nil {
		r.emit(ctx, ProgressEvent{Phase: PhaseAgent, Section: string(role), Status: ProgressFailed, Message: err.Error()})
		return err
	}
	r.emit(ctx, ProgressEvent{Phase: PhaseAgent, Section: string(role), Status: ProgressComplete})

	resp.Answer = res.Answer
	data := res.Table
	resp.Data = &data
	return nil
}

func (r *Orchestrator) routeFusion(ctx context.Context, text, scope string, resp *Response) error {
	if r.fuser == nil {
		return fault.New(fault.Unavailable, "orchestrator.route", "fusion is not configured")
	}

	if pr := progressFrom(ctx); pr != nil && pr != r.progress {
		ctx = fusion.ContextWithEvents(ctx, FusionEvents(pr))
	}
	r.emit(ctx, ProgressEvent{Phase: PhaseFusion, Section: "fusion", Status: ProgressWorking})
	out, err := r.fuser.Fuse(ctx, text, scope)
	if out != nil {
		resp.Meta.Steps += out.Steps
		resp.Meta.Final = out.Final
	}
	if err != nil {
		r.emit(ctx, ProgressEvent{Phase: PhaseFusion, Section: "fusion", Status: ProgressFailed, Message: err.Error()})
		return err
	}
	r.emit(ctx, ProgressEvent{Phase: PhaseFusion, Section: "fusion", Status: ProgressComplete})

	resp.Answer = out.Answer
	data := out.Data()
	resp.Data = &data
	fr := out.FusedResult
	resp.Meta.Fusion = &fr
	for _, side := range out.Missing {
		resp.Meta.Missing = append(resp.Meta.Missing, string(side))
	}
	return nil
}

// classify labels query with the oracle, falling back to keywords when the
// oracle fails or replies with an unknown label. It never fails.
func (r *Orchestrator) classify(ctx context.Context, query string, hasScope bool) Intent {
	const op = "orchestrator.classify"
	ctx, span := otel.Tracer(tracerName).Start(ctx, op)
	defer span.End()
	r.emit(ctx, ProgressEvent{Phase: PhaseClassify, Section: "intent", Status: ProgressWorking})

	intent, err := r.classifyWithOracle(ctx, query, hasScope)
	if err != nil {
		err = fault.Wrap(fault.Classification, op, err)
		span.RecordError(err)
		intent = classifyByKeywords(query, hasScope)
		r.logger.Warn("classification fell back to keywords", zap.Error(err), zap.String("intent", string(intent)))
	}
	r.emit(ctx, ProgressEvent{Phase: PhaseClassify, Section: "intent", Status: ProgressComplete, Message: string(intent)})
	return intent
}

func (r *Orchestrator) classifyWithOracle(ctx context.Context, query string, hasScope bool) (Intent, error) {
	text, err := r.oracle.Complete(ctx, classifyPrompt(query, hasScope))
	if err != nil {
		return "", err
	}
	intent, ok := parseIntent(text)
	if !ok {
		return "", fmt.Errorf("unrecognized label %q", truncate(strings.TrimSpace(text), 40))
	}
	return intent, nil
}

func classifyPrompt(query string, hasScope bool) string {
	return fmt.Sprintf(`You are an intent classifier for a web analytics and website crawl system.

Classify the query into ONE of these categories:
- "analytics": web traffic, users, sessions, page views, traffic sources, GA4 data
- "table": URLs, title tags, meta descriptions, indexability, HTTPS, status codes, technical SEO from the crawl
- "fusion": questions that need BOTH analytics AND crawl data (e.g. "top pages by views with their title tags")

Query: %q
Property ID provided: %t

Respond with ONLY one word: analytics, table, or fusion`, query, hasScope)
}

// parseIntent reads a label from the oracle's reply. "seo" is accepted for
// the table intent.
func parseIntent(text string) (Intent, bool) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return "", false
	}
	switch strings.Trim(fields[0], "\"'`.,:*") {
	case "analytics":
		return IntentAnalytics, true
	case "table", "seo":
		return IntentTable, true
	case "fusion":
		return IntentFusion, true
	default:
		return "", false
	}
}

// emit reports ev to the configured reporter and to the one carried by ctx.
func (r *Orchestrator) emit(ctx context.Context, ev ProgressEvent) {
	if r.progress != nil {
		r.progress.Emit(ev)
	}
	if pr := progressFrom(ctx); pr != nil && pr != r.progress {
		pr.Emit(ev)
	}
}

// truncate shortens s to at most n bytes, cutting at a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

const tracerName = "github.com/dusk-indust/querydesk/internal/orchestrator"
