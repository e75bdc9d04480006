package orchestrator

import (
	"context"
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/querydesk/internal/agent"
	"github.com/dusk-indust/querydesk/internal/fault"
	"github.com/dusk-indust/querydesk/internal/fusion"
	"github.com/dusk-indust/querydesk/internal/oracle"
	"github.com/dusk-indust/querydesk/internal/table"
)

// mockAgent is an agent.Agent that records its calls.
type mockAgent struct {
	role     agent.Role
	calls    int
	dataOnly bool
	scope    string
	handleFn func(query string) (*agent.Result, error)
}

func (m *mockAgent) Role() agent.Role { return m.role }

func (m *mockAgent) Handle(ctx context.Context, query, scope string) (*agent.Result, error) {
	m.calls++
	m.dataOnly = agent.DataOnly(ctx)
	m.scope = scope
	return m.handleFn(query)
}

// mockFuser is a FusionRunner with a function field.
type mockFuser struct {
	calls  int
	fuseFn func(query, scope string) (*fusion.Outcome, error)
}

func (m *mockFuser) Fuse(_ context.Context, query, scope string) (*fusion.Outcome, error) {
	m.calls++
	return m.fuseFn(query, scope)
}

var urls = table.New([]string{"Address"}, []table.Row{{"Address": "https://a.com/"}, {"Address": "https://a.com/x"}})

func answering(role agent.Role, answer string, steps int) *mockAgent {
	return &mockAgent{role: role, handleFn: func(string) (*agent.Result, error) {
		return &agent.Result{Answer: answer, Table: urls, Steps: steps, Final: "return rows"}, nil
	}}
}

func label(l string) oracle.Func {
	return func(context.Context, string) (string, error) { return l, nil }
}

func TestRoute_OracleClassification(t *testing.T) {
	tests := []struct {
		reply string
		want  Intent
	}{
		{"analytics", IntentAnalytics},
		{"Table.", IntentTable},
		{"seo", IntentTable},
		{"`fusion`", IntentFusion},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			a := answering(agent.RoleAnalytics, "a", 1)
			tb := answering(agent.RoleTable, "t", 1)
			fu := &mockFuser{fuseFn: func(string, string) (*fusion.Outcome, error) { return &fusion.Outcome{}, nil }}
			o := New(WithOracle(label(tt.reply)), WithAgents(agent.NewRegistry(a, tb)), WithFuser(fu))

			resp, err := o.Route(context.Background(), Query{Text: "anything at all", ScopeID: "123"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Meta.Intent)
		})
	}
}

func TestRoute_StepsIncludeClassification(t *testing.T) {
	tb := answering(agent.RoleTable, "There are 2 URLs.", 2)
	o := New(WithOracle(label("table")), WithAgents(agent.NewRegistry(tb)))

	resp, err := o.Route(context.Background(), Query{Text: "How many URLs in total?"})
	require.NoError(t, err)
	assert.Equal(t, "There are 2 URLs.", resp.Answer)
	require.NotNil(t, resp.Data)
	assert.Len(t, resp.Data.Rows, 2)
	assert.Equal(t, 3, resp.Meta.Steps)
	assert.Equal(t, "return rows", resp.Meta.Final)
}

func TestRoute_FallsBackToKeywordsWhenOracleFails(t *testing.T) {
	tb := answering(agent.RoleTable, "t", 1)
	o := New(WithOracle(oracle.Unconfigured{}), WithAgents(agent.NewRegistry(tb)))

	resp, err := o.Route(context.Background(), Query{Text: "Which URLs return status code 404?"})
	require.NoError(t, err)
	assert.Equal(t, IntentTable, resp.Meta.Intent)
	assert.Equal(t, 1, tb.calls)
}

func TestRoute_FallsBackOnUnknownLabel(t *testing.T) {
	a := answering(agent.RoleAnalytics, "a", 1)
	o := New(WithOracle(label("I think this is about traffic")), WithAgents(agent.NewRegistry(a)))

	resp, err := o.Route(context.Background(), Query{Text: "How many sessions last week?", ScopeID: "123"})
	require.NoError(t, err)
	assert.Equal(t, IntentAnalytics, resp.Meta.Intent)
	assert.Equal(t, "123", a.scope)
}

func TestRoute_ScopeRequired(t *testing.T) {
	for _, l := range []string{"analytics", "fusion"} {
		t.Run(l, func(t *testing.T) {
			a := answering(agent.RoleAnalytics, "a", 1)
			o := New(WithOracle(label(l)), WithAgents(agent.NewRegistry(a)))

			resp, err := o.Route(context.Background(), Query{Text: "sessions by page"})
			require.Error(t, err)
			assert.Equal(t, fault.InvalidRequest, fault.KindOf(err))
			assert.Equal(t, 1, resp.Meta.Steps)
			assert.Zero(t, a.calls)
		})
	}
}

func TestRoute_EmptyQuery(t *testing.T) {
	_, err := New().Route(context.Background(), Query{Text: "   "})
	assert.Equal(t, fault.InvalidRequest, fault.KindOf(err))
}

func TestRoute_JSONRequestSkipsAnswer(t *testing.T) {
	tb := answering(agent.RoleTable, "", 1)
	o := New(WithOracle(label("table")), WithAgents(agent.NewRegistry(tb)))

	resp, err := o.Route(context.Background(), Query{Text: "list all URLs as JSON"})
	require.NoError(t, err)
	assert.True(t, tb.dataOnly)
	assert.Empty(t, resp.Answer)
	assert.NotNil(t, resp.Data)
}

func TestRoute_AgentFailureKeepsSteps(t *testing.T) {
	tb := &mockAgent{role: agent.RoleTable, handleFn: func(string) (*agent.Result, error) {
		return &agent.Result{Steps: 3, Final: "return nil"},
			fault.New(fault.Execution, "repair.table", "gave up after 3 attempts")
	}}
	o := New(WithOracle(label("table")), WithAgents(agent.NewRegistry(tb)))

	resp, err := o.Route(context.Background(), Query{Text: "titles"})
	require.Error(t, err)
	assert.Equal(t, fault.Execution, fault.KindOf(err))
	assert.Equal(t, 4, resp.Meta.Steps)
	assert.Equal(t, "return nil", resp.Meta.Final)
	assert.Nil(t, resp.Data)
}

func TestRoute_MissingAgentIsUnavailable(t *testing.T) {
	o := New(WithOracle(label("table")))

	_, err := o.Route(context.Background(), Query{Text: "titles"})
	assert.Equal(t, fault.Unavailable, fault.KindOf(err))
}

func TestRoute_Fusion(t *testing.T) {
	left := table.New([]string{"pagePath", "views"}, []table.Row{{"pagePath": "/x", "views": int64(3)}})
	fu := &mockFuser{fuseFn: func(query, scope string) (*fusion.Outcome, error) {
		assert.Equal(t, "123", scope)
		out := &fusion.Outcome{Answer: "partial", Steps: 2, Final: "analytics: {}", Missing: []agent.Role{agent.RoleTable}}
		out.FusedResult = fusion.Join(left, table.Table{}, fusion.JoinOptions{})
		out.RightMissing = "table data not available"
		return out, nil
	}}
	o := New(WithOracle(label("fusion")), WithFuser(fu))

	resp, err := o.Route(context.Background(), Query{Text: "views and titles", ScopeID: "123"})
	require.NoError(t, err)
	assert.Equal(t, IntentFusion, resp.Meta.Intent)
	assert.Equal(t, "partial", resp.Answer)
	assert.Equal(t, 3, resp.Meta.Steps)
	assert.Equal(t, []string{"table"}, resp.Meta.Missing)
	require.NotNil(t, resp.Data)
	assert.Equal(t, left.Rows, resp.Data.Rows)
	require.NotNil(t, resp.Meta.Fusion)
	assert.Equal(t, left.Rows, resp.Meta.Fusion.UnmatchedLeft.Rows)
}

func TestRoute_FusionFailure(t *testing.T) {
	fu := &mockFuser{fuseFn: func(string, string) (*fusion.Outcome, error) {
		return nil, fault.New(fault.Decomposition, "fusion.decompose", "decomposition_failed")
	}}
	o := New(WithOracle(label("fusion")), WithFuser(fu))

	resp, err := o.Route(context.Background(), Query{Text: "views and titles", ScopeID: "123"})
	assert.Equal(t, fault.Decomposition, fault.KindOf(err))
	assert.Equal(t, 1, resp.Meta.Steps)
}

func TestRoute_EmitsProgress(t *testing.T) {
	pr := NewProgressReporter()
	tb := answering(agent.RoleTable, "t", 1)
	o := New(WithOracle(label("table")), WithAgents(agent.NewRegistry(tb)), WithProgress(pr))

	_, err := o.Route(context.Background(), Query{Text: "titles"})
	require.NoError(t, err)
	pr.Close()

	var sections []string
	for ev := range pr.Subscribe() {
		sections = append(sections, ev.Section+":"+string(ev.Status))
	}
	assert.Equal(t, []string{"intent:working", "intent:complete", "table:working", "table:complete"}, sections)
}

func TestRoute_ContextProgress(t *testing.T) {
	shared := NewProgressReporter()
	perRequest := NewProgressReporter()
	tb := answering(agent.RoleTable, "t", 1)
	o := New(WithOracle(label("table")), WithAgents(agent.NewRegistry(tb)), WithProgress(shared))

	_, err := o.Route(ContextWithProgress(context.Background(), perRequest), Query{Text: "titles"})
	require.NoError(t, err)
	shared.Close()
	perRequest.Close()

	count := func(pr *ProgressReporter) int {
		n := 0
		for range pr.Subscribe() {
			n++
		}
		return n
	}
	assert.Equal(t, 4, count(shared))
	assert.Equal(t, 4, count(perRequest))
}

func TestClassifyByKeywords(t *testing.T) {
	tests := []struct {
		query    string
		hasScope bool
		want     Intent
	}{
		{"How many page views last week?", false, IntentAnalytics},
		{"Which pages are missing a meta description?", false, IntentTable},
		{"Top pages by views with their title tags", true, IntentFusion},
		{"What happened?", true, IntentAnalytics},
		{"What happened?", false, IntentTable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyByKeywords(tt.query, tt.hasScope), tt.query)
	}
}

func TestWantsJSON(t *testing.T) {
	assert.True(t, wantsJSON("Return JSON of top pages"))
	assert.True(t, wantsJSON("give it to me in json format"))
	assert.False(t, wantsJSON("top pages"))
}

func TestParseIntent(t *testing.T) {
	_, ok := parseIntent("")
	assert.False(t, ok)
	got, ok := parseIntent("Fusion: needs both")
	assert.True(t, ok)
	assert.Equal(t, IntentFusion, got)
}

func TestNew_NilOracle(t *testing.T) {
	o := New(WithOracle(nil))
	assert.NotNil(t, o.oracle)
	_, err := o.oracle.Complete(context.Background(), "x")
	assert.True(t, errors.Is(err, oracle.ErrNotConfigured))
}

func TestTruncate_RuneBoundary(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))

	// "é" is two bytes; a cut inside it backs up to the rune start.
	got := truncate("aé", 2)
	assert.Equal(t, "a...", got)
	assert.True(t, utf8.ValidString(got))

	got = truncate("日本語のクエリ", 7)
	assert.Equal(t, "日本...", got)
	assert.True(t, utf8.ValidString(got))
}
