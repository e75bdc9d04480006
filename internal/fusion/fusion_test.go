package fusion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/querydesk/internal/agent"
	"github.com/dusk-indust/querydesk/internal/fault"
	"github.com/dusk-indust/querydesk/internal/normalize"
	"github.com/dusk-indust/querydesk/internal/oracle"
	"github.com/dusk-indust/querydesk/internal/table"
)

// mockAgent is an agent.Agent with a function field.
type mockAgent struct {
	role     agent.Role
	handleFn func(ctx context.Context, query, scope string) (*agent.Result, error)
}

func (m *mockAgent) Role() agent.Role { return m.role }

func (m *mockAgent) Handle(ctx context.Context, query, scope string) (*agent.Result, error) {
	return m.handleFn(ctx, query, scope)
}

func returning(role agent.Role, t table.Table, steps int) *mockAgent {
	return &mockAgent{role: role, handleFn: func(context.Context, string, string) (*agent.Result, error) {
		return &agent.Result{Table: t, Steps: steps, Final: string(role) + "-final"}, nil
	}}
}

func failing(role agent.Role, err error) *mockAgent {
	return &mockAgent{role: role, handleFn: func(context.Context, string, string) (*agent.Result, error) {
		return &agent.Result{Steps: 3}, err
	}}
}

const decomposed = `{"analytics_query": "views per page", "table_query": "title per url"}`

// scriptedOracle answers decomposition prompts with decomposition and every
// other prompt with summary.
func scriptedOracle(decomposition, summary string, summaryErr error) oracle.Func {
	return func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Split the question") {
			return decomposition, nil
		}
		return summary, summaryErr
	}
}

var (
	views  = table.New([]string{"url", "views"}, []table.Row{{"url": "a.com/x", "views": int64(10)}})
	titles = table.New([]string{"address", "title"}, []table.Row{{"address": "https://a.com/x/", "title": "T"}})
)

func TestJoin_MatchesNormalizedKeys(t *testing.T) {
	res := Join(views, titles, JoinOptions{})

	require.Equal(t, 1, res.Joined.Len())
	assert.Equal(t, []string{KeyColumn, "url", "views", "address", "title"}, res.Joined.Headers)
	row := res.Joined.Rows[0]
	assert.Equal(t, "a.com/x", row[KeyColumn])
	assert.Equal(t, int64(10), row["views"])
	assert.Equal(t, "T", row["title"])
	assert.Empty(t, res.UnmatchedLeft.Rows)
	assert.Empty(t, res.UnmatchedRight.Rows)
	assert.False(t, res.PathOnly)
}

func TestJoin_UnmatchedRowsPreservedInOrder(t *testing.T) {
	left := table.New([]string{"url", "views"}, []table.Row{
		{"url": "a.com/1", "views": 1},
		{"url": "a.com/2", "views": 2},
		{"url": "a.com/3", "views": 3},
	})
	right := table.New([]string{"Address", "Title 1"}, []table.Row{
		{"Address": "https://a.com/4", "Title 1": "four"},
		{"Address": "https://a.com/2", "Title 1": "two"},
		{"Address": "https://a.com/5", "Title 1": "five"},
	})

	res := Join(left, right, JoinOptions{})

	require.Equal(t, 1, res.Joined.Len())
	assert.Equal(t, "two", res.Joined.Rows[0]["Title 1"])
	assert.Equal(t, []table.Row{left.Rows[0], left.Rows[2]}, res.UnmatchedLeft.Rows)
	assert.Equal(t, []table.Row{right.Rows[0], right.Rows[2]}, res.UnmatchedRight.Rows)
	assert.Equal(t, left.Len()+right.Len(), 2*res.Joined.Len()+res.UnmatchedLeft.Len()+res.UnmatchedRight.Len())
}

func TestJoin_DuplicateRightKeys(t *testing.T) {
	right := table.New([]string{"Address", "title"}, []table.Row{
		{"Address": "https://a.com/x", "title": "first"},
		{"Address": "http://A.com/x/", "title": "second"},
	})

	res := Join(views, right, JoinOptions{})

	require.Equal(t, 1, res.Joined.Len())
	assert.Equal(t, "first", res.Joined.Rows[0]["title"])
	assert.Equal(t, []table.Row{right.Rows[1]}, res.UnmatchedRight.Rows)
}

func TestJoin_CollidingColumnsRenamed(t *testing.T) {
	left := table.New([]string{"url", "title"}, []table.Row{{"url": "a.com/x", "title": "GA title"}})
	right := table.New([]string{"url", "title"}, []table.Row{{"url": "https://a.com/x", "title": "Crawl title"}})

	res := Join(left, right, JoinOptions{RightSuffix: "table"})

	require.Equal(t, 1, res.Joined.Len())
	assert.Equal(t, []string{KeyColumn, "url", "title", "url_table", "title_table"}, res.Joined.Headers)
	row := res.Joined.Rows[0]
	assert.Equal(t, "GA title", row["title"])
	assert.Equal(t, "Crawl title", row["title_table"])
}

func TestJoin_PathOnlyWhenOneSideHasNoHost(t *testing.T) {
	left := table.New([]string{"pagePath", "screenPageViews"}, []table.Row{
		{"pagePath": "/blog/", "screenPageViews": 7},
		{"pagePath": "/", "screenPageViews": 9},
	})
	right := table.New([]string{"Address"}, []table.Row{
		{"Address": "https://www.a.com/blog"},
		{"Address": "https://www.a.com/"},
	})

	res := Join(left, right, JoinOptions{})

	assert.True(t, res.PathOnly)
	require.Equal(t, 2, res.Joined.Len())
	assert.Equal(t, "/blog", res.Joined.Rows[0][KeyColumn])
	assert.Equal(t, "/", res.Joined.Rows[1][KeyColumn])
}

func TestJoin_FoldPathCasePolicy(t *testing.T) {
	left := table.New([]string{"url"}, []table.Row{{"url": "a.com/About"}})
	right := table.New([]string{"Address"}, []table.Row{{"Address": "https://a.com/about"}})

	assert.Equal(t, 0, Join(left, right, JoinOptions{}).Joined.Len())
	folded := Join(left, right, JoinOptions{Normalizer: normalize.Normalizer{Policy: normalize.Policy{FoldPathCase: true}}})
	assert.Equal(t, 1, folded.Joined.Len())
}

func TestJoin_NoKeyColumn(t *testing.T) {
	right := table.New([]string{"Title 1"}, []table.Row{{"Title 1": "x"}})

	res := Join(views, right, JoinOptions{})

	assert.Equal(t, "url", res.LeftKey)
	assert.Equal(t, "", res.RightKey)
	assert.Empty(t, res.Joined.Rows)
	assert.Equal(t, views.Rows, res.UnmatchedLeft.Rows)
	assert.Equal(t, right.Rows, res.UnmatchedRight.Rows)
}

func TestDecompose(t *testing.T) {
	sq, err := Decompose(context.Background(), scriptedOracle(decomposed, "", nil), "q")
	require.NoError(t, err)
	assert.Equal(t, SubQueries{Analytics: "views per page", Table: "title per url"}, sq)
}

func TestDecompose_SEOAlias(t *testing.T) {
	o := scriptedOracle(`{"analytics_query": "a", "seo_query": "b"}`, "", nil)
	sq, err := Decompose(context.Background(), o, "q")
	require.NoError(t, err)
	assert.Equal(t, "b", sq.Table)
}

func TestDecompose_Failures(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"one question", `{"analytics_query": "views per page"}`},
		{"blank question", `{"analytics_query": "a", "table_query": "  "}`},
		{"not json", "I cannot split this."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decompose(context.Background(), scriptedOracle(tt.reply, "", nil), "q")
			require.Error(t, err)
			assert.Equal(t, fault.Decomposition, fault.KindOf(err))
			assert.Contains(t, err.Error(), "decomposition_failed")
		})
	}
}

func TestDecompose_UnconfiguredOracleIsUnavailable(t *testing.T) {
	_, err := Decompose(context.Background(), oracle.Unconfigured{}, "q")
	assert.Equal(t, fault.Unavailable, fault.KindOf(err))
}

func TestFuse_JoinsAndSummarizes(t *testing.T) {
	var queries sync.Map
	a := &mockAgent{role: agent.RoleAnalytics, handleFn: func(ctx context.Context, q, scope string) (*agent.Result, error) {
		queries.Store("analytics", q+"|"+scope)
		assert.True(t, agent.DataOnly(ctx))
		return &agent.Result{Table: views, Steps: 1, Final: "{}"}, nil
	}}
	tb := &mockAgent{role: agent.RoleTable, handleFn: func(_ context.Context, q, _ string) (*agent.Result, error) {
		queries.Store("table", q)
		return &agent.Result{Table: titles, Steps: 2, Final: "return rows"}, nil
	}}
	f := NewFuser(scriptedOracle(decomposed, "Page /x has 10 views and title T.", nil), a, tb)

	out, err := f.Fuse(context.Background(), "views and titles per page", "123")
	require.NoError(t, err)

	q, _ := queries.Load("analytics")
	assert.Equal(t, "views per page|123", q)
	q, _ = queries.Load("table")
	assert.Equal(t, "title per url", q)
	assert.Equal(t, "Page /x has 10 views and title T.", out.Answer)
	assert.Equal(t, 3, out.Steps)
	assert.Contains(t, out.Final, "analytics: {}")
	assert.Contains(t, out.Final, "table: return rows")
	assert.Equal(t, 1, out.Data().Len())
	assert.False(t, out.Partial())
	assert.Empty(t, out.Missing)
}

func TestFuse_PartialWhenTableSideFails(t *testing.T) {
	f := NewFuser(scriptedOracle(decomposed, "partial answer", nil),
		returning(agent.RoleAnalytics, views, 1),
		failing(agent.RoleTable, fault.New(fault.Unavailable, "source", "table data not available")))

	out, err := f.Fuse(context.Background(), "q", "123")
	require.NoError(t, err)

	assert.True(t, out.Partial())
	assert.Contains(t, out.RightMissing, "table data not available")
	assert.Empty(t, out.LeftMissing)
	assert.Equal(t, []agent.Role{agent.RoleTable}, out.Missing)
	assert.Equal(t, views.Rows, out.UnmatchedLeft.Rows)
	assert.Empty(t, out.UnmatchedRight.Rows)
	assert.Empty(t, out.Joined.Rows)
	assert.Equal(t, views.Rows, out.Data().Rows)
	assert.Equal(t, 4, out.Steps)
}

func TestFuse_PartialWhenAnalyticsSideFails(t *testing.T) {
	f := NewFuser(scriptedOracle(decomposed, "partial answer", nil),
		failing(agent.RoleAnalytics, errors.New("quota exceeded")),
		returning(agent.RoleTable, titles, 1))

	out, err := f.Fuse(context.Background(), "q", "123")
	require.NoError(t, err)
	assert.Equal(t, []agent.Role{agent.RoleAnalytics}, out.Missing)
	assert.Equal(t, titles.Rows, out.Data().Rows)
}

func TestFuse_BothSidesFail(t *testing.T) {
	f := NewFuser(scriptedOracle(decomposed, "", nil),
		failing(agent.RoleAnalytics, errors.New("quota exceeded")),
		failing(agent.RoleTable, errors.New("csv unreachable")))

	out, err := f.Fuse(context.Background(), "q", "123")
	require.Error(t, err)
	assert.Equal(t, fault.Unavailable, fault.KindOf(err))
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Contains(t, err.Error(), "csv unreachable")
	require.NotNil(t, out)
	assert.Equal(t, 6, out.Steps)
}

func TestFuse_DecompositionFailureSkipsAgents(t *testing.T) {
	called := false
	a := &mockAgent{role: agent.RoleAnalytics, handleFn: func(context.Context, string, string) (*agent.Result, error) {
		called = true
		return &agent.Result{}, nil
	}}
	f := NewFuser(scriptedOracle(`{"analytics_query": "only one"}`, "", nil), a, a)

	_, err := f.Fuse(context.Background(), "q", "123")
	assert.Equal(t, fault.Decomposition, fault.KindOf(err))
	assert.False(t, called)
}

func TestFuse_SummaryFailureDegrades(t *testing.T) {
	f := NewFuser(scriptedOracle(decomposed, "", errors.New("oracle down")),
		returning(agent.RoleAnalytics, views, 1),
		returning(agent.RoleTable, titles, 1))

	out, err := f.Fuse(context.Background(), "q", "123")
	require.NoError(t, err)
	assert.Equal(t, "Joined 1 rows; 0 analytics rows and 0 crawl rows had no match.", out.Answer)
	assert.Equal(t, 1, out.Joined.Len())
}

func TestFuse_DataOnlySkipsSummary(t *testing.T) {
	summaries := 0
	o := oracle.Func(func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Split the question") {
			return decomposed, nil
		}
		summaries++
		return "narrative", nil
	})
	f := NewFuser(o, returning(agent.RoleAnalytics, views, 1), returning(agent.RoleTable, titles, 1))

	out, err := f.Fuse(agent.WithDataOnly(context.Background()), "q", "123")
	require.NoError(t, err)
	assert.Empty(t, out.Answer)
	assert.Zero(t, summaries)
}

func TestFanOut_SidesRunConcurrently(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	block := func(role agent.Role) *mockAgent {
		return &mockAgent{role: role, handleFn: func(context.Context, string, string) (*agent.Result, error) {
			started <- struct{}{}
			<-release
			return &agent.Result{}, nil
		}}
	}

	done := make(chan []SideResult)
	go func() {
		done <- FanOut(context.Background(), []Task{
			{Agent: block(agent.RoleAnalytics)},
			{Agent: block(agent.RoleTable)},
		}, nil)
	}()

	for range 2 {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("sides did not start concurrently")
		}
	}
	close(release)
	results := <-done
	assert.Equal(t, agent.RoleAnalytics, results[0].Side)
	assert.Equal(t, agent.RoleTable, results[1].Side)
}

func TestFanOut_FailureDoesNotCancelOtherSide(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	slow := &mockAgent{role: agent.RoleTable, handleFn: func(ctx context.Context, _, _ string) (*agent.Result, error) {
		select {
		case <-time.After(20 * time.Millisecond):
			return &agent.Result{Steps: 1}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}

	results := FanOut(context.Background(), []Task{
		{Agent: failing(agent.RoleAnalytics, errors.New("boom"))},
		{Agent: slow},
	}, func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	assert.EqualError(t, results[0].Err, "boom")
	assert.NoError(t, results[1].Err)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, events, 6)
}

func TestFuse_ContextEventHandler(t *testing.T) {
	var mu sync.Mutex
	var base, extra int
	f := NewFuser(
		scriptedOracle(decomposed, "ok", nil),
		returning(agent.RoleAnalytics, views, 1),
		returning(agent.RoleTable, titles, 1),
		WithEventHandler(func(Event) { mu.Lock(); base++; mu.Unlock() }),
	)

	ctx := ContextWithEvents(context.Background(), func(Event) { mu.Lock(); extra++; mu.Unlock() })
	_, err := f.Fuse(ctx, "views with titles", "123")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 6, base)
	assert.Equal(t, 6, extra)
}
