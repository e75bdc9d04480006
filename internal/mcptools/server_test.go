package mcptools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/querydesk/internal/fault"
	"github.com/dusk-indust/querydesk/internal/orchestrator"
	"github.com/dusk-indust/querydesk/internal/table"
)

// mockRouter is a Router with a function field.
type mockRouter struct {
	routeFn func(q orchestrator.Query) (*orchestrator.Response, error)
}

func (m *mockRouter) Route(_ context.Context, q orchestrator.Query) (*orchestrator.Response, error) {
	return m.routeFn(q)
}

// setupServerClient wires an MCP server and client together using in-memory
// transports.
func setupServerClient(t *testing.T, router Router) *mcp.ClientSession {
	t.Helper()

	server := NewQueryMCPServer(router)
	st, ct := mcp.NewInMemoryTransports()
	ctx := context.Background()

	_, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func callQuery(t *testing.T, session *mcp.ClientSession, in QueryInput) QueryOutput {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "query", Arguments: in})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.NotNil(t, result.StructuredContent)

	raw, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	var out QueryOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestMCPListTools(t *testing.T) {
	session := setupServerClient(t, &mockRouter{})

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "query", result.Tools[0].Name)
}

func TestMCPQuery(t *testing.T) {
	var got orchestrator.Query
	data := table.New([]string{"n"}, []table.Row{{"n": 4}})
	session := setupServerClient(t, &mockRouter{routeFn: func(q orchestrator.Query) (*orchestrator.Response, error) {
		got = q
		return &orchestrator.Response{
			Answer: "4 URLs.",
			Data:   &data,
			Meta:   orchestrator.Meta{Steps: 2, Final: "return {n = #rows}", Intent: orchestrator.IntentTable},
		}, nil
	}})

	out := callQuery(t, session, QueryInput{Query: "How many URLs in total?", ScopeID: "123"})

	assert.Equal(t, orchestrator.Query{Text: "How many URLs in total?", ScopeID: "123"}, got)
	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, "4 URLs.", out.Answer)
	assert.Equal(t, []string{"n"}, out.Headers)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, float64(4), out.Rows[0]["n"])
	assert.Equal(t, 2, out.Steps)
	assert.Equal(t, "table", out.Intent)
}

func TestMCPQuery_Failure(t *testing.T) {
	session := setupServerClient(t, &mockRouter{routeFn: func(orchestrator.Query) (*orchestrator.Response, error) {
		return &orchestrator.Response{Meta: orchestrator.Meta{Steps: 1}},
			fault.New(fault.InvalidRequest, "orchestrator.route", "a property id (scope_id) is required for analytics questions")
	}})

	out := callQuery(t, session, QueryInput{Query: "sessions last week"})

	assert.Equal(t, "failed", out.Status)
	assert.Equal(t, "invalid_request", out.Kind)
	assert.Contains(t, out.Error, "scope_id")
	assert.NotEmpty(t, out.Hint)
	assert.Equal(t, 1, out.Steps)
}

func TestQueryService_EmptyQuery(t *testing.T) {
	_, _, err := NewQueryService(&mockRouter{}).Query(context.Background(), nil, QueryInput{})
	assert.Error(t, err)
}
