package mcptools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/querydesk/internal/fault"
	"github.com/dusk-indust/querydesk/internal/orchestrator"
)

// Router answers queries; *orchestrator.Orchestrator implements it.
type Router interface {
	Route(ctx context.Context, q orchestrator.Query) (*orchestrator.Response, error)
}

// QueryService handles MCP calls to the query tool.
type QueryService struct {
	router Router
}

// NewQueryService creates a QueryService backed by router.
func NewQueryService(router Router) *QueryService {
	return &QueryService{router: router}
}

// Query answers a question. Classified failures are reported in the output
// with status "failed" so the calling model can read the hint and rephrase.
func (s *QueryService) Query(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input QueryInput,
) (*mcp.CallToolResult, QueryOutput, error) {
	if input.Query == "" {
		return nil, QueryOutput{}, fmt.Errorf("query is required")
	}

	resp, err := s.router.Route(ctx, orchestrator.Query{Text: input.Query, ScopeID: input.ScopeID})
	out := QueryOutput{Status: "completed"}
	if resp != nil {
		out.Answer = resp.Answer
		out.Steps = resp.Meta.Steps
		out.FinalParamsOrCode = resp.Meta.Final
		out.Intent = string(resp.Meta.Intent)
		out.Missing = resp.Meta.Missing
		if resp.Data != nil {
			out.Headers = resp.Data.Headers
			out.Rows = resp.Data.Rows
		}
	}
	if err != nil {
		kind := fault.KindOf(err)
		out.Status = "failed"
		out.Error = err.Error()
		out.Kind = kind.String()
		out.Hint = fault.Hint(kind)
	}
	return nil, out, nil
}
