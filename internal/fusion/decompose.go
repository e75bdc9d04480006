package fusion

import (
	"context"
	"fmt"
	"strings"

	"github.com/dusk-indust/querydesk/internal/fault"
	"github.com/dusk-indust/querydesk/internal/oracle"
)

// SubQueries holds one sub-question per participating agent.
type SubQueries struct {
	Analytics string `json:"analytics_query"`
	Table     string `json:"table_query"`
}

// decomposition is the oracle's reply. seo_query is accepted for table_query.
type decomposition struct {
	Analytics string `json:"analytics_query"`
	Table     string `json:"table_query"`
	SEO       string `json:"seo_query"`
}

// Decompose asks o to split query into an analytics and a table question.
// Anything short of two non-empty questions is a Decomposition fault; the
// call is not retried. Oracle failures keep their kind when classified.
func Decompose(ctx context.Context, o oracle.TextOracle, query string) (SubQueries, error) {
	const op = "fusion.decompose"
	text, err := o.Complete(ctx, decomposePrompt(query))
	if err != nil {
		return SubQueries{}, fault.Wrap(fault.Decomposition, op, err)
	}

	var d decomposition
	if err := oracle.DecodeJSON(text, &d); err != nil {
		return SubQueries{}, &fault.Error{Kind: fault.Decomposition, Op: op, Msg: "decomposition_failed: reply is not JSON", Err: err}
	}
	sq := SubQueries{
		Analytics: strings.TrimSpace(d.Analytics),
		Table:     strings.TrimSpace(d.Table),
	}
	if sq.Table == "" {
		sq.Table = strings.TrimSpace(d.SEO)
	}
	if sq.Analytics == "" || sq.Table == "" {
		return SubQueries{}, fault.New(fault.Decomposition, op, "decomposition_failed: expected an analytics question and a table question")
	}
	return sq, nil
}

func decomposePrompt(query string) string {
	return fmt.Sprintf(`Split the question below into two independent questions.
One goes to a Google Analytics 4 agent (traffic, users, sessions, page views).
One goes to a website crawl agent (URLs, titles, status codes, meta data, indexability).
Each question must keep the page or URL dimension so the answers can be joined.

Question: %q

Respond with JSON only:
{"analytics_query": "...", "table_query": "..."}`, query)
}
