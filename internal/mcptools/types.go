package mcptools

import "github.com/dusk-indust/querydesk/internal/table"

// QueryInput is the input for the query tool.
type QueryInput struct {
	Query   string `json:"query" jsonschema:"natural language question about analytics or the site crawl"`
	ScopeID string `json:"scopeId,omitempty" jsonschema:"analytics property id; required for analytics and fused questions"`
}

// QueryOutput is the result of the query tool.
type QueryOutput struct {
	Status            string      `json:"status"` // "completed" or "failed"
	Answer            string      `json:"answer,omitempty"`
	Headers           []string    `json:"headers,omitempty"`
	Rows              []table.Row `json:"rows,omitempty"`
	Steps             int         `json:"steps"`
	FinalParamsOrCode string      `json:"finalParamsOrCode,omitempty"`
	Intent            string      `json:"intent,omitempty"`
	Missing           []string    `json:"missing,omitempty"`
	Error             string      `json:"error,omitempty"`
	Kind              string      `json:"kind,omitempty"`
	Hint              string      `json:"hint,omitempty"`
}
