// Package agent implements the domain agents. Each agent answers a natural
// language question against one data source and reports the table it
// produced, the number of repair attempts it needed, and the final program or
// request parameters.
package agent

import (
	"context"

	"github.com/dusk-indust/querydesk/internal/repair"
	"github.com/dusk-indust/querydesk/internal/table"
)

// Agent answers a question against one data source.
type Agent interface {
	// Role identifies the agent.
	Role() Role

	// Handle answers query. scope identifies the analytics property and may
	// be empty for agents that do not need one. On failure the returned
	// Result still carries the attempts made, when any were.
	Handle(ctx context.Context, query, scope string) (*Result, error)
}

// Role identifies a specialist agent type.
type Role string

const (
	RoleAnalytics Role = "analytics"
	RoleTable     Role = "table"
)

// Result is an agent's answer.
type Result struct {
	// Answer is a natural language answer; empty when only data was asked for.
	Answer string `json:"answer"`

	// Table holds the rows the answer is based on.
	Table table.Table `json:"data"`

	// Steps is the number of generate-execute attempts made.
	Steps int `json:"steps"`

	// Final is the last program or request parameters produced.
	Final string `json:"final_params_or_code"`

	// Attempts records every attempt of the repair loop.
	Attempts []repair.Attempt `json:"attempts,omitempty"`
}
