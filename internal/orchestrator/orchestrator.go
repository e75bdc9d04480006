// Package orchestrator routes a natural language question to the analytics
// agent, the table agent, or the fusion layer, and assembles the response.
package orchestrator

import (
	"github.com/dusk-indust/querydesk/internal/fusion"
	"github.com/dusk-indust/querydesk/internal/table"
)

// Intent is the classified purpose of a query. It is derived once per query.
type Intent string

const (
	IntentAnalytics Intent = "analytics"
	IntentTable     Intent = "table"
	IntentFusion    Intent = "fusion"
)

// NeedsScope reports whether the intent requires an analytics property id.
func (i Intent) NeedsScope() bool {
	return i == IntentAnalytics || i == IntentFusion
}

// Query is an incoming question.
type Query struct {
	Text    string `json:"query"`
	ScopeID string `json:"scope_id,omitempty"`
}

// Response is the payload returned for a query.
type Response struct {
	Answer string       `json:"answer"`
	Data   *table.Table `json:"data"`
	Meta   Meta         `json:"meta"`
}

// Meta describes how a response was produced.
type Meta struct {
	// Steps counts classification plus every generate-execute attempt.
	Steps int `json:"steps"`

	// Final is the last program or request parameters produced.
	Final string `json:"final_params_or_code"`

	Intent Intent `json:"intent,omitempty"`

	// Missing names the sources that failed in a partial fusion.
	Missing []string `json:"missing,omitempty"`

	// Fusion carries the join breakdown for fused answers.
	Fusion *fusion.FusedResult `json:"fusion,omitempty"`
}

// Phase identifies a step of query handling for progress display.
type Phase string

const (
	PhaseClassify Phase = "classify"
	PhaseAgent    Phase = "agent"
	PhaseFusion   Phase = "fusion"
)

// ProgressEvent is emitted while a query is handled.
type ProgressEvent struct {
	Phase   Phase          `json:"phase"`
	Section string         `json:"section"`
	Status  ProgressStatus `json:"status"`
	Message string         `json:"message,omitempty"`
}

// ProgressStatus is the state of a section within a phase.
type ProgressStatus string

const (
	ProgressPending  ProgressStatus = "pending"
	ProgressWorking  ProgressStatus = "working"
	ProgressComplete ProgressStatus = "complete"
	ProgressFailed   ProgressStatus = "failed"
)
