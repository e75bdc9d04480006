package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/dusk-indust/querydesk/internal/agent"
	"github.com/dusk-indust/querydesk/internal/fusion"
	"github.com/dusk-indust/querydesk/internal/oracle"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithOracle sets the oracle used for classification.
func WithOracle(o oracle.TextOracle) Option {
	return func(r *Orchestrator) { r.oracle = o }
}

// WithAgents registers the specialist agents.
func WithAgents(reg *agent.Registry) Option {
	return func(r *Orchestrator) { r.agents = reg }
}

// FusionRunner answers fused queries; *fusion.Fuser implements it.
type FusionRunner interface {
	Fuse(ctx context.Context, query, scope string) (*fusion.Outcome, error)
}

// Compile-time check.
var _ FusionRunner = (*fusion.Fuser)(nil)

// WithFuser sets the fusion layer.
func WithFuser(f FusionRunner) Option {
	return func(r *Orchestrator) { r.fuser = f }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Orchestrator) {
		if l != nil {
			r.logger = l.Named("orchestrator")
		}
	}
}

// WithProgress sends progress events to pr.
func WithProgress(pr *ProgressReporter) Option {
	return func(r *Orchestrator) { r.progress = pr }
}
