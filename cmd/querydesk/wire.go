package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/dusk-indust/querydesk/internal/agent"
	"github.com/dusk-indust/querydesk/internal/config"
	"github.com/dusk-indust/querydesk/internal/fusion"
	"github.com/dusk-indust/querydesk/internal/normalize"
	"github.com/dusk-indust/querydesk/internal/oracle"
	"github.com/dusk-indust/querydesk/internal/orchestrator"
	"github.com/dusk-indust/querydesk/internal/sandbox"
	"github.com/dusk-indust/querydesk/internal/server"
	"github.com/dusk-indust/querydesk/internal/source"
)

// app is the assembled service.
type app struct {
	orch   *orchestrator.Orchestrator
	health server.Health
}

// build constructs the oracle and both sources from cfg and assembles them.
// pr may be nil.
func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, pr *orchestrator.ProgressReporter) (*app, error) {
	an, err := newAnalytics(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return assemble(cfg, logger, pr, newOracle(cfg, logger), an, newTable(cfg, logger)), nil
}

func newOracle(cfg *config.Config, logger *zap.Logger) oracle.TextOracle {
	if !cfg.Oracle.Configured() {
		logger.Warn("no oracle configured; questions will fail until one is set")
		return oracle.Unconfigured{}
	}
	client := oracle.NewOpenAIClient(oracle.OpenAIConfig{
		BaseURL:     cfg.Oracle.BaseURL,
		APIKey:      cfg.Oracle.APIKey,
		Model:       cfg.Oracle.Model,
		Temperature: cfg.Oracle.Temperature,
		MaxTokens:   cfg.Oracle.MaxTokens,
	})
	return oracle.WithBackoff(client, cfg.Oracle.Backoff, oracle.WithLogger(logger))
}

func newAnalytics(ctx context.Context, cfg *config.Config, logger *zap.Logger) (source.Analytics, error) {
	var src source.Analytics = source.UnconfiguredAnalytics{}
	if cfg.Analytics.Configured() {
		ga4, err := source.NewGA4(ctx,
			[]option.ClientOption{option.WithCredentialsFile(cfg.Analytics.CredentialsFile)},
			source.WithReportTimeout(cfg.Analytics.ReportTimeout),
			source.WithGA4Logger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("querydesk: analytics: %w", err)
		}
		src = ga4
	}
	if cfg.Analytics.Demo {
		src = source.WithDemoData(src, logger)
	}
	return src, nil
}

func newTable(cfg *config.Config, logger *zap.Logger) source.Table {
	if !cfg.Table.Configured() {
		return source.UnconfiguredTable{}
	}
	return source.NewCSVTable(cfg.Table.CSVURL,
		source.WithFetchTimeout(cfg.Table.FetchTimeout),
		source.WithCSVLogger(logger),
	)
}

// assemble wires agents, fusion, and the orchestrator around the given
// oracle and sources.
func assemble(cfg *config.Config, logger *zap.Logger, pr *orchestrator.ProgressReporter,
	o oracle.TextOracle, an source.Analytics, tb source.Table) *app {
	opts := agent.Options{MaxAttempts: cfg.Agent.MaxAttempts, Logger: logger}
	analyticsAgent := agent.NewAnalyticsAgent(o, an, opts)
	tableAgent := agent.NewTableAgent(o, tb, sandbox.New(cfg.Sandbox, logger), opts)

	fuserOpts := []fusion.FuserOption{
		fusion.WithNormalizer(normalize.Normalizer{Policy: cfg.Normalize}),
		fusion.WithLogger(logger),
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithOracle(o),
		orchestrator.WithAgents(agent.NewRegistry(analyticsAgent, tableAgent)),
		orchestrator.WithLogger(logger),
	}
	if pr != nil {
		fuserOpts = append(fuserOpts, fusion.WithEventHandler(orchestrator.FusionEvents(pr)))
		orchOpts = append(orchOpts, orchestrator.WithProgress(pr))
	}
	fuser := fusion.NewFuser(o, analyticsAgent, tableAgent, fuserOpts...)
	orchOpts = append(orchOpts, orchestrator.WithFuser(fuser))

	return &app{
		orch: orchestrator.New(orchOpts...),
		health: server.Health{
			Oracle:    cfg.Oracle.Configured(),
			Analytics: cfg.Analytics.Configured() || cfg.Analytics.Demo,
			Table:     cfg.Table.Configured(),
		},
	}
}
