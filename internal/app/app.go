// Package app builds the collaborators shared by the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"bountyline/internal/bounty"
	"bountyline/internal/codegen"
	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/domain"
	"bountyline/internal/liveness"
	"bountyline/internal/llm"
	"bountyline/internal/logging"
	"bountyline/internal/marketplace"
	"bountyline/internal/migrate"
	"bountyline/internal/procrun"
	"bountyline/internal/publish"
	"bountyline/internal/ranking"
	"bountyline/internal/tools"
	"bountyline/internal/workflow"
)

// App is one process worth of wiring. Tracker is shared by every operation.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Engine    workflow.Engine
	Tools     tools.Toolset
	Tracker   *liveness.Tracker
	Workflows bounty.Workflows
	Publisher *publish.Publisher
	Logger    *slog.Logger
}

// Options overrides collaborators, mostly for tests.
type Options struct {
	Model  llm.Generator
	Runner procrun.Runner
}

// Build opens and migrates the run store in workspace and wires every
// collaborator from cfg.
func Build(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger = logging.OrDefault(logger)
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate run store: %w", err)
	}

	client := marketplace.New(cfg.Marketplace.BaseURL, cfg.Marketplace.Token)
	client.Timeout = cfg.Marketplace.Timeout
	client.Logger = logger

	tracker := liveness.NewTracker()
	toolset := tools.New(client, tracker, cfg, logger)

	runner := opts.Runner
	if runner == nil {
		runner = procrun.ExecRunner{Logger: logger}
	}
	model := opts.Model
	if model == nil {
		model = llm.FromConfig(cfg.Model.Provider, cfg.Model.Name, cfg.Model.Token)
	}
	publisher := publish.New(cfg.Publish, runner, tracker, logger)

	return &App{
		Config:  cfg,
		DB:      conn,
		Engine:  workflow.New(conn, logger),
		Tools:   toolset,
		Tracker: tracker,
		Workflows: bounty.Workflows{
			Market:    toolset,
			Ranker:    ranking.New(model, logger),
			CodeGen:   codegen.New(cfg.CodeGen, cfg.Publish.Host, runner, logger),
			Publisher: publisher,
			Config:    cfg,
			Logger:    logger,
		},
		Publisher: publisher,
		Logger:    logger,
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// Definition returns the workflow registered under id.
func (a *App) Definition(id string) (workflow.Definition, error) {
	switch id {
	case bounty.DiscoveryWorkflowID:
		return a.Workflows.Discovery(), nil
	case bounty.ExecutionWorkflowID:
		return a.Workflows.Execution(), nil
	default:
		return workflow.Definition{}, fmt.Errorf("unknown workflow %q", id)
	}
}

// ResumeRun resumes runID with the definition it was started from.
func (a *App) ResumeRun(ctx context.Context, runID string, resume any) (domain.Run, error) {
	run, err := a.Engine.Get(ctx, runID)
	if err != nil {
		return domain.Run{}, err
	}
	def, err := a.Definition(run.WorkflowID)
	if err != nil {
		return domain.Run{}, err
	}
	return a.Engine.Resume(ctx, def, runID, resume)
}
