// Package workflow runs fixed step pipelines that can suspend for human input.
// Every run and transition is persisted, so a suspended run can be resumed
// from another process.
package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bountyline/internal/domain"
	"bountyline/internal/events"
	"bountyline/internal/logging"
	"bountyline/internal/repo"
)

const (
	StatusRunning   = "running"
	StatusSuspended = "suspended"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var (
	ErrNotSuspended     = errors.New("run is not suspended")
	ErrWorkflowMismatch = errors.New("run belongs to a different workflow")
	ErrStepMismatch     = errors.New("run step does not match the workflow definition")
	ErrInvalidResume    = errors.New("invalid resume data")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
	Logger *slog.Logger
}

func New(db *sql.DB, logger *slog.Logger) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
		Logger: logger,
	}
}

func (e Engine) now() string {
	if e.Now != nil {
		return e.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	return logging.OrDefault(e.Logger)
}

type actorKey struct{}

// WithActor tags the events written on behalf of ctx with actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return "system"
}

// Start persists a new run and drives it until it suspends, completes or fails.
func (e Engine) Start(ctx context.Context, def Definition, input any) (domain.Run, error) {
	if err := def.validate(); err != nil {
		return domain.Run{}, err
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return domain.Run{}, fmt.Errorf("encode %s input: %w", def.ID, err)
	}
	now := e.now()
	run := domain.Run{
		ID:         uuid.NewString(),
		WorkflowID: def.ID,
		Status:     StatusRunning,
		StepIndex:  0,
		StepID:     def.Steps[0].ID,
		Input:      raw,
		State:      raw,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if def.ListingSlug != nil {
		run.ListingSlug = def.ListingSlug(raw)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Run{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRunTx(ctx, tx, run); err != nil {
		return domain.Run{}, fmt.Errorf("insert run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.RunStarted, "run", run.ID, actorFrom(ctx), events.EventPayload{
		"workflow_id": def.ID,
		"listing":     run.ListingSlug,
	}); err != nil {
		return domain.Run{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Run{}, err
	}
	e.log().Info("run started", "run_id", run.ID, "workflow", def.ID)
	return e.advance(ctx, def, run, nil)
}

// Resume re-enters the suspended step with resume data. Resuming without data
// lets the step decide, which for the built-in steps means suspending again.
func (e Engine) Resume(ctx context.Context, def Definition, runID string, resume any) (domain.Run, error) {
	if err := def.validate(); err != nil {
		return domain.Run{}, err
	}
	var raw json.RawMessage
	if resume != nil {
		data, err := json.Marshal(resume)
		if err != nil {
			return domain.Run{}, fmt.Errorf("encode resume data: %w", err)
		}
		raw = data
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Run{}, err
	}
	defer tx.Rollback()
	run, err := e.Repo.GetRunTx(ctx, tx, runID)
	if err != nil {
		return domain.Run{}, err
	}
	if run.WorkflowID != def.ID {
		return run, fmt.Errorf("%w: %s is a %s run", ErrWorkflowMismatch, run.ID, run.WorkflowID)
	}
	if err := ensureRunTransition(run.Status, StatusRunning); err != nil {
		return run, fmt.Errorf("%w: %s is %s", ErrNotSuspended, run.ID, run.Status)
	}
	if run.StepIndex < 0 || run.StepIndex >= len(def.Steps) {
		return run, fmt.Errorf("%w: %s points at step %d outside workflow %s", ErrStepMismatch, run.ID, run.StepIndex, def.ID)
	}
	step := def.Steps[run.StepIndex]
	if step.ID != run.StepID {
		return run, fmt.Errorf("%w: %s waits at %s, workflow %s has %s at position %d", ErrStepMismatch, run.ID, run.StepID, def.ID, step.ID, run.StepIndex)
	}
	if step.CheckResume != nil {
		if err := step.CheckResume(raw); err != nil {
			return run, fmt.Errorf("%w for step %s: %v", ErrInvalidResume, step.ID, err)
		}
	}
	run.Status = StatusRunning
	run.Suspend = nil
	run.UpdatedAt = e.now()
	if err := e.Repo.UpdateRunTx(ctx, tx, run); err != nil {
		return run, fmt.Errorf("update run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.RunResumed, "run", run.ID, actorFrom(ctx), events.EventPayload{
		"step_id": run.StepID,
	}); err != nil {
		return run, err
	}
	if err := tx.Commit(); err != nil {
		return run, err
	}
	e.log().Info("run resumed", "run_id", run.ID, "step", run.StepID)
	return e.advance(ctx, def, run, raw)
}

// advance executes steps from run.StepIndex. resume is handed to the first
// step only.
func (e Engine) advance(ctx context.Context, def Definition, run domain.Run, resume json.RawMessage) (domain.Run, error) {
	for run.StepIndex < len(def.Steps) {
		step := def.Steps[run.StepIndex]
		outcome, err := step.Run(ctx, run.State, resume)
		resume = nil
		if err != nil {
			return e.fail(ctx, run, step.ID, err)
		}
		value, err := json.Marshal(outcome.Value())
		if err != nil {
			return e.fail(ctx, run, step.ID, fmt.Errorf("encode %s output: %w", step.ID, err))
		}
		if outcome.Suspended() {
			run.Suspend = value
			if err := e.transition(ctx, &run, StatusSuspended, events.RunSuspended, events.EventPayload{"step_id": step.ID}); err != nil {
				return run, err
			}
			e.log().Info("run suspended", "run_id", run.ID, "step", step.ID)
			return run, nil
		}
		run.State = value
		run.StepIndex++
		run.StepID = ""
		if run.StepIndex < len(def.Steps) {
			run.StepID = def.Steps[run.StepIndex].ID
		}
		if err := e.transition(ctx, &run, StatusRunning, events.StepCompleted, events.EventPayload{"step_id": step.ID}); err != nil {
			return run, err
		}
		e.log().Debug("step completed", "run_id", run.ID, "step", step.ID)
	}
	run.Output = run.State
	if err := e.transition(ctx, &run, StatusCompleted, events.RunCompleted, nil); err != nil {
		return run, err
	}
	e.log().Info("run completed", "run_id", run.ID, "workflow", def.ID)
	return run, nil
}

func (e Engine) fail(ctx context.Context, run domain.Run, stepID string, cause error) (domain.Run, error) {
	run.Error = cause.Error()
	if err := e.transition(ctx, &run, StatusFailed, events.RunFailed, events.EventPayload{
		"step_id": stepID,
		"error":   run.Error,
	}); err != nil {
		return run, errors.Join(cause, err)
	}
	e.log().Warn("run failed", "run_id", run.ID, "step", stepID, "error", cause)
	return run, fmt.Errorf("step %s: %w", stepID, cause)
}

// transition persists run in the target status together with its event. It
// still writes when ctx is already canceled so a run never stays "running".
func (e Engine) transition(ctx context.Context, run *domain.Run, status, evtType string, payload events.EventPayload) error {
	ctx = context.WithoutCancel(ctx)
	if err := ensureRunTransition(run.Status, status); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	run.Status = status
	run.UpdatedAt = e.now()
	if err := e.Repo.UpdateRunTx(ctx, tx, *run); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, evtType, "run", run.ID, actorFrom(ctx), payload); err != nil {
		return err
	}
	return tx.Commit()
}

func ensureRunTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case StatusRunning:
		switch newStatus {
		case StatusRunning, StatusSuspended, StatusCompleted, StatusFailed:
			return nil
		}
	case StatusSuspended:
		if newStatus == StatusRunning {
			return nil
		}
	}
	return fmt.Errorf("invalid run status transition %s -> %s", oldStatus, newStatus)
}

// Get returns a persisted run.
func (e Engine) Get(ctx context.Context, runID string) (domain.Run, error) {
	return e.Repo.GetRun(ctx, runID)
}

// Decode unmarshals a run's suspend payload or output into v.
func Decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("no data")
	}
	return json.Unmarshal(raw, v)
}
