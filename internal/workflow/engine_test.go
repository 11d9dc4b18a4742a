package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"bountyline/internal/db"
	"bountyline/internal/migrate"
	"bountyline/internal/repo"
	"bountyline/internal/workflow"
)

type testEnv struct {
	Engine workflow.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := workflow.New(conn, nil)
	eng.Now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

type counterIn struct {
	N int `json:"n"`
}

type approval struct {
	OK bool `json:"ok"`
}

type result struct {
	N        int  `json:"n"`
	Approved bool `json:"approved"`
}

// counterFlow doubles n, waits for approval, then reports the decision.
func counterFlow(calls *int) workflow.Definition {
	return workflow.Definition{
		ID: "counter",
		Steps: []workflow.Step{
			workflow.Define("double", func(ctx context.Context, in counterIn, _ *struct{}) (workflow.Outcome, error) {
				*calls++
				return workflow.Complete(counterIn{N: in.N * 2}), nil
			}),
			workflow.Define("approve", func(ctx context.Context, in counterIn, resume *approval) (workflow.Outcome, error) {
				if resume == nil {
					return workflow.Suspend(map[string]any{"n": in.N, "message": "approve?"}), nil
				}
				return workflow.Complete(result{N: in.N, Approved: resume.OK}), nil
			}),
		},
	}
}

func TestStartSuspendsAndResumeCompletes(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	def := counterFlow(&calls)

	run, err := env.Engine.Start(env.Ctx, def, counterIn{N: 21})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.Status != workflow.StatusSuspended || run.StepIndex != 1 || run.StepID != "approve" {
		t.Fatalf("run = %+v", run)
	}
	var payload map[string]any
	if err := workflow.Decode(run.Suspend, &payload); err != nil || payload["n"] != float64(42) {
		t.Fatalf("suspend payload = %s (%v)", run.Suspend, err)
	}

	stored, err := env.Engine.Get(env.Ctx, run.ID)
	if err != nil || stored.Status != workflow.StatusSuspended || string(stored.Suspend) != string(run.Suspend) {
		t.Fatalf("stored = %+v (%v)", stored, err)
	}

	done, err := env.Engine.Resume(env.Ctx, def, run.ID, approval{OK: true})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if done.Status != workflow.StatusCompleted || done.Suspend != nil {
		t.Fatalf("done = %+v", done)
	}
	var out result
	if err := workflow.Decode(done.Output, &out); err != nil || out.N != 42 || !out.Approved {
		t.Fatalf("output = %s (%v)", done.Output, err)
	}
	if calls != 1 {
		t.Fatalf("completed steps must not rerun, calls = %d", calls)
	}

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{EntityID: run.ID, Limit: 20})
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for i := len(evts) - 1; i >= 0; i-- {
		types = append(types, evts[i].Type)
	}
	want := []string{"run.started", "step.completed", "run.suspended", "run.resumed", "step.completed", "run.completed"}
	if len(types) != len(want) {
		t.Fatalf("events = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v", types)
		}
	}
}

func TestResumeWithoutDataSuspendsAgain(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	def := counterFlow(&calls)
	run, err := env.Engine.Start(env.Ctx, def, counterIn{N: 1})
	if err != nil {
		t.Fatal(err)
	}
	again, err := env.Engine.Resume(env.Ctx, def, run.ID, nil)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if again.Status != workflow.StatusSuspended || again.StepIndex != run.StepIndex {
		t.Fatalf("run = %+v", again)
	}
	if string(again.Suspend) != string(run.Suspend) {
		t.Fatalf("payload changed: %s vs %s", again.Suspend, run.Suspend)
	}
}

func TestResumeRejectsNonSuspendedRuns(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	def := counterFlow(&calls)
	run, err := env.Engine.Start(env.Ctx, def, counterIn{N: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Resume(env.Ctx, def, run.ID, approval{OK: false}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Resume(env.Ctx, def, run.ID, approval{OK: true}); !errors.Is(err, workflow.ErrNotSuspended) {
		t.Fatalf("expected ErrNotSuspended, got %v", err)
	}
	other := workflow.Definition{ID: "other", Steps: def.Steps}
	run2, _ := env.Engine.Start(env.Ctx, def, counterIn{N: 1})
	if _, err := env.Engine.Resume(env.Ctx, other, run2.ID, approval{OK: true}); !errors.Is(err, workflow.ErrWorkflowMismatch) {
		t.Fatalf("expected ErrWorkflowMismatch, got %v", err)
	}
	if _, err := env.Engine.Resume(env.Ctx, def, "missing", nil); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResumeWithMistypedDataKeepsRunSuspended(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	def := counterFlow(&calls)
	run, err := env.Engine.Start(env.Ctx, def, counterIn{N: 3})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Resume(env.Ctx, def, run.ID, json.RawMessage(`{"ok":"yes"}`))
	if !errors.Is(err, workflow.ErrInvalidResume) {
		t.Fatalf("expected ErrInvalidResume, got %v", err)
	}
	stored, err := env.Engine.Get(env.Ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != workflow.StatusSuspended || stored.StepID != "approve" || stored.Error != "" {
		t.Fatalf("stored = %+v", stored)
	}
	done, err := env.Engine.Resume(env.Ctx, def, run.ID, approval{OK: true})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	var out result
	if err := workflow.Decode(done.Output, &out); err != nil {
		t.Fatal(err)
	}
	if done.Status != workflow.StatusCompleted || !out.Approved || out.N != 6 {
		t.Fatalf("run = %+v out = %+v", done, out)
	}
}

func TestResumeRejectsChangedStepLayout(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	def := counterFlow(&calls)
	run, err := env.Engine.Start(env.Ctx, def, counterIn{N: 1})
	if err != nil {
		t.Fatal(err)
	}
	extra := workflow.Define("audit", func(ctx context.Context, in counterIn, _ *struct{}) (workflow.Outcome, error) {
		return workflow.Complete(in), nil
	})
	shifted := workflow.Definition{ID: def.ID, Steps: []workflow.Step{def.Steps[0], extra, def.Steps[1]}}
	if _, err := env.Engine.Resume(env.Ctx, shifted, run.ID, approval{OK: true}); !errors.Is(err, workflow.ErrStepMismatch) {
		t.Fatalf("expected ErrStepMismatch, got %v", err)
	}
	shorter := workflow.Definition{ID: def.ID, Steps: def.Steps[:1]}
	if _, err := env.Engine.Resume(env.Ctx, shorter, run.ID, approval{OK: true}); !errors.Is(err, workflow.ErrStepMismatch) {
		t.Fatalf("expected ErrStepMismatch, got %v", err)
	}
	stored, _ := env.Engine.Get(env.Ctx, run.ID)
	if stored.Status != workflow.StatusSuspended {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestStepErrorFailsRun(t *testing.T) {
	env := newTestEnv(t)
	boom := errors.New("boom")
	def := workflow.Definition{
		ID: "failing",
		Steps: []workflow.Step{
			workflow.Define("explode", func(ctx context.Context, in counterIn, _ *struct{}) (workflow.Outcome, error) {
				return workflow.Outcome{}, boom
			}),
		},
	}
	run, err := env.Engine.Start(env.Ctx, def, counterIn{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if run.Status != workflow.StatusFailed || run.Error != "boom" {
		t.Fatalf("run = %+v", run)
	}
	stored, _ := env.Engine.Get(env.Ctx, run.ID)
	if stored.Status != workflow.StatusFailed || stored.StepID != "explode" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestDefinitionValidation(t *testing.T) {
	env := newTestEnv(t)
	noop := workflow.Define("a", func(ctx context.Context, in json.RawMessage, _ *struct{}) (workflow.Outcome, error) {
		return workflow.Complete(in), nil
	})
	for _, def := range []workflow.Definition{
		{ID: "", Steps: []workflow.Step{noop}},
		{ID: "empty"},
		{ID: "dup", Steps: []workflow.Step{noop, noop}},
	} {
		if _, err := env.Engine.Start(env.Ctx, def, nil); err == nil {
			t.Fatalf("definition %q should be rejected", def.ID)
		}
	}
}

func TestListRunsFilters(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	def := counterFlow(&calls)
	def.ListingSlug = func(json.RawMessage) string { return "audit-x" }
	first, _ := env.Engine.Start(env.Ctx, def, counterIn{N: 1})
	if _, err := env.Engine.Resume(env.Ctx, def, first.ID, approval{OK: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Start(env.Ctx, def, counterIn{N: 2}); err != nil {
		t.Fatal(err)
	}

	suspended, err := env.Engine.Repo.ListRuns(env.Ctx, repo.RunFilters{Status: workflow.StatusSuspended})
	if err != nil || len(suspended) != 1 {
		t.Fatalf("suspended = %v (%v)", suspended, err)
	}
	bySlug, err := env.Engine.Repo.ListRuns(env.Ctx, repo.RunFilters{WorkflowID: "counter", ListingSlug: "audit-x"})
	if err != nil || len(bySlug) != 2 {
		t.Fatalf("by slug = %v (%v)", bySlug, err)
	}
	counts, err := env.Engine.Repo.CountRunsByStatus(env.Ctx, "counter")
	if err != nil || counts["completed"] != 1 || counts["suspended"] != 1 {
		t.Fatalf("counts = %v (%v)", counts, err)
	}
}

func TestActorIsRecordedOnEvents(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	ctx := workflow.WithActor(env.Ctx, "reviewer")
	run, err := env.Engine.Start(ctx, counterFlow(&calls), counterIn{N: 1})
	if err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{EntityID: run.ID, Type: "run.started"})
	if err != nil || len(evts) != 1 || evts[0].ActorID != "reviewer" {
		t.Fatalf("events = %+v (%v)", evts, err)
	}
}
