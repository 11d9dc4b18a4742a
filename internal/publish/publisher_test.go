package publish

import (
	"context"
	"errors"
	"strings"
	"testing"

	"bountyline/internal/config"
	"bountyline/internal/liveness"
	"bountyline/internal/procrun"
)

type scriptedRunner struct {
	calls   []procrun.Command
	respond func(cmd procrun.Command) (procrun.Output, error)
}

func (s *scriptedRunner) Run(_ context.Context, cmd procrun.Command) (procrun.Output, error) {
	s.calls = append(s.calls, cmd)
	if s.respond == nil {
		return procrun.Output{}, nil
	}
	return s.respond(cmd)
}

func (s *scriptedRunner) commandLines() []string {
	var out []string
	for _, c := range s.calls {
		out = append(out, c.String())
	}
	return out
}

func newPublisher(runner procrun.Runner) (*Publisher, *liveness.Tracker) {
	tracker := liveness.NewTracker()
	return New(config.Default().Publish, runner, tracker, nil), tracker
}

func TestPublishParsesURLFromOutput(t *testing.T) {
	runner := &scriptedRunner{respond: func(cmd procrun.Command) (procrun.Output, error) {
		if cmd.Name == "gh" {
			return procrun.Output{Stdout: "✓ Created repository alice/bounty-x on GitHub\nhttps://github.com/alice/bounty-x\n"}, nil
		}
		return procrun.Output{}, nil
	}}
	p, tracker := newPublisher(runner)
	res := p.Publish(context.Background(), Request{WorkspacePath: "/ws", RepoName: "bounty-x", Description: "Audit X"})
	if !res.Success || res.RepoURL != "https://github.com/alice/bounty-x" {
		t.Fatalf("result = %+v", res)
	}
	want := []string{
		"git init",
		"git add .",
		"git commit -m Initial submission",
		"git branch -M main",
		"gh repo create bounty-x --public --source . --push --description Audit X",
	}
	got := runner.commandLines()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("commands = %v", got)
	}
	for _, c := range runner.calls {
		if c.Dir != "/ws" || c.Timeout.Seconds() != 60 {
			t.Fatalf("command %s: dir=%s timeout=%s", c, c.Dir, c.Timeout)
		}
	}
	snap := tracker.Snapshot()
	if snap.LastAction != "published bounty-x to GitHub" || snap.NextAction != "ready for submission" {
		t.Fatalf("tracker = %+v", snap)
	}
}

func TestPublishFallsBackToLogin(t *testing.T) {
	runner := &scriptedRunner{respond: func(cmd procrun.Command) (procrun.Output, error) {
		if cmd.Name == "gh" && cmd.Args[0] == "api" {
			return procrun.Output{Stdout: "alice\n"}, nil
		}
		return procrun.Output{}, nil
	}}
	p, _ := newPublisher(runner)
	res := p.Publish(context.Background(), Request{WorkspacePath: "/ws", RepoName: "bounty-y", Private: true})
	if !res.Success || res.RepoURL != "https://github.com/alice/bounty-y" {
		t.Fatalf("result = %+v", res)
	}
	create := runner.calls[4]
	if create.String() != "gh repo create bounty-y --private --source . --push" {
		t.Fatalf("create = %s", create)
	}
	if runner.calls[5].String() != "gh api user -q .login" {
		t.Fatalf("login query = %s", runner.calls[5])
	}
}

func TestPublishAbortsOnFirstFailure(t *testing.T) {
	runner := &scriptedRunner{respond: func(cmd procrun.Command) (procrun.Output, error) {
		if len(cmd.Args) > 0 && cmd.Args[0] == "commit" {
			return procrun.Output{Stderr: "nothing to commit\n"}, &procrun.ExitError{Command: "git", ExitCode: 1}
		}
		return procrun.Output{}, nil
	}}
	p, tracker := newPublisher(runner)
	res := p.Publish(context.Background(), Request{WorkspacePath: "/ws", RepoName: "bounty-z"})
	if res.Success || res.RepoURL != "" {
		t.Fatalf("result = %+v", res)
	}
	if res.Error != "git commit -m Initial submission failed: nothing to commit" {
		t.Fatalf("error = %q", res.Error)
	}
	if len(runner.calls) != 3 {
		t.Fatalf("expected sequence to stop after commit, got %v", runner.commandLines())
	}
	if tracker.Snapshot().LastAction != "initialized" {
		t.Fatal("failed publish must not track")
	}
}

func TestPublishErrorWithoutStderrUsesCause(t *testing.T) {
	runner := &scriptedRunner{respond: func(cmd procrun.Command) (procrun.Output, error) {
		if cmd.Name == "gh" {
			return procrun.Output{}, errors.New("exec: \"gh\": executable file not found in $PATH")
		}
		return procrun.Output{}, nil
	}}
	p, _ := newPublisher(runner)
	res := p.Publish(context.Background(), Request{WorkspacePath: "/ws", RepoName: "bounty-z"})
	if !strings.HasPrefix(res.Error, "gh repo create bounty-z --public --source . --push failed: exec:") {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestPublishRequiresInput(t *testing.T) {
	p, _ := newPublisher(&scriptedRunner{})
	if res := p.Publish(context.Background(), Request{}); res.Success || res.Error == "" {
		t.Fatalf("result = %+v", res)
	}
}

func TestRepoName(t *testing.T) {
	p, _ := newPublisher(&scriptedRunner{})
	if got := p.RepoName("audit-x"); got != "bounty-audit-x" {
		t.Fatalf("repo name = %q", got)
	}
}
