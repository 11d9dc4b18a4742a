// Package publish pushes a workspace to a new remote repository with the git
// and gh CLIs.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"bountyline/internal/config"
	"bountyline/internal/liveness"
	"bountyline/internal/logging"
	"bountyline/internal/procrun"
)

type Request struct {
	WorkspacePath string `json:"workspacePath"`
	RepoName      string `json:"repoName"`
	Description   string `json:"description,omitempty"`
	Private       bool   `json:"isPrivate"`
}

type Result struct {
	Success bool   `json:"success"`
	RepoURL string `json:"repoUrl,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Publisher struct {
	Config  config.PublishConfig
	Runner  procrun.Runner
	Tracker *liveness.Tracker
	Logger  *slog.Logger
}

func New(cfg config.PublishConfig, runner procrun.Runner, tracker *liveness.Tracker, logger *slog.Logger) *Publisher {
	return &Publisher{Config: cfg, Runner: runner, Tracker: tracker, Logger: logger}
}

// RepoName derives the remote repository name for a listing slug.
func (p *Publisher) RepoName(slug string) string {
	return p.Config.RepoPrefix + slug
}

// Publish commits the workspace and creates the remote repository. The first
// failing command aborts the sequence; local git state is left as is.
func (p *Publisher) Publish(ctx context.Context, req Request) Result {
	if strings.TrimSpace(req.WorkspacePath) == "" || strings.TrimSpace(req.RepoName) == "" {
		return Result{Error: "workspacePath and repoName are required"}
	}
	log := logging.OrDefault(p.Logger).With("repo", req.RepoName)
	git := p.Config.GitBinary
	steps := [][]string{
		{"init"},
		{"add", "."},
		{"commit", "-m", p.Config.CommitMessage},
		{"branch", "-M", p.Config.DefaultBranch},
	}
	for _, args := range steps {
		if _, err := p.run(ctx, req.WorkspacePath, git, args...); err != nil {
			log.Warn("publish aborted", "error", err)
			return Result{Error: err.Error()}
		}
	}

	visibility := "--public"
	if req.Private {
		visibility = "--private"
	}
	createArgs := []string{"repo", "create", req.RepoName, visibility, "--source", ".", "--push"}
	if req.Description != "" {
		createArgs = append(createArgs, "--description", req.Description)
	}
	out, err := p.run(ctx, req.WorkspacePath, p.Config.GHBinary, createArgs...)
	if err != nil {
		log.Warn("publish aborted", "error", err)
		return Result{Error: err.Error()}
	}

	repoURL := p.urlPattern().FindString(out)
	if repoURL == "" {
		login, err := p.run(ctx, req.WorkspacePath, p.Config.GHBinary, "api", "user", "-q", ".login")
		if err != nil {
			return Result{Error: err.Error()}
		}
		repoURL = strings.TrimRight(p.Config.Host, "/") + "/" + login + "/" + req.RepoName
	}

	p.Tracker.Track("published "+req.RepoName+" to GitHub", "ready for submission")
	log.Info("published workspace", "url", repoURL)
	return Result{Success: true, RepoURL: repoURL}
}

func (p *Publisher) urlPattern() *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(strings.TrimRight(p.Config.Host, "/")+"/") + `[^\s]+`)
}

// run executes one command and returns its trimmed stdout. Errors read
// "<cmd> <args> failed: <stderr or cause>".
func (p *Publisher) run(ctx context.Context, dir, name string, args ...string) (string, error) {
	out, err := p.Runner.Run(ctx, procrun.Command{
		Name:    name,
		Args:    args,
		Dir:     dir,
		Timeout: p.Config.CommandTimeout,
	})
	if err != nil {
		reason := strings.TrimSpace(out.Stderr)
		if reason == "" {
			var exitErr *procrun.ExitError
			if errors.As(err, &exitErr) && strings.TrimSpace(exitErr.Stderr) != "" {
				reason = strings.TrimSpace(exitErr.Stderr)
			} else {
				reason = err.Error()
			}
		}
		return "", fmt.Errorf("%s %s failed: %s", name, strings.Join(args, " "), reason)
	}
	return strings.TrimSpace(out.Stdout), nil
}
