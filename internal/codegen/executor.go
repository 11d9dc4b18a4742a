// Package codegen drives the external code-generation CLI inside a per-listing
// workspace directory.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"bountyline/internal/config"
	"bountyline/internal/logging"
	"bountyline/internal/procrun"
)

const (
	summaryLimit    = 1000
	truncatedMarker = "\n... (truncated)"
)

// Task is everything the CLI needs to know about one bounty.
type Task struct {
	Slug              string `json:"slug"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	Type              string `json:"type"`
	Requirements      string `json:"requirements"`
	DeliverableFormat string `json:"deliverableFormat"`
}

// Result is always returned, even on failure. WorkspacePath is set as soon
// as it is known.
type Result struct {
	WorkspacePath string   `json:"workspacePath"`
	Summary       string   `json:"summary"`
	Artifacts     []string `json:"artifacts"`
	RepoURL       string   `json:"repoUrl,omitempty"`
	Success       bool     `json:"success"`
	Error         string   `json:"error,omitempty"`
}

type Executor struct {
	Config   config.CodeGenConfig
	RepoHost string
	Runner   procrun.Runner
	Logger   *slog.Logger
}

func New(cfg config.CodeGenConfig, repoHost string, runner procrun.Runner, logger *slog.Logger) *Executor {
	return &Executor{Config: cfg, RepoHost: repoHost, Runner: runner, Logger: logger}
}

// WorkspacePath maps a slug to its workspace directory. The mapping is pure and
// one to one, so slugs that are not a single path element are rejected.
func (e *Executor) WorkspacePath(slug string) (string, error) {
	if strings.TrimSpace(slug) == "" || slug == "." || slug == ".." || strings.ContainsAny(slug, `/\`) {
		return "", fmt.Errorf("invalid slug %q", slug)
	}
	root, err := filepath.Abs(e.Config.WorkspacesDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, slug), nil
}

// Execute creates the workspace, writes the brief and runs the CLI. Every
// failure is reported through Result.
func (e *Executor) Execute(ctx context.Context, task Task) Result {
	log := logging.OrDefault(e.Logger).With("slug", task.Slug)
	dir, err := e.WorkspacePath(task.Slug)
	if err != nil {
		return failed("", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return failed(dir, fmt.Errorf("create workspace: %w", err))
	}
	if err := os.WriteFile(filepath.Join(dir, e.Config.BriefFile), []byte(e.Brief(task)), 0o644); err != nil {
		return failed(dir, fmt.Errorf("write brief: %w", err))
	}

	args := append(append([]string(nil), e.Config.Args...), e.Prompt(task))
	log.Info("starting code generation", "workspace", dir, "binary", e.Config.Binary)
	start := time.Now()
	out, err := e.Runner.Run(ctx, procrun.Command{
		Name:      e.Config.Binary,
		Args:      args,
		Dir:       dir,
		Timeout:   e.Config.Timeout,
		MaxOutput: e.Config.MaxOutputBytes,
	})
	if err != nil {
		log.Warn("code generation failed", "error", err, "duration", time.Since(start))
		var exitErr *procrun.ExitError
		if errors.As(err, &exitErr) || strings.TrimSpace(out.Stderr) == "" {
			return failed(dir, fmt.Errorf("code generation exited with error: %w", err))
		}
		return failed(dir, fmt.Errorf("code generation exited with error: %w\n%s", err, out.Stderr))
	}

	artifacts, err := e.artifacts(dir)
	if err != nil {
		return failed(dir, fmt.Errorf("list workspace: %w", err))
	}
	res := Result{
		WorkspacePath: dir,
		Summary:       Truncate(out.Stdout),
		Artifacts:     artifacts,
		RepoURL:       e.readRepoURL(dir),
		Success:       true,
	}
	log.Info("code generation finished", "artifacts", len(artifacts), "repo_url", res.RepoURL, "duration", time.Since(start))
	return res
}

func failed(dir string, err error) Result {
	return Result{WorkspacePath: dir, Artifacts: []string{}, Success: false, Error: err.Error()}
}

func (e *Executor) artifacts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Name() == e.Config.BriefFile {
			continue
		}
		out = append(out, entry.Name())
	}
	sort.Strings(out)
	return out, nil
}

// readRepoURL returns the URL the CLI wrote, if it points at the repo host.
func (e *Executor) readRepoURL(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, e.Config.RepoURLFile))
	if err != nil {
		return ""
	}
	url := strings.TrimSpace(string(data))
	prefix := strings.TrimRight(e.RepoHost, "/") + "/"
	if !strings.HasPrefix(url, prefix) || len(url) == len(prefix) || strings.ContainsAny(url, " \t\n") {
		return ""
	}
	return url
}

// Truncate caps CLI output for summaries at summaryLimit characters.
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= summaryLimit {
		return s
	}
	return string(runes[:summaryLimit]) + truncatedMarker
}

// Brief renders the task document written into the workspace.
func (e *Executor) Brief(t Task) string {
	return strings.Join([]string{
		"# Bounty: " + t.Title,
		"",
		"## Type: " + t.Type,
		"",
		"## Description",
		t.Description,
		"",
		"## Requirements",
		t.Requirements,
		"",
		"## Expected Deliverable",
		t.DeliverableFormat,
		"",
		"## Instructions",
		"- Produce the deliverable described above.",
		"- Write all output files in the current directory.",
		"- Create a " + e.Config.SummaryFile + " summarizing what was produced and how to use it.",
		"- Be thorough and production-quality.",
	}, "\n")
}

// Prompt builds the single prompt argument passed to the CLI. Dev-type
// bounties also get repository creation instructions.
func (e *Executor) Prompt(t Task) string {
	lines := []string{
		fmt.Sprintf("You are working on a Superteam Earn bounty: %q.", t.Title),
		"",
		"Type: " + t.Type,
		"",
		"Description:",
		t.Description,
		"",
		"Requirements:",
		t.Requirements,
		"",
		"Deliverable format: " + t.DeliverableFormat,
		"",
		"Instructions:",
		"1. Read the " + e.Config.BriefFile + " in this directory for full context.",
		"2. Produce the required deliverable: write files, code and reports as needed.",
		"3. Create a " + e.Config.SummaryFile + " file summarizing what you produced.",
		"4. Ensure everything is complete and production-quality.",
	}
	if e.Config.IsDevType(t.Type) {
		lines = append(lines,
			"5. Initialize a git repository here and commit all files.",
			"6. Create a public remote repository with the gh CLI and push the commit.",
			"7. Write the resulting repository URL, and nothing else, into a file named "+e.Config.RepoURLFile+".",
		)
	}
	return strings.Join(lines, "\n")
}
