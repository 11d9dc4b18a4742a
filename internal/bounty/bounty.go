// Package bounty defines the discovery and execution workflows.
package bounty

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"bountyline/internal/codegen"
	"bountyline/internal/config"
	"bountyline/internal/domain"
	"bountyline/internal/logging"
	"bountyline/internal/publish"
	"bountyline/internal/ranking"
	"bountyline/internal/tools"
)

const (
	DiscoveryWorkflowID = "discovery-workflow"
	ExecutionWorkflowID = "execution-workflow"
)

// Marketplace is the subset of the tool layer the workflows call.
type Marketplace interface {
	DiscoverListings(ctx context.Context, in tools.DiscoverInput) (tools.DiscoverOutput, error)
	GetListingDetails(ctx context.Context, slug string) (tools.ListingDetailsOutput, error)
	FetchComments(ctx context.Context, in tools.CommentsInput) (tools.CommentsOutput, error)
	SubmitWork(ctx context.Context, s domain.Submission) (tools.SubmitOutput, error)
}

type Ranker interface {
	Rank(ctx context.Context, listings []domain.Listing) ranking.Result
}

type CodeGenerator interface {
	Execute(ctx context.Context, task codegen.Task) codegen.Result
}

type Publisher interface {
	RepoName(slug string) string
	Publish(ctx context.Context, req publish.Request) publish.Result
}

// Workflows holds the collaborators both pipelines are built from.
type Workflows struct {
	Market    Marketplace
	Ranker    Ranker
	CodeGen   CodeGenerator
	Publisher Publisher
	Config    *config.Config
	Logger    *slog.Logger
}

func (w Workflows) log() *slog.Logger {
	return logging.OrDefault(w.Logger)
}

func (w Workflows) config() *config.Config {
	if w.Config == nil {
		return config.Default()
	}
	return w.Config
}

var contactURLPrefix = regexp.MustCompile(`^https?://t\.me/`)

// NormalizeContact turns a handle ("@alice", "alice" or a t.me URL) into
// base+handle. An empty handle falls back to fallback; with neither set the
// result is empty.
func NormalizeContact(handle, fallback, base string) string {
	h := strings.TrimSpace(handle)
	if h == "" {
		h = strings.TrimSpace(fallback)
	}
	if h == "" {
		return ""
	}
	h = strings.TrimPrefix(h, "@")
	h = contactURLPrefix.ReplaceAllString(h, "")
	return base + h
}
