// Package ranking orders discovered listings with a language model and falls
// back to a deterministic ranking when the model output is unusable.
package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"bountyline/internal/domain"
	"bountyline/internal/llm"
	"bountyline/internal/logging"
	"bountyline/internal/marketplace"
)

// Source tells which branch produced a ranking.
type Source string

const (
	SourceEmpty    Source = "empty"
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

const (
	FallbackReasoning = "Auto-ranked by position"
	recommendedCount  = 3
)

// Result is either a parsed model ranking or the positional fallback. Reason
// explains why the fallback was taken.
type Result struct {
	Source   Source                 `json:"source"`
	Listings []domain.RankedListing `json:"rankedListings"`
	Reason   string                 `json:"reason,omitempty"`
}

type Ranker struct {
	Model  llm.Generator
	Logger *slog.Logger
}

func New(model llm.Generator, logger *slog.Logger) *Ranker {
	return &Ranker{Model: model, Logger: logger}
}

// Rank orders listings. An empty input never reaches the model.
func (r *Ranker) Rank(ctx context.Context, listings []domain.Listing) Result {
	if len(listings) == 0 {
		return Result{Source: SourceEmpty, Listings: []domain.RankedListing{}}
	}
	log := logging.OrDefault(r.Logger)
	prompt, err := Prompt(listings)
	if err != nil {
		return Fallback(listings, err.Error())
	}
	if r.Model == nil {
		return Fallback(listings, "no model configured")
	}
	text, err := r.Model.Generate(ctx, prompt)
	if err != nil {
		log.Warn("ranking model failed, using positional ranking", "error", err)
		return Fallback(listings, err.Error())
	}
	ranked, err := Parse(text)
	if err != nil {
		log.Warn("ranking output unusable, using positional ranking", "error", err)
		return Fallback(listings, err.Error())
	}
	log.Info("ranked listings", "count", len(ranked))
	return Result{Source: SourceModel, Listings: ranked}
}

// Prompt embeds the listing set as indented JSON.
func Prompt(listings []domain.Listing) (string, error) {
	data, err := json.MarshalIndent(listings, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode listings: %w", err)
	}
	return strings.Join([]string{
		"Analyze and rank these Superteam Earn bounties by feasibility and value.",
		"Consider: reward amount, deadline proximity, bounty type (we excel at dev and analysis),",
		"and clarity of requirements.",
		"",
		"Listings:",
		string(data),
		"",
		"Return a JSON array with each listing plus rank (1=best), reasoning, and recommended (boolean).",
		"Only output valid JSON, no markdown.",
	}, "\n"), nil
}

var (
	ErrNotJSON  = errors.New("model output is not valid JSON")
	ErrNotArray = errors.New("model output is not a JSON array")

	fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```$")
)

// Parse reads the model's ranking array. Output wrapped in a Markdown code
// fence is unwrapped first.
func Parse(text string) ([]domain.RankedListing, error) {
	text = strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if !json.Valid([]byte(text)) {
		return nil, ErrNotJSON
	}
	if !strings.HasPrefix(text, "[") {
		return nil, ErrNotArray
	}
	items := marketplace.DecodeArray(json.RawMessage(text))
	out := make([]domain.RankedListing, 0, len(items))
	for _, item := range items {
		out = append(out, marketplace.DecodeRankedListing(item))
	}
	return out, nil
}

// Fallback keeps input order, ranks by 1-based position and recommends the
// first three entries.
func Fallback(listings []domain.Listing, reason string) Result {
	out := make([]domain.RankedListing, len(listings))
	for i, l := range listings {
		out[i] = domain.RankedListing{
			Listing:     l,
			Rank:        i + 1,
			Reasoning:   FallbackReasoning,
			Recommended: i < recommendedCount,
		}
	}
	return Result{Source: SourceFallback, Listings: out, Reason: reason}
}
