package bounty

import (
	"context"

	"bountyline/internal/domain"
	"bountyline/internal/ranking"
	"bountyline/internal/tools"
	"bountyline/internal/workflow"
)

const selectionMessage = "Review the ranked bounties above and provide selectedSlugs array to resume."

type DiscoveryInput struct {
	Take     int    `json:"take"`
	Deadline string `json:"deadline,omitempty"`
}

type FetchedListings struct {
	Listings []domain.Listing `json:"listings"`
	Warning  string           `json:"warning,omitempty"`
}

type RankedListings struct {
	RankedListings []domain.RankedListing `json:"rankedListings"`
	Source         ranking.Source         `json:"source"`
}

// SelectionRequest is exposed while the run waits for a human pick.
type SelectionRequest struct {
	RankedListings []domain.RankedListing `json:"rankedListings"`
	Message        string                 `json:"message"`
}

type Selection struct {
	SelectedSlugs []string `json:"selectedSlugs"`
}

// Discovery is fetch-listings -> analyze-and-rank -> present-to-human.
func (w Workflows) Discovery() workflow.Definition {
	return workflow.Definition{
		ID: DiscoveryWorkflowID,
		Steps: []workflow.Step{
			workflow.Define("fetch-listings", w.fetchListings),
			workflow.Define("analyze-and-rank", w.analyzeAndRank),
			workflow.Define("present-to-human", presentToHuman),
		},
	}
}

func (w Workflows) fetchListings(ctx context.Context, in DiscoveryInput, _ *struct{}) (workflow.Outcome, error) {
	if in.Take == 0 {
		in.Take = 20
	}
	out, err := w.Market.DiscoverListings(ctx, tools.DiscoverInput{Take: in.Take, Deadline: in.Deadline})
	if err != nil {
		return workflow.Outcome{}, err
	}
	if !out.Success {
		w.log().Warn("discover listings rejected", "error", out.Error)
		return workflow.Complete(FetchedListings{Listings: []domain.Listing{}, Warning: out.Error}), nil
	}
	return workflow.Complete(FetchedListings{Listings: out.Listings}), nil
}

func (w Workflows) analyzeAndRank(ctx context.Context, in FetchedListings, _ *struct{}) (workflow.Outcome, error) {
	res := w.Ranker.Rank(ctx, in.Listings)
	return workflow.Complete(RankedListings{RankedListings: res.Listings, Source: res.Source}), nil
}

func presentToHuman(_ context.Context, in RankedListings, resume *Selection) (workflow.Outcome, error) {
	if resume != nil && resume.SelectedSlugs != nil {
		return workflow.Complete(Selection{SelectedSlugs: resume.SelectedSlugs}), nil
	}
	ranked := in.RankedListings
	if ranked == nil {
		ranked = []domain.RankedListing{}
	}
	return workflow.Suspend(SelectionRequest{RankedListings: ranked, Message: selectionMessage}), nil
}
