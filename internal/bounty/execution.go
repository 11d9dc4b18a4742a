package bounty

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"bountyline/internal/codegen"
	"bountyline/internal/domain"
	"bountyline/internal/publish"
	"bountyline/internal/tools"
	"bountyline/internal/workflow"
)

const (
	commentPageSize     = 50
	defaultBountyType   = "bounty"
	defaultDeliverable  = "See description"
	notApprovedError    = "Submission not approved by human reviewer"
	reviewMessage       = "Review the bounty output above. Resume with { approved: true/false, link?, otherInfo?, eligibilityAnswers?, telegram? }"
	publishFailedPrefix = "GitHub publish failed: "
)

type ExecutionInput struct {
	Slug string `json:"slug"`
}

// Analysis is the deep-analysis view of one listing.
type Analysis struct {
	ListingID            string           `json:"listingId"`
	Slug                 string           `json:"slug"`
	Title                string           `json:"title"`
	Description          string           `json:"description"`
	Type                 string           `json:"type"`
	Requirements         string           `json:"requirements"`
	DeliverableFormat    string           `json:"deliverableFormat"`
	RewardAmount         *float64         `json:"rewardAmount,omitempty"`
	EligibilityQuestions []string         `json:"eligibilityQuestions,omitempty"`
	Comments             []domain.Comment `json:"comments,omitempty"`
}

// Generated carries the code generation result through publish and review.
type Generated struct {
	ListingID            string   `json:"listingId"`
	Slug                 string   `json:"slug"`
	Title                string   `json:"title"`
	Type                 string   `json:"type"`
	WorkspacePath        string   `json:"workspacePath"`
	Summary              string   `json:"summary"`
	Artifacts            []string `json:"artifacts"`
	Success              bool     `json:"success"`
	Error                string   `json:"error,omitempty"`
	RepoURL              string   `json:"repoUrl,omitempty"`
	EligibilityQuestions []string `json:"eligibilityQuestions,omitempty"`
}

// ReviewRequest is exposed while the run waits for approval.
type ReviewRequest struct {
	Title                string   `json:"title"`
	WorkspacePath        string   `json:"workspacePath"`
	Summary              string   `json:"summary"`
	Artifacts            []string `json:"artifacts"`
	Success              bool     `json:"success"`
	Error                string   `json:"error,omitempty"`
	RepoURL              string   `json:"repoUrl,omitempty"`
	EligibilityQuestions []string `json:"eligibilityQuestions,omitempty"`
	Message              string   `json:"message"`
}

// ReviewDecision is the human reviewer's resume payload.
type ReviewDecision struct {
	Approved           bool                       `json:"approved"`
	Link               string                     `json:"link,omitempty"`
	OtherInfo          string                     `json:"otherInfo,omitempty"`
	EligibilityAnswers []domain.EligibilityAnswer `json:"eligibilityAnswers,omitempty"`
	Telegram           string                     `json:"telegram,omitempty"`
}

type SubmitRequest struct {
	Approved           bool                       `json:"approved"`
	ListingID          string                     `json:"listingId"`
	Link               string                     `json:"link,omitempty"`
	OtherInfo          string                     `json:"otherInfo,omitempty"`
	EligibilityAnswers []domain.EligibilityAnswer `json:"eligibilityAnswers,omitempty"`
	Telegram           string                     `json:"telegram,omitempty"`
}

type ExecutionResult struct {
	Submitted    bool   `json:"submitted"`
	SubmissionID string `json:"submissionId,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Execution is deep-analysis -> generate -> [publish] -> human-review ->
// submit-work. The publish step is present only when publishing is enabled.
func (w Workflows) Execution() workflow.Definition {
	steps := []workflow.Step{
		workflow.Define("deep-analysis", w.deepAnalysis),
		workflow.Define("generate", w.generate),
	}
	if w.config().Publish.Enabled {
		steps = append(steps, workflow.Define("publish", w.publish))
	}
	steps = append(steps,
		workflow.Define("human-review", humanReview),
		workflow.Define("submit-work", w.submit),
	)
	return workflow.Definition{
		ID:          ExecutionWorkflowID,
		Steps:       steps,
		ListingSlug: executionSlug,
	}
}

func executionSlug(input json.RawMessage) string {
	var in ExecutionInput
	_ = json.Unmarshal(input, &in)
	return in.Slug
}

func (w Workflows) deepAnalysis(ctx context.Context, in ExecutionInput, _ *struct{}) (workflow.Outcome, error) {
	details, err := w.Market.GetListingDetails(ctx, in.Slug)
	if err != nil {
		return workflow.Outcome{}, err
	}
	var listing domain.Listing
	if details.Success && details.Listing != nil {
		listing = *details.Listing
	} else {
		w.log().Warn("listing details unavailable", "slug", in.Slug, "error", details.Error)
	}

	var comments []domain.Comment
	if listing.ID != "" {
		res, err := w.Market.FetchComments(ctx, tools.CommentsInput{ListingID: listing.ID, Take: commentPageSize})
		if err != nil {
			return workflow.Outcome{}, err
		}
		comments = res.Comments
	}

	description := joinNonEmpty("\n\n", listing.Description, listing.Requirements, listing.Eligibility)
	return workflow.Complete(Analysis{
		ListingID:            listing.ID,
		Slug:                 in.Slug,
		Title:                firstNonEmpty(listing.Title, in.Slug),
		Description:          description,
		Type:                 firstNonEmpty(listing.Type, defaultBountyType),
		Requirements:         firstNonEmpty(listing.Requirements, description),
		DeliverableFormat:    firstNonEmpty(listing.Deliverables, listing.Template, defaultDeliverable),
		RewardAmount:         listing.RewardAmount,
		EligibilityQuestions: listing.EligibilityQuestions,
		Comments:             comments,
	}), nil
}

func (w Workflows) generate(ctx context.Context, in Analysis, _ *struct{}) (workflow.Outcome, error) {
	res := w.CodeGen.Execute(ctx, codegen.Task{
		Slug:              in.Slug,
		Title:             in.Title,
		Description:       in.Description,
		Type:              in.Type,
		Requirements:      EnrichRequirements(in.Requirements, in.Comments),
		DeliverableFormat: in.DeliverableFormat,
	})
	return workflow.Complete(Generated{
		ListingID:            in.ListingID,
		Slug:                 in.Slug,
		Title:                in.Title,
		Type:                 in.Type,
		WorkspacePath:        res.WorkspacePath,
		Summary:              res.Summary,
		Artifacts:            res.Artifacts,
		Success:              res.Success,
		Error:                res.Error,
		RepoURL:              res.RepoURL,
		EligibilityQuestions: in.EligibilityQuestions,
	}), nil
}

// EnrichRequirements appends the listing's comment messages as a bullet list.
func EnrichRequirements(requirements string, comments []domain.Comment) string {
	if len(comments) == 0 {
		return requirements
	}
	lines := make([]string, len(comments))
	for i, c := range comments {
		lines[i] = "- " + c.Message
	}
	return requirements + "\n\nRelevant comments from the listing:\n" + strings.Join(lines, "\n")
}

func (w Workflows) publish(ctx context.Context, in Generated, _ *struct{}) (workflow.Outcome, error) {
	if !w.config().CodeGen.IsDevType(in.Type) || !in.Success {
		in.RepoURL = ""
		return workflow.Complete(in), nil
	}
	if in.RepoURL != "" {
		w.log().Info("reusing repository created during generation", "slug", in.Slug, "url", in.RepoURL)
		return workflow.Complete(in), nil
	}
	res := w.Publisher.Publish(ctx, publish.Request{
		WorkspacePath: in.WorkspacePath,
		RepoName:      w.Publisher.RepoName(in.Slug),
		Description:   in.Title,
		Private:       w.config().Publish.Private,
	})
	if !res.Success {
		in.Error = joinNonEmpty("; ", in.Error, publishFailedPrefix+res.Error)
		in.RepoURL = ""
		return workflow.Complete(in), nil
	}
	in.RepoURL = res.RepoURL
	return workflow.Complete(in), nil
}

func humanReview(_ context.Context, in Generated, resume *ReviewDecision) (workflow.Outcome, error) {
	if resume != nil {
		return workflow.Complete(SubmitRequest{
			Approved:           resume.Approved,
			ListingID:          in.ListingID,
			Link:               firstNonEmpty(resume.Link, in.RepoURL),
			OtherInfo:          resume.OtherInfo,
			EligibilityAnswers: resume.EligibilityAnswers,
			Telegram:           resume.Telegram,
		}), nil
	}
	artifacts := in.Artifacts
	if artifacts == nil {
		artifacts = []string{}
	}
	message := reviewMessage
	if in.RepoURL != "" {
		message += " Repository: " + in.RepoURL + " (used as the submission link unless link is given)."
	}
	return workflow.Suspend(ReviewRequest{
		Title:                in.Title,
		WorkspacePath:        in.WorkspacePath,
		Summary:              in.Summary,
		Artifacts:            artifacts,
		Success:              in.Success,
		Error:                in.Error,
		RepoURL:              in.RepoURL,
		EligibilityQuestions: in.EligibilityQuestions,
		Message:              message,
	}), nil
}

func (w Workflows) submit(ctx context.Context, in SubmitRequest, _ *struct{}) (workflow.Outcome, error) {
	if !in.Approved {
		return workflow.Complete(ExecutionResult{Submitted: false, Error: notApprovedError}), nil
	}
	cfg := w.config()
	res, err := w.Market.SubmitWork(ctx, domain.Submission{
		ListingID:          in.ListingID,
		Link:               in.Link,
		OtherInfo:          in.OtherInfo,
		EligibilityAnswers: in.EligibilityAnswers,
		Telegram:           NormalizeContact(in.Telegram, cfg.Contact.DefaultHandle, cfg.Contact.BaseURL),
	})
	if errors.Is(err, tools.ErrInvalidInput) {
		return workflow.Complete(ExecutionResult{Submitted: false, Error: err.Error()}), nil
	}
	if err != nil {
		return workflow.Outcome{}, err
	}
	if !res.Success {
		return workflow.Complete(ExecutionResult{Submitted: false, Error: res.Error}), nil
	}
	return workflow.Complete(ExecutionResult{Submitted: true, SubmissionID: res.SubmissionID}), nil
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
