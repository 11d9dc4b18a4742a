// Package tools exposes the typed marketplace operations used by the
// workflows and the CLI. Every operation validates its input, performs at most
// one API call, and reports upstream rejections as Success=false results.
// Only transport faults are returned as errors.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bountyline/internal/config"
	"bountyline/internal/domain"
	"bountyline/internal/liveness"
	"bountyline/internal/logging"
	"bountyline/internal/marketplace"
)

// API is the marketplace transport used by the tools.
type API interface {
	Fetch(ctx context.Context, path string, opts marketplace.Options) (marketplace.Response, error)
}

type Toolset struct {
	API     API
	Tracker *liveness.Tracker
	Config  *config.Config
	Logger  *slog.Logger
	Now     func() time.Time
}

func New(api API, tracker *liveness.Tracker, cfg *config.Config, logger *slog.Logger) Toolset {
	return Toolset{API: api, Tracker: tracker, Config: cfg, Logger: logger, Now: time.Now}
}

func (t Toolset) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t Toolset) log() *slog.Logger {
	return logging.OrDefault(t.Logger)
}

// ErrInvalidInput marks input that failed schema validation.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func statusError(res marketplace.Response) string {
	return fmt.Sprintf("Failed (%d)", res.Status)
}

// DiscoverInput filters live listings.
type DiscoverInput struct {
	Take     int    `json:"take"`
	Deadline string `json:"deadline,omitempty"`
}

type DiscoverOutput struct {
	Success  bool             `json:"success"`
	Listings []domain.Listing `json:"listings,omitempty"`
	Error    string           `json:"error,omitempty"`
}

const defaultTake = 20

// DiscoverListings fetches live, agent-eligible listings.
func (t Toolset) DiscoverListings(ctx context.Context, in DiscoverInput) (DiscoverOutput, error) {
	if in.Take == 0 {
		in.Take = defaultTake
	}
	if in.Take < 0 {
		return DiscoverOutput{}, invalid("take must be positive")
	}
	params := url.Values{"take": {strconv.Itoa(in.Take)}}
	if in.Deadline != "" {
		params.Set("deadline", in.Deadline)
	}
	res, err := t.API.Fetch(ctx, "/api/agents/listings/live", marketplace.Options{Params: params})
	if err != nil {
		return DiscoverOutput{}, err
	}
	if !res.OK {
		return DiscoverOutput{Success: false, Error: statusError(res)}, nil
	}
	listings := marketplace.DecodeListings(res.Data)
	t.log().Info("discovered listings", "count", len(listings))
	return DiscoverOutput{Success: true, Listings: listings}, nil
}

type ListingDetailsOutput struct {
	Success bool            `json:"success"`
	Listing *domain.Listing `json:"listing,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// GetListingDetails fetches one listing by slug.
func (t Toolset) GetListingDetails(ctx context.Context, slug string) (ListingDetailsOutput, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return ListingDetailsOutput{}, invalid("slug is required")
	}
	res, err := t.API.Fetch(ctx, "/api/agents/listings/details/"+url.PathEscape(slug), marketplace.Options{})
	if err != nil {
		return ListingDetailsOutput{}, err
	}
	if !res.OK {
		return ListingDetailsOutput{Success: false, Error: statusError(res)}, nil
	}
	listing := marketplace.DecodeListing(res.Data)
	t.Tracker.Track("fetched details for "+slug, "analyzing requirements")
	return ListingDetailsOutput{Success: true, Listing: &listing}, nil
}

type CommentsInput struct {
	ListingID string `json:"listingId"`
	Skip      int    `json:"skip"`
	Take      int    `json:"take"`
}

type CommentsOutput struct {
	Success  bool             `json:"success"`
	Comments []domain.Comment `json:"comments,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// FetchComments reads one page of a listing's comment thread.
func (t Toolset) FetchComments(ctx context.Context, in CommentsInput) (CommentsOutput, error) {
	if strings.TrimSpace(in.ListingID) == "" {
		return CommentsOutput{}, invalid("listingId is required")
	}
	if in.Skip < 0 || in.Take < 0 {
		return CommentsOutput{}, invalid("skip and take must not be negative")
	}
	if in.Take == 0 {
		in.Take = defaultTake
	}
	params := url.Values{
		"skip": {strconv.Itoa(in.Skip)},
		"take": {strconv.Itoa(in.Take)},
	}
	res, err := t.API.Fetch(ctx, "/api/agents/comments/"+url.PathEscape(in.ListingID), marketplace.Options{Params: params})
	if err != nil {
		return CommentsOutput{}, err
	}
	if !res.OK {
		return CommentsOutput{Success: false, Error: statusError(res)}, nil
	}
	return CommentsOutput{Success: true, Comments: marketplace.DecodeComments(res.Data)}, nil
}

type PostCommentInput struct {
	RefType       string `json:"refType"`
	RefID         string `json:"refId"`
	Message       string `json:"message"`
	PocID         string `json:"pocId"`
	ReplyToID     string `json:"replyToId,omitempty"`
	ReplyToUserID string `json:"replyToUserId,omitempty"`
}

type PostCommentOutput struct {
	Success   bool   `json:"success"`
	CommentID string `json:"commentId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PostComment writes a comment, optionally as a reply.
func (t Toolset) PostComment(ctx context.Context, in PostCommentInput) (PostCommentOutput, error) {
	if in.RefType == "" {
		in.RefType = "BOUNTY"
	}
	if in.RefType != "BOUNTY" && in.RefType != "PROJECT" {
		return PostCommentOutput{}, invalid("refType must be BOUNTY or PROJECT")
	}
	if in.RefID == "" || in.Message == "" || in.PocID == "" {
		return PostCommentOutput{}, invalid("refId, message and pocId are required")
	}
	body := map[string]any{
		"refType": in.RefType,
		"refId":   in.RefID,
		"message": in.Message,
		"pocId":   in.PocID,
	}
	if in.ReplyToID != "" {
		body["replyToId"] = in.ReplyToID
	}
	if in.ReplyToUserID != "" {
		body["replyToUserId"] = in.ReplyToUserID
	}
	res, err := t.API.Fetch(ctx, "/api/agents/comments/create", marketplace.Options{Method: http.MethodPost, Body: body})
	if err != nil {
		return PostCommentOutput{}, err
	}
	if !res.OK {
		return PostCommentOutput{Success: false, Error: res.Fail("Comment failed")}, nil
	}
	return PostCommentOutput{Success: true, CommentID: marketplace.Field(res.Data, "id")}, nil
}

type RegisterOutput struct {
	Success   bool   `json:"success"`
	AgentID   string `json:"agentId,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	ClaimCode string `json:"claimCode,omitempty"`
	Username  string `json:"username,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RegisterAgent bootstraps a new agent identity. No token exists yet, so the
// request is sent without authorization.
func (t Toolset) RegisterAgent(ctx context.Context, name string) (RegisterOutput, error) {
	if strings.TrimSpace(name) == "" {
		return RegisterOutput{}, invalid("name is required")
	}
	res, err := t.API.Fetch(ctx, "/api/agents", marketplace.Options{
		Method: http.MethodPost,
		Body:   map[string]any{"name": name},
		NoAuth: true,
	})
	if err != nil {
		return RegisterOutput{}, err
	}
	if !res.OK {
		return RegisterOutput{Success: false, Error: res.Fail("Registration failed")}, nil
	}
	return RegisterOutput{
		Success:   true,
		AgentID:   marketplace.Field(res.Data, "agentId"),
		APIKey:    marketplace.Field(res.Data, "apiKey"),
		ClaimCode: marketplace.Field(res.Data, "claimCode"),
		Username:  marketplace.Field(res.Data, "username"),
	}, nil
}

type SubmitOutput struct {
	Success      bool   `json:"success"`
	SubmissionID string `json:"submissionId,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SubmissionBody builds the sparse request body: a key is present only when
// the corresponding field is set.
func SubmissionBody(s domain.Submission) map[string]any {
	body := map[string]any{"listingId": s.ListingID}
	if s.Link != "" {
		body["link"] = s.Link
	}
	if s.OtherInfo != "" {
		body["otherInfo"] = s.OtherInfo
	}
	if s.Tweet != "" {
		body["tweet"] = s.Tweet
	}
	if s.EligibilityAnswers != nil {
		body["eligibilityAnswers"] = s.EligibilityAnswers
	}
	if s.Ask != nil {
		body["ask"] = *s.Ask
	} else if s.ClearAsk {
		body["ask"] = nil
	}
	if s.Telegram != "" {
		body["telegram"] = s.Telegram
	}
	return body
}

// SubmitWork creates a submission for a listing.
func (t Toolset) SubmitWork(ctx context.Context, s domain.Submission) (SubmitOutput, error) {
	if strings.TrimSpace(s.ListingID) == "" {
		return SubmitOutput{}, invalid("listingId is required")
	}
	if s.Ask != nil && s.ClearAsk {
		return SubmitOutput{}, invalid("ask and clearAsk are mutually exclusive")
	}
	res, err := t.API.Fetch(ctx, "/api/agents/submissions/create", marketplace.Options{
		Method: http.MethodPost,
		Body:   SubmissionBody(s),
	})
	if err != nil {
		return SubmitOutput{}, err
	}
	if !res.OK {
		return SubmitOutput{Success: false, Error: res.Fail("Submission failed")}, nil
	}
	return SubmitOutput{Success: true, SubmissionID: marketplace.Field(res.Data, "id")}, nil
}

type UpdateOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// UpdateSubmission patches an existing submission with only the fields set.
func (t Toolset) UpdateSubmission(ctx context.Context, s domain.Submission) (UpdateOutput, error) {
	if strings.TrimSpace(s.ListingID) == "" {
		return UpdateOutput{}, invalid("listingId is required")
	}
	if s.Ask != nil && s.ClearAsk {
		return UpdateOutput{}, invalid("ask and clearAsk are mutually exclusive")
	}
	res, err := t.API.Fetch(ctx, "/api/agents/submissions/update", marketplace.Options{
		Method: http.MethodPost,
		Body:   SubmissionBody(s),
	})
	if err != nil {
		return UpdateOutput{}, err
	}
	if !res.OK {
		return UpdateOutput{Success: false, Error: res.Fail("Update failed")}, nil
	}
	return UpdateOutput{Success: true}, nil
}

type HeartbeatOutput struct {
	Status       liveness.Status `json:"status"`
	AgentName    string          `json:"agentName"`
	Time         string          `json:"time"`
	Version      string          `json:"version"`
	Capabilities []string        `json:"capabilities"`
	LastAction   string          `json:"lastAction"`
	NextAction   string          `json:"nextAction"`
}

// Heartbeat reports liveness from configuration and tracker state only.
func (t Toolset) Heartbeat() HeartbeatOutput {
	cfg := t.Config
	if cfg == nil {
		cfg = config.Default()
	}
	status := liveness.ResolveStatus(cfg.Marketplace.Token, cfg.Model.Token)
	snap := t.Tracker.Snapshot()
	last := snap.LastAction
	if status == liveness.StatusBlocked {
		last += " (blocked: missing SUPERTEAM_API_KEY)"
	}
	return HeartbeatOutput{
		Status:       status,
		AgentName:    cfg.Agent.Name,
		Time:         t.now().UTC().Format(time.RFC3339),
		Version:      cfg.Agent.Version,
		Capabilities: append([]string(nil), cfg.Agent.Capabilities...),
		LastAction:   last,
		NextAction:   snap.NextAction,
	}
}
