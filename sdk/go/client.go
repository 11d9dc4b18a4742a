// Package bountylinesdk is a small client for the bountyline review API.
package bountylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a running `bl serve`.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  30 * time.Second,
	}
}

// Run mirrors the API run model. Suspend and Output stay raw so callers can
// decode them into their own types.
type Run struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      string          `json:"status"`
	StepIndex   int             `json:"step_index"`
	StepID      string          `json:"step_id"`
	ListingSlug string          `json:"listing_slug"`
	Suspend     json.RawMessage `json:"suspend,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type PaginatedRuns struct {
	Items      []Run  `json:"items"`
	NextCursor string `json:"next_cursor"`
}

type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// EligibilityAnswer answers one of the listing's eligibility questions.
type EligibilityAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Review is the payload that approves or rejects an execution run.
type Review struct {
	Approved           bool                `json:"approved"`
	Link               string              `json:"link,omitempty"`
	OtherInfo          string              `json:"otherInfo,omitempty"`
	EligibilityAnswers []EligibilityAnswer `json:"eligibilityAnswers,omitempty"`
	Telegram           string              `json:"telegram,omitempty"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	WorkflowID  string
	Status      string
	ListingSlug string
	Limit       int
	Cursor      string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartDiscovery starts a discovery run. take <= 0 uses the server default.
func (c *Client) StartDiscovery(ctx context.Context, take int, deadline string) (Run, error) {
	body := map[string]any{}
	if take > 0 {
		body["take"] = take
	}
	if deadline != "" {
		body["deadline"] = deadline
	}
	var resp Run
	err := c.do(ctx, http.MethodPost, "discovery/runs", body, &resp)
	return resp, err
}

// SelectListings resumes a discovery run with the chosen slugs.
func (c *Client) SelectListings(ctx context.Context, runID string, slugs []string) (Run, error) {
	if slugs == nil {
		slugs = []string{}
	}
	var resp Run
	err := c.do(ctx, http.MethodPost, "discovery/runs/"+url.PathEscape(runID)+"/resume", map[string]any{"selectedSlugs": slugs}, &resp)
	return resp, err
}

// StartExecution starts an execution run for slug.
func (c *Client) StartExecution(ctx context.Context, slug string) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodPost, "execution/runs", map[string]any{"slug": slug}, &resp)
	return resp, err
}

// Review resumes an execution run with the reviewer's decision.
func (c *Client) Review(ctx context.Context, runID string, review Review) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodPost, "execution/runs/"+url.PathEscape(runID)+"/resume", review, &resp)
	return resp, err
}

// GetRun fetches one run.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(runID), nil, &resp)
	return resp, err
}

// ListRuns returns one page of runs, newest first.
func (c *Client) ListRuns(ctx context.Context, f RunFilter) (PaginatedRuns, error) {
	q := url.Values{}
	setQuery(q, "workflow_id", f.WorkflowID)
	setQuery(q, "status", f.Status)
	setQuery(q, "listing_slug", f.ListingSlug)
	setQuery(q, "cursor", f.Cursor)
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	var resp PaginatedRuns
	err := c.do(ctx, http.MethodGet, withQuery("runs", q), nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, runID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	setQuery(q, "entity_id", runID)
	setQuery(q, "cursor", cursor)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func setQuery(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	} else if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
