package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"bountyline/internal/config"
	"bountyline/internal/domain"
	"bountyline/internal/liveness"
	"bountyline/internal/marketplace"
	"bountyline/internal/tools"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

type testEnv struct {
	Tools   tools.Toolset
	Tracker *liveness.Tracker
	Calls   *[]recorded
	Ctx     context.Context
}

func newTestEnv(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) testEnv {
	t.Helper()
	calls := &[]recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Auth: r.Header.Get("Authorization")}
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &rec.Body); err != nil {
				t.Errorf("request body not json: %v", err)
			}
		}
		*calls = append(*calls, rec)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	cfg := config.Default()
	cfg.Marketplace.Token = "st-token"
	cfg.Model.Token = "model-token"
	tracker := liveness.NewTracker()
	ts := tools.New(marketplace.New(srv.URL, cfg.Marketplace.Token), tracker, cfg, nil)
	ts.Now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Tools: ts, Tracker: tracker, Calls: calls, Ctx: context.Background()}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestDiscoverListings(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[{"id":"1","slug":"audit-x","title":"Audit X","rewardAmount":500,"deadline":"2025-01-01","agentAccess":"AGENT_ALLOWED"},{"slug":"no-id"}]`)
	})
	out, err := env.Tools.DiscoverListings(env.Ctx, tools.DiscoverInput{Deadline: "2025-02-01"})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !out.Success || len(out.Listings) != 2 {
		t.Fatalf("output = %+v", out)
	}
	if out.Listings[0].Slug != "audit-x" || *out.Listings[0].RewardAmount != 500 || out.Listings[0].AgentAccess != "AGENT_ALLOWED" {
		t.Fatalf("listing = %+v", out.Listings[0])
	}
	if out.Listings[1].ID != "" || out.Listings[1].RewardAmount != nil {
		t.Fatalf("missing fields should default, got %+v", out.Listings[1])
	}
	call := (*env.Calls)[0]
	if call.Path != "/api/agents/listings/live" || call.Query != "deadline=2025-02-01&take=20" || call.Auth != "Bearer st-token" {
		t.Fatalf("call = %+v", call)
	}
}

func TestDiscoverListingsIsIdempotent(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[{"id":"1","slug":"a"},{"id":"2","slug":"b"}]`)
	})
	first, err := env.Tools.DiscoverListings(env.Ctx, tools.DiscoverInput{Take: 2})
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Tools.DiscoverListings(env.Ctx, tools.DiscoverInput{Take: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("outputs differ: %+v vs %+v", first, second)
	}
}

func TestDiscoverListingsFailure(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"message":"bad key"}`)
	})
	out, err := env.Tools.DiscoverListings(env.Ctx, tools.DiscoverInput{Take: 5})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if out.Success || out.Error != "Failed (401)" {
		t.Fatalf("output = %+v", out)
	}
	if _, err := env.Tools.DiscoverListings(env.Ctx, tools.DiscoverInput{Take: -1}); !errors.Is(err, tools.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestGetListingDetailsTracksLiveness(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/agents/listings/details/missing" {
			writeJSON(w, http.StatusNotFound, `{}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id":"L1","slug":"audit-x","title":"Audit X","description":"<p>Do it</p>"}`)
	})
	out, err := env.Tools.GetListingDetails(env.Ctx, "missing")
	if err != nil || out.Success || out.Error != "Failed (404)" {
		t.Fatalf("missing listing: %+v %v", out, err)
	}
	if env.Tracker.Snapshot().LastAction != "initialized" {
		t.Fatalf("failed call must not track")
	}
	out, err = env.Tools.GetListingDetails(env.Ctx, "audit-x")
	if err != nil || !out.Success {
		t.Fatalf("details: %+v %v", out, err)
	}
	if out.Listing.ID != "L1" || out.Listing.Description != "Do it" {
		t.Fatalf("listing = %+v", out.Listing)
	}
	snap := env.Tracker.Snapshot()
	if snap.LastAction != "fetched details for audit-x" || snap.NextAction != "analyzing requirements" {
		t.Fatalf("tracker = %+v", snap)
	}
}

func TestFetchComments(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[{"id":"c1","message":"Use Rust","authorId":"u1"}]`)
	})
	out, err := env.Tools.FetchComments(env.Ctx, tools.CommentsInput{ListingID: "L1", Take: 50})
	if err != nil || !out.Success {
		t.Fatalf("comments: %+v %v", out, err)
	}
	if len(out.Comments) != 1 || out.Comments[0].Message != "Use Rust" {
		t.Fatalf("comments = %+v", out.Comments)
	}
	call := (*env.Calls)[0]
	if call.Path != "/api/agents/comments/L1" || call.Query != "skip=0&take=50" {
		t.Fatalf("call = %+v", call)
	}
}

func TestPostCommentReply(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"c9"}`)
	})
	if _, err := env.Tools.PostComment(env.Ctx, tools.PostCommentInput{RefID: "L1", Message: "hi"}); !errors.Is(err, tools.ErrInvalidInput) {
		t.Fatalf("pocId should be required, got %v", err)
	}
	out, err := env.Tools.PostComment(env.Ctx, tools.PostCommentInput{RefID: "L1", Message: "hi", PocID: "p1", ReplyToID: "c1"})
	if err != nil || !out.Success || out.CommentID != "c9" {
		t.Fatalf("post: %+v %v", out, err)
	}
	body := (*env.Calls)[0].Body
	if body["refType"] != "BOUNTY" || body["replyToId"] != "c1" {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["replyToUserId"]; ok {
		t.Fatalf("absent reply user must not be sent: %v", body)
	}
}

func TestRegisterAgentSkipsAuth(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, `{"agentId":"a1","apiKey":"k","claimCode":"CLAIM","username":"scout"}`)
	})
	out, err := env.Tools.RegisterAgent(env.Ctx, "scout")
	if err != nil || !out.Success {
		t.Fatalf("register: %+v %v", out, err)
	}
	if out.APIKey != "k" || out.ClaimCode != "CLAIM" {
		t.Fatalf("output = %+v", out)
	}
	if (*env.Calls)[0].Auth != "" {
		t.Fatalf("register must not send auth")
	}
}

func TestRegisterAgentFailure(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, `{"message":"name taken"}`)
	})
	out, err := env.Tools.RegisterAgent(env.Ctx, "scout")
	if err != nil {
		t.Fatal(err)
	}
	if out.Success || out.Error != "Registration failed (409): name taken" {
		t.Fatalf("output = %+v", out)
	}
}

func TestSubmissionBodyIsSparse(t *testing.T) {
	ask := 250.0
	cases := []struct {
		name string
		in   domain.Submission
		keys []string
	}{
		{"listing only", domain.Submission{ListingID: "L1"}, []string{"listingId"}},
		{"link and info", domain.Submission{ListingID: "L1", Link: "https://x", OtherInfo: "notes"}, []string{"link", "listingId", "otherInfo"}},
		{"all", domain.Submission{
			ListingID: "L1", Link: "l", OtherInfo: "o", Tweet: "t", Ask: &ask, Telegram: "http://t.me/a",
			EligibilityAnswers: []domain.EligibilityAnswer{{Question: "q", Answer: "a"}},
		}, []string{"ask", "eligibilityAnswers", "link", "listingId", "otherInfo", "telegram", "tweet"}},
		{"cleared ask", domain.Submission{ListingID: "L1", ClearAsk: true}, []string{"ask", "listingId"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			body := tools.SubmissionBody(c.in)
			var keys []string
			for k := range body {
				keys = append(keys, k)
			}
			if !sameKeys(keys, c.keys) {
				t.Fatalf("keys = %v, want %v", keys, c.keys)
			}
		})
	}
}

func sameKeys(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	set := map[string]bool{}
	for _, k := range got {
		set[k] = true
	}
	for _, k := range want {
		if !set[k] {
			return false
		}
	}
	return true
}

func TestSubmitAndUpdateSendOnlyPresentFields(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/update") {
			writeJSON(w, http.StatusBadRequest, `{"message":"closed"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id":"sub-1"}`)
	})
	out, err := env.Tools.SubmitWork(env.Ctx, domain.Submission{ListingID: "L1", Link: "https://github.com/a/b"})
	if err != nil || !out.Success || out.SubmissionID != "sub-1" {
		t.Fatalf("submit: %+v %v", out, err)
	}
	upd, err := env.Tools.UpdateSubmission(env.Ctx, domain.Submission{ListingID: "L1", OtherInfo: "v2"})
	if err != nil {
		t.Fatal(err)
	}
	if upd.Success || upd.Error != "Update failed (400): closed" {
		t.Fatalf("update = %+v", upd)
	}
	submitBody := (*env.Calls)[0].Body
	if len(submitBody) != 2 || submitBody["link"] != "https://github.com/a/b" {
		t.Fatalf("submit body = %v", submitBody)
	}
	updateBody := (*env.Calls)[1].Body
	if len(updateBody) != 2 || updateBody["otherInfo"] != "v2" {
		t.Fatalf("update body = %v", updateBody)
	}
	if (*env.Calls)[1].Path != "/api/agents/submissions/update" {
		t.Fatalf("update path = %s", (*env.Calls)[1].Path)
	}
}

func TestUpdateSubmissionClearsAsk(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"ok":true}`)
	})
	upd, err := env.Tools.UpdateSubmission(env.Ctx, domain.Submission{ListingID: "L1", ClearAsk: true})
	if err != nil || !upd.Success {
		t.Fatalf("update = %+v (%v)", upd, err)
	}
	body := (*env.Calls)[0].Body
	v, ok := body["ask"]
	if !ok || v != nil {
		t.Fatalf("ask should be an explicit null: %v", body)
	}

	ask := 10.0
	_, err = env.Tools.UpdateSubmission(env.Ctx, domain.Submission{ListingID: "L1", Ask: &ask, ClearAsk: true})
	if !errors.Is(err, tools.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestHeartbeatStatusLadder(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("heartbeat must not call the API")
	})
	hb := env.Tools.Heartbeat()
	if hb.Status != liveness.StatusOK || hb.AgentName != "SentinelPrime" || hb.LastAction != "initialized" {
		t.Fatalf("heartbeat = %+v", hb)
	}
	if hb.Time != "2025-01-01T12:00:00Z" || len(hb.Capabilities) != 4 {
		t.Fatalf("heartbeat = %+v", hb)
	}

	env.Tools.Config.Model.Token = ""
	if hb := env.Tools.Heartbeat(); hb.Status != liveness.StatusDegraded || hb.LastAction != "initialized" {
		t.Fatalf("degraded heartbeat = %+v", hb)
	}

	env.Tools.Config.Marketplace.Token = ""
	env.Tools.Config.Model.Token = "model-token"
	hb = env.Tools.Heartbeat()
	if hb.Status != liveness.StatusBlocked {
		t.Fatalf("status = %s", hb.Status)
	}
	if hb.LastAction != "initialized (blocked: missing SUPERTEAM_API_KEY)" {
		t.Fatalf("last action = %q", hb.LastAction)
	}
}
