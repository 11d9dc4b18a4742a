package marketplace

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestFetchAddsBearerAndQuery(t *testing.T) {
	var gotAuth, gotQuery, gotMethod string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		gotMethod = r.Method
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			_ = json.Unmarshal(data, &gotBody)
		}
		_, _ = w.Write([]byte(`[{"id":"1"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "secret")
	res, err := c.Fetch(context.Background(), "/api/agents/listings/live", Options{
		Params: url.Values{"take": {"5"}},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !res.OK || res.Status != http.StatusOK {
		t.Fatalf("unexpected envelope %+v", res)
	}
	if gotAuth != "Bearer secret" || gotQuery != "take=5" || gotMethod != http.MethodGet {
		t.Fatalf("auth=%q query=%q method=%q", gotAuth, gotQuery, gotMethod)
	}

	_, err = c.Fetch(context.Background(), "/api/agents", Options{
		Method: http.MethodPost,
		Body:   map[string]any{"name": "scout"},
		NoAuth: true,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("expected no auth header, got %q", gotAuth)
	}
	if gotMethod != http.MethodPost || gotBody["name"] != "scout" {
		t.Fatalf("method=%q body=%v", gotMethod, gotBody)
	}
}

func TestFetchWithoutTokenSkipsHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res, err := New(srv.URL, "").Fetch(context.Background(), "x", Options{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if string(res.Data) != "{}" {
		t.Fatalf("empty body should become {}, got %s", res.Data)
	}
}

func TestFetchNon2xxIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"agent not claimed"}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, "t").Fetch(context.Background(), "/api/agents/submissions/create", Options{Method: http.MethodPost})
	if err != nil {
		t.Fatalf("non-2xx must not error: %v", err)
	}
	if res.OK || res.Status != http.StatusForbidden {
		t.Fatalf("envelope = %+v", res)
	}
	if got := res.Fail("Submission failed"); got != "Submission failed (403): agent not claimed" {
		t.Fatalf("fail text = %q", got)
	}
}

func TestFetchInvalidJSONBecomesEmptyObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, "t").Fetch(context.Background(), "/x", Options{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(res.Data) != "{}" {
		t.Fatalf("data = %s", res.Data)
	}
	if got := res.Fail("Update failed"); got != "Update failed (502): Unknown error" {
		t.Fatalf("fail text = %q", got)
	}
}

func TestFetchNetworkFaultPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	if _, err := New(base, "").Fetch(context.Background(), "/x", Options{}); err == nil {
		t.Fatalf("expected network error")
	}
}
