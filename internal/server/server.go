// Package server exposes the review API: start runs, inspect what they are
// waiting for, and resume them.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"bountyline/internal/app"
	"bountyline/internal/bounty"
	"bountyline/internal/domain"
	"bountyline/internal/migrate"
	"bountyline/internal/repo"
	"bountyline/internal/tools"
	"bountyline/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_suspended"`
	Message string         `json:"message" example:"run is not suspended"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the bountyline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(data))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, data)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Bountyline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	a := cfg.App
	registerDocs(router, basePath)
	registerHealth(group, a)
	registerHeartbeat(group, a)
	registerMe(group)
	registerRuns(group, a)
	registerEvents(group, a)
	registerDiscovery(group, a)
	registerExecution(group, a)
	registerOpenAPI(router, api, basePath, cfg.Auth.enabled())

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, workflow.ErrNotSuspended):
		return newAPIError(http.StatusConflict, "not_suspended", msg, nil)
	case errors.Is(err, workflow.ErrWorkflowMismatch):
		return newAPIError(http.StatusConflict, "workflow_mismatch", msg, nil)
	case errors.Is(err, workflow.ErrStepMismatch):
		return newAPIError(http.StatusConflict, "step_mismatch", msg, nil)
	case errors.Is(err, workflow.ErrInvalidResume):
		return newAPIError(http.StatusBadRequest, "invalid_resume", msg, nil)
	case errors.Is(err, tools.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(strings.ToLower(msg), "invalid"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

// runError reports a run that failed while advancing. The run itself is
// persisted and can be fetched by id.
func runError(run domain.Run, err error) huma.StatusError {
	if run.ID != "" && run.Status == workflow.StatusFailed {
		return newAPIError(http.StatusBadGateway, "run_failed", err.Error(), map[string]any{
			"run_id":  run.ID,
			"step_id": run.StepID,
		})
	}
	return handleError(err)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string, authEnabled bool) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			if authEnabled {
				applyAuthSecurity(oas, basePath)
			}
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Bountyline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		version, err := migrate.Current(ctx, a.DB)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok", SchemaVersion: version}}, nil
	})
}

func registerHeartbeat(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "heartbeat",
		Method:      http.MethodGet,
		Path:        "/heartbeat",
		Summary:     "Agent liveness",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body tools.HeartbeatOutput `json:"body"`
	}, error) {
		return &struct {
			Body tools.HeartbeatOutput `json:"body"`
		}{Body: a.Tools.Heartbeat()}, nil
	})
}

func registerMe(api huma.API) {
	type meResponse struct {
		ActorID string `json:"actor_id"`
		Source  string `json:"source"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Caller identity",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body meResponse `json:"body"`
	}, error) {
		resp := meResponse{ActorID: "system", Source: "anonymous"}
		if p, ok := principalFromContext(ctx); ok {
			resp = meResponse{ActorID: p.ActorID, Source: p.Source}
		}
		return &struct {
			Body meResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerRuns(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List workflow runs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		WorkflowID  string `query:"workflow_id" enum:"discovery-workflow,execution-workflow"`
		Status      string `query:"status" enum:"running,suspended,completed,failed"`
		ListingSlug string `query:"listing_slug"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedRuns `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := a.Engine.Repo.ListRuns(ctx, repo.RunFilters{
			WorkflowID:      input.WorkflowID,
			Status:          input.Status,
			ListingSlug:     input.ListingSlug,
			Limit:           limit + 1,
			CursorUpdatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedRuns{Items: []RunResponse{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.UpdatedAt, last.ID)
			items = items[:limit]
		}
		for _, run := range items {
			resp.Items = append(resp.Items, runResponse(run))
		}
		return &struct {
			Body paginatedRuns `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get a run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		run, err := a.Engine.Get(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})
}

func registerEvents(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type     string `query:"type"`
		EntityID string `query:"entity_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := a.Engine.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:     input.Type,
			EntityID: input.EntityID,
			Before:   before,
			Limit:    limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

type runOutput struct {
	Body RunResponse `json:"body"`
}

type resumeInput struct {
	RunID string `path:"run_id"`
}

func registerDiscovery(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "start-discovery",
		Method:      http.MethodPost,
		Path:        "/discovery/runs",
		Summary:     "Start a discovery run",
		Description: "Optional body: {\"take\": 20, \"deadline\": \"2025-02-01\"}. The run suspends with ranked listings.",
		Errors:      []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*runOutput, error) {
		var in bounty.DiscoveryInput
		if data := bodyBytes(ctx); !isEmptyBody(data) {
			if err := json.Unmarshal(data, &in); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid discovery input", map[string]any{"error": err.Error()})
			}
		}
		if in.Take < 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "take must be positive", nil)
		}
		run, err := a.Engine.Start(ctx, a.Workflows.Discovery(), in)
		if err != nil {
			return nil, runError(run, err)
		}
		return &runOutput{Body: runResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-discovery",
		Method:      http.MethodPost,
		Path:        "/discovery/runs/{run_id}/resume",
		Summary:     "Resume a discovery run with the selected slugs",
		Description: "Body: {\"selectedSlugs\": [\"...\"]}. An empty body keeps the run suspended.",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *resumeInput) (*runOutput, error) {
		return resume(ctx, a, a.Workflows.Discovery(), input.RunID)
	})
}

func registerExecution(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "start-execution",
		Method:      http.MethodPost,
		Path:        "/execution/runs",
		Summary:     "Start an execution run for one listing",
		Errors:      []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body StartExecutionRequest `json:"body"`
	}) (*runOutput, error) {
		slug := strings.TrimSpace(input.Body.Slug)
		if slug == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "slug is required", nil)
		}
		run, err := a.Engine.Start(ctx, a.Workflows.Execution(), bounty.ExecutionInput{Slug: slug})
		if err != nil {
			return nil, runError(run, err)
		}
		return &runOutput{Body: runResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-execution",
		Method:      http.MethodPost,
		Path:        "/execution/runs/{run_id}/resume",
		Summary:     "Approve or reject the generated work",
		Description: "Body: {\"approved\": true, \"link\": \"...\", \"otherInfo\": \"...\", \"eligibilityAnswers\": [], \"telegram\": \"@handle\"}. An empty body keeps the run suspended.",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *resumeInput) (*runOutput, error) {
		return resume(ctx, a, a.Workflows.Execution(), input.RunID)
	})
}

func resume(ctx context.Context, a *app.App, def workflow.Definition, runID string) (*runOutput, error) {
	var payload any
	if data := bodyBytes(ctx); !isEmptyBody(data) {
		if !json.Valid(data) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid resume payload", nil)
		}
		payload = json.RawMessage(data)
	}
	run, err := a.Engine.Resume(ctx, def, runID, payload)
	if err != nil {
		return nil, runError(run, err)
	}
	return &runOutput{Body: runResponse(run)}, nil
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
}

func isEmptyBody(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
