package server

import (
	"encoding/json"

	"bountyline/internal/domain"
)

// Request payloads

type StartExecutionRequest struct {
	Slug string `json:"slug" minLength:"1" doc:"Listing slug to work on"`
}

// Response payloads

type HealthResponse struct {
	Status        string `json:"status" example:"ok"`
	SchemaVersion int    `json:"schema_version"`
}

type RunResponse struct {
	ID          string `json:"id"`
	WorkflowID  string `json:"workflow_id"`
	Status      string `json:"status" enum:"running,suspended,completed,failed"`
	StepIndex   int    `json:"step_index"`
	StepID      string `json:"step_id,omitempty"`
	ListingSlug string `json:"listing_slug,omitempty"`
	Input       any    `json:"input,omitempty"`
	State       any    `json:"state,omitempty"`
	Suspend     any    `json:"suspend,omitempty" doc:"Payload shown to the human while the run waits"`
	Output      any    `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedRuns struct {
	Items      []RunResponse `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func runResponse(r domain.Run) RunResponse {
	return RunResponse{
		ID:          r.ID,
		WorkflowID:  r.WorkflowID,
		Status:      r.Status,
		StepIndex:   r.StepIndex,
		StepID:      r.StepID,
		ListingSlug: r.ListingSlug,
		Input:       decodeRaw(r.Input),
		State:       decodeRaw(r.State),
		Suspend:     decodeRaw(r.Suspend),
		Output:      decodeRaw(r.Output),
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
