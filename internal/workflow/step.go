package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Outcome is what a step produced: either a value for the next step or a
// suspension payload for the external caller.
type Outcome struct {
	suspended bool
	value     any
}

// Complete finishes the step with v as the next step's input.
func Complete(v any) Outcome {
	return Outcome{value: v}
}

// Suspend halts the run and exposes payload until Resume is called.
func Suspend(payload any) Outcome {
	return Outcome{suspended: true, value: payload}
}

func (o Outcome) Suspended() bool { return o.suspended }

func (o Outcome) Value() any { return o.value }

// StepFunc receives the previous step's output and, only on the first step
// after a resume, the caller's resume data.
type StepFunc func(ctx context.Context, in json.RawMessage, resume json.RawMessage) (Outcome, error)

type Step struct {
	ID  string
	Run StepFunc
	// CheckResume validates resume data before the run leaves suspension.
	// Nil accepts anything.
	CheckResume func(resume json.RawMessage) error
}

// Define builds a step with typed input and resume data. resume is nil unless
// the run was resumed with a non-empty payload.
func Define[I, R any](id string, fn func(ctx context.Context, in I, resume *R) (Outcome, error)) Step {
	return Step{
		ID: id,
		CheckResume: func(rawResume json.RawMessage) error {
			if isEmpty(rawResume) {
				return nil
			}
			return json.Unmarshal(rawResume, new(R))
		},
		Run: func(ctx context.Context, raw json.RawMessage, rawResume json.RawMessage) (Outcome, error) {
			var in I
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &in); err != nil {
					return Outcome{}, fmt.Errorf("decode %s input: %w", id, err)
				}
			}
			var resume *R
			if !isEmpty(rawResume) {
				resume = new(R)
				if err := json.Unmarshal(rawResume, resume); err != nil {
					return Outcome{}, fmt.Errorf("decode %s resume data: %w", id, err)
				}
			}
			return fn(ctx, in, resume)
		},
	}
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Definition is an ordered, fixed pipeline of steps.
type Definition struct {
	ID    string
	Steps []Step
	// ListingSlug optionally extracts the listing a run is about from its input.
	ListingSlug func(input json.RawMessage) string
}

func (d Definition) validate() error {
	if d.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", d.ID)
	}
	seen := map[string]bool{}
	for _, s := range d.Steps {
		if s.ID == "" || s.Run == nil {
			return fmt.Errorf("workflow %s has an incomplete step", d.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("workflow %s has duplicate step %s", d.ID, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// StepIDs lists the step ids in order.
func (d Definition) StepIDs() []string {
	ids := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		ids[i] = s.ID
	}
	return ids
}
