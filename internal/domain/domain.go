package domain

import "encoding/json"

// Listing is a marketplace-published opportunity. It is read-only here.
type Listing struct {
	ID                   string   `json:"id"`
	Slug                 string   `json:"slug"`
	Title                string   `json:"title"`
	Type                 string   `json:"type,omitempty"`
	Token                string   `json:"token,omitempty"`
	RewardAmount         *float64 `json:"rewardAmount,omitempty"`
	CompensationType     string   `json:"compensationType,omitempty"`
	Deadline             string   `json:"deadline,omitempty"`
	Description          string   `json:"description,omitempty"`
	Requirements         string   `json:"requirements,omitempty"`
	Eligibility          string   `json:"eligibility,omitempty"`
	Deliverables         string   `json:"deliverables,omitempty"`
	Template             string   `json:"template,omitempty"`
	EligibilityQuestions []string `json:"eligibilityQuestions,omitempty"`
	AgentAccess          string   `json:"agentAccess,omitempty"`
}

// RankedListing is a Listing annotated by the ranking step.
type RankedListing struct {
	Listing
	Rank        int    `json:"rank"`
	Reasoning   string `json:"reasoning"`
	Recommended bool   `json:"recommended"`
}

type Comment struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	AuthorID  string `json:"authorId,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type EligibilityAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Submission is the delivered-work record owned by the marketplace. Only
// ListingID is mandatory; empty optional fields are never sent.
type Submission struct {
	ListingID          string              `json:"listingId"`
	Link               string              `json:"link,omitempty"`
	OtherInfo          string              `json:"otherInfo,omitempty"`
	Tweet              string              `json:"tweet,omitempty"`
	EligibilityAnswers []EligibilityAnswer `json:"eligibilityAnswers,omitempty"`
	Ask                *float64            `json:"ask,omitempty"`
	// ClearAsk sends an explicit null ask, removing a previous quote.
	ClearAsk bool   `json:"clearAsk,omitempty"`
	Telegram string `json:"telegram,omitempty"`
}

// Run is one persisted workflow execution.
type Run struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      string          `json:"status" enum:"running,suspended,completed,failed"`
	StepIndex   int             `json:"step_index"`
	StepID      string          `json:"step_id,omitempty"`
	ListingSlug string          `json:"listing_slug,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	State       json.RawMessage `json:"state,omitempty"`
	Suspend     json.RawMessage `json:"suspend,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
	UpdatedAt   string          `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
