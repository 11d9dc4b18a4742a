package marketplace

import (
	"encoding/json"
	"strconv"
	"strings"

	"bountyline/internal/domain"
)

// Records coming from the marketplace are decoded field by field. A missing
// or wrong-typed field maps to its zero value (or nil for optional numbers)
// instead of failing the whole record or batch.

type rawRecord map[string]json.RawMessage

func decodeRecord(data json.RawMessage) rawRecord {
	var rec rawRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return rawRecord{}
	}
	return rec
}

// DecodeArray splits a JSON array into its elements. Anything that is not an
// array yields no elements.
func DecodeArray(data json.RawMessage) []json.RawMessage {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	return items
}

func (r rawRecord) str(key string) string {
	return lenientString(r[key])
}

func (r rawRecord) num(key string) *float64 {
	return lenientNumber(r[key])
}

// DecodeListing maps a raw listing object to a fully typed Listing.
func DecodeListing(data json.RawMessage) domain.Listing {
	r := decodeRecord(data)
	return domain.Listing{
		ID:                   r.str("id"),
		Slug:                 r.str("slug"),
		Title:                r.str("title"),
		Type:                 r.str("type"),
		Token:                r.str("token"),
		RewardAmount:         r.num("rewardAmount"),
		CompensationType:     r.str("compensationType"),
		Deadline:             r.str("deadline"),
		Description:          PlainText(r.str("description")),
		Requirements:         PlainText(r.str("requirements")),
		Eligibility:          PlainText(r.str("eligibility")),
		Deliverables:         r.str("deliverables"),
		Template:             r.str("template"),
		EligibilityQuestions: questions(r["eligibilityQuestions"]),
		AgentAccess:          r.str("agentAccess"),
	}
}

// DecodeListings decodes every element of a listing array; non-arrays decode
// to an empty, non-nil slice.
func DecodeListings(data json.RawMessage) []domain.Listing {
	items := DecodeArray(data)
	out := make([]domain.Listing, 0, len(items))
	for _, item := range items {
		out = append(out, DecodeListing(item))
	}
	return out
}

func DecodeComment(data json.RawMessage) domain.Comment {
	r := decodeRecord(data)
	return domain.Comment{
		ID:        r.str("id"),
		Message:   r.str("message"),
		AuthorID:  r.str("authorId"),
		CreatedAt: r.str("createdAt"),
	}
}

func DecodeComments(data json.RawMessage) []domain.Comment {
	items := DecodeArray(data)
	out := make([]domain.Comment, 0, len(items))
	for _, item := range items {
		out = append(out, DecodeComment(item))
	}
	return out
}

// DecodeRankedListing reads a model-produced ranking entry.
func DecodeRankedListing(data json.RawMessage) domain.RankedListing {
	r := decodeRecord(data)
	rank := 0
	if n := r.num("rank"); n != nil {
		rank = int(*n)
	}
	recommended := false
	_ = json.Unmarshal(r["recommended"], &recommended)
	return domain.RankedListing{
		Listing:     DecodeListing(data),
		Rank:        rank,
		Reasoning:   r.str("reasoning"),
		Recommended: recommended,
	}
}

// Field reads one string field from an arbitrary JSON object.
func Field(data json.RawMessage, key string) string {
	return decodeRecord(data).str(key)
}

func lenientString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func lenientNumber(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &v
		}
	}
	return nil
}

// questions accepts ["q1", ...] as well as [{"question": "q1"}, ...].
func questions(raw json.RawMessage) []string {
	var out []string
	for _, item := range DecodeArray(raw) {
		if q := lenientString(item); q != "" {
			out = append(out, q)
			continue
		}
		if q := decodeRecord(item).str("question"); q != "" {
			out = append(out, q)
		}
	}
	return out
}
