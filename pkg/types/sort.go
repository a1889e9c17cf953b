package types

import "strings"

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Normalize returns the canonical direction, or "" when d is not a direction.
func (d SortDirection) Normalize() SortDirection {
	switch strings.ToLower(string(d)) {
	case "asc":
		return SortAsc
	case "desc":
		return SortDesc
	}
	return ""
}

// SortSpec selects at most one sort key. When several are set, the first
// populated field in declaration order wins.
type SortSpec struct {
	CreatedAt        SortDirection            `json:"created_at,omitempty"`
	Latency          SortDirection            `json:"latency,omitempty"`
	TotalTokens      SortDirection            `json:"total_tokens,omitempty"`
	PromptTokens     SortDirection            `json:"prompt_tokens,omitempty"`
	CompletionTokens SortDirection            `json:"completion_tokens,omitempty"`
	Cost             SortDirection            `json:"cost,omitempty"`
	TimeToFirstToken SortDirection            `json:"time_to_first_token,omitempty"`
	UserID           SortDirection            `json:"user_id,omitempty"`
	BodyModel        SortDirection            `json:"body_model,omitempty"`
	IsCached         SortDirection            `json:"is_cached,omitempty"`
	RequestPrompt    SortDirection            `json:"request_prompt,omitempty"`
	ResponseText     SortDirection            `json:"response_text,omitempty"`
	Properties       map[string]SortDirection `json:"properties,omitempty"`
	Values           map[string]SortDirection `json:"values,omitempty"`
}
