package storage

import (
	"time"

	"github.com/helicone/requestquery/pkg/types"
)

type RequestRecord struct {
	RequestID         string
	RequestCreatedAt  time.Time
	ResponseID        *string
	ResponseCreatedAt *time.Time
	OrganizationID    string
	UserID            string
	Provider          string
	Model             string
	TargetURL         string
	CountryCode       string
	PromptID          string
	Status            int
	LatencyMs         *int64
	TimeToFirstToken  *int64
	PromptTokens      *int64
	CompletionTokens  *int64
	ReasoningTokens   *int64
	TotalTokens       int64
	CostUSD           *float64
	CacheEnabled      bool
	CacheReferenceID  string
	StorageLocation   types.StorageLocation

	// Bodies hold JSON text as read from the store. Hydration replaces valid
	// inline bodies with json.RawMessage.
	RequestBody  any
	ResponseBody any

	AssetIDs   []string
	Scores     map[string]int64
	Properties map[string]string

	// Set by hydration only.
	SignedBodyURL *string
	AssetURLs     []types.HydratedAsset
}

// BodyKey is the identifier blob objects are stored under. Cached responses
// share the body of the request they were served from.
func (r *RequestRecord) BodyKey() string {
	if r.CacheReferenceID != "" {
		return r.CacheReferenceID
	}
	return r.RequestID
}
