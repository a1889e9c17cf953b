package types

import (
	"encoding/json"
	"fmt"
)

type StorageLocation string

const (
	StorageInlineAnalytical  StorageLocation = "inline_analytical"
	StorageBlob              StorageLocation = "blob"
	StorageOmittedDueToLimit StorageLocation = "omitted_due_to_limit"
)

// ParseStorageLocation accepts only the three persisted states.
func ParseStorageLocation(s string) (StorageLocation, error) {
	switch loc := StorageLocation(s); loc {
	case StorageInlineAnalytical, StorageBlob, StorageOmittedDueToLimit:
		return loc, nil
	}
	return "", fmt.Errorf("unknown storage location %q", s)
}

// Body placeholders returned by stores that never hold the body text.
const (
	BodyPendingSignedURL  = `{"helicone_message": "fetching body from signed_url... contact engineering@helicone.ai for more information"}`
	BodyOmittedDueToLimit = `{"helicone_message": "body omitted: the organization exceeded the free tier request log limit"}`
)

type Dialect string

const (
	DialectRowStore   Dialect = "row_store"
	DialectAnalytical Dialect = "analytical"
	DialectEmbedded   Dialect = "embedded"
)

func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(s); d {
	case DialectRowStore, DialectAnalytical, DialectEmbedded:
		return d, nil
	}
	return "", fmt.Errorf("unknown dialect %q", s)
}

type HydratedAsset struct {
	AssetID   string `json:"asset_id"`
	SignedURL string `json:"signed_url"`
}

type Request struct {
	RequestID         string            `json:"request_id"`
	RequestCreatedAt  string            `json:"request_created_at"`
	ResponseID        *string           `json:"response_id"`
	ResponseCreatedAt *string           `json:"response_created_at"`
	ResponseStatus    int               `json:"response_status"`
	UserID            string            `json:"request_user_id"`
	Provider          string            `json:"provider"`
	Model             string            `json:"model"`
	TargetURL         string            `json:"target_url,omitempty"`
	CountryCode       string            `json:"country_code,omitempty"`
	PromptID          string            `json:"prompt_id,omitempty"`
	DelayMs           *int64            `json:"delay_ms"`
	TimeToFirstToken  *int64            `json:"time_to_first_token"`
	PromptTokens      *int64            `json:"prompt_tokens"`
	CompletionTokens  *int64            `json:"completion_tokens"`
	ReasoningTokens   *int64            `json:"reasoning_tokens"`
	TotalTokens       int64             `json:"total_tokens"`
	CostUSD           *float64          `json:"cost_usd"`
	CacheEnabled      bool              `json:"cache_enabled"`
	CacheReferenceID  string            `json:"cache_reference_id,omitempty"`
	StorageLocation   StorageLocation   `json:"storage_location"`
	RequestBody       json.RawMessage   `json:"request_body"`
	ResponseBody      json.RawMessage   `json:"response_body"`
	SignedBodyURL     *string           `json:"signed_body_url"`
	AssetIDs          []string          `json:"asset_ids"`
	AssetURLs         map[string]string `json:"asset_urls"`
	Scores            map[string]int64  `json:"scores"`
	Properties        map[string]string `json:"properties"`
}

type QueryRequest struct {
	Filter         FilterJSON `json:"filter"`
	Offset         int        `json:"offset"`
	Limit          int        `json:"limit"`
	Sort           SortSpec   `json:"sort"`
	Dialect        Dialect    `json:"dialect,omitempty"`
	GovernanceOnly bool       `json:"governance_only,omitempty"`
}

type CountRequest struct {
	Filter         FilterJSON `json:"filter"`
	Dialect        Dialect    `json:"dialect,omitempty"`
	GovernanceOnly bool       `json:"governance_only,omitempty"`
}

// Result mirrors the {data, error} envelope the dashboard clients expect.
type Result[T any] struct {
	Data  T       `json:"data"`
	Error *string `json:"error"`
}

type ErrorResponse struct {
	Data  any    `json:"data"`
	Error string `json:"error"`
}
