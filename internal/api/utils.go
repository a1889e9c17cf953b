package api

import (
	"encoding/json"
	"time"

	"github.com/valyala/fastjson"

	"github.com/helicone/requestquery/internal/storage"
	"github.com/helicone/requestquery/pkg/types"
)

func recordToRequest(record *storage.RequestRecord) types.Request {
	req := types.Request{
		RequestID:        record.RequestID,
		RequestCreatedAt: record.RequestCreatedAt.UTC().Format(time.RFC3339Nano),
		ResponseID:       record.ResponseID,
		ResponseStatus:   record.Status,
		UserID:           record.UserID,
		Provider:         record.Provider,
		Model:            record.Model,
		TargetURL:        record.TargetURL,
		CountryCode:      record.CountryCode,
		PromptID:         record.PromptID,
		DelayMs:          record.LatencyMs,
		TimeToFirstToken: record.TimeToFirstToken,
		PromptTokens:     record.PromptTokens,
		CompletionTokens: record.CompletionTokens,
		ReasoningTokens:  record.ReasoningTokens,
		TotalTokens:      record.TotalTokens,
		CostUSD:          record.CostUSD,
		CacheEnabled:     record.CacheEnabled,
		CacheReferenceID: record.CacheReferenceID,
		StorageLocation:  record.StorageLocation,
		RequestBody:      rawBody(record.RequestBody),
		ResponseBody:     rawBody(record.ResponseBody),
		SignedBodyURL:    record.SignedBodyURL,
		AssetIDs:         record.AssetIDs,
		Scores:           record.Scores,
		Properties:       record.Properties,
	}

	if record.ResponseCreatedAt != nil {
		responseCreatedAt := record.ResponseCreatedAt.UTC().Format(time.RFC3339Nano)
		req.ResponseCreatedAt = &responseCreatedAt
	}

	if req.AssetIDs == nil {
		req.AssetIDs = []string{}
	}

	// A failed signing keeps its entry with an empty URL.
	req.AssetURLs = make(map[string]string, len(record.AssetURLs))
	for _, a := range record.AssetURLs {
		req.AssetURLs[a.AssetID] = a.SignedURL
	}

	return req
}

// rawBody emits JSON text as-is and anything else as a JSON string.
func rawBody(body any) json.RawMessage {
	switch b := body.(type) {
	case nil:
		return json.RawMessage("null")
	case json.RawMessage:
		if len(b) == 0 {
			return json.RawMessage("null")
		}
		return b
	case string:
		if fastjson.Validate(b) == nil {
			return json.RawMessage(b)
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
