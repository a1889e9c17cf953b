package hydrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/helicone/requestquery/internal/query"
	"github.com/helicone/requestquery/internal/storage"
	"github.com/helicone/requestquery/pkg/types"
)

type fakeSigner struct {
	mu        sync.Mutex
	keys      []string
	failAsset map[string]bool
	failBody  bool
	calls     atomic.Int32
}

func (s *fakeSigner) SignedURL(_ context.Context, tenantID, objectKey string) (string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.keys = append(s.keys, objectKey)
	s.mu.Unlock()
	if s.failBody {
		return "", errors.New("presign failed")
	}
	return "https://signed/" + tenantID + "/" + objectKey, nil
}

func (s *fakeSigner) AssetSignedURL(_ context.Context, tenantID, recordID, assetID string) (string, error) {
	s.calls.Add(1)
	if s.failAsset[assetID] {
		return "", errors.New("presign failed")
	}
	return "https://signed/" + tenantID + "/" + recordID + "/" + assetID, nil
}

func newTestHydrator(s Signer) (*Hydrator, *bytes.Buffer) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	return New(s, log, Config{Concurrency: 4}), &buf
}

func TestHydrateOmittedUntouched(t *testing.T) {
	signer := &fakeSigner{}
	h, _ := newTestHydrator(signer)

	in := &storage.RequestRecord{
		RequestID:       "r1",
		StorageLocation: types.StorageOmittedDueToLimit,
		RequestBody:     types.BodyOmittedDueToLimit,
		AssetIDs:        []string{"a1"},
	}
	out, err := h.Hydrate(context.Background(), []*storage.RequestRecord{in}, "org-1")
	if err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}
	if out[0].SignedBodyURL != nil || out[0].AssetURLs != nil {
		t.Errorf("Omitted record should not be enriched: %+v", out[0])
	}
	if out[0].RequestBody != types.BodyOmittedDueToLimit {
		t.Errorf("Omitted body changed: %v", out[0].RequestBody)
	}
	if signer.calls.Load() != 0 {
		t.Errorf("Expected no signer calls, got %d", signer.calls.Load())
	}
}

func TestHydratePartialAssetFailure(t *testing.T) {
	signer := &fakeSigner{failAsset: map[string]bool{"a2": true}}
	h, logs := newTestHydrator(signer)

	in := &storage.RequestRecord{
		RequestID:       "r1",
		StorageLocation: types.StorageBlob,
		AssetIDs:        []string{"a1", "a2", "a3"},
	}
	out, err := h.Hydrate(context.Background(), []*storage.RequestRecord{in}, "org-1")
	if err != nil {
		t.Fatalf("Hydrate should succeed on partial failure: %v", err)
	}

	assets := out[0].AssetURLs
	if len(assets) != 3 {
		t.Fatalf("Expected 3 assets, got %d", len(assets))
	}
	signed := 0
	for _, a := range assets {
		if a.SignedURL != "" {
			signed++
		}
	}
	if signed != 2 || assets[1].AssetID != "a2" || assets[1].SignedURL != "" {
		t.Errorf("Asset URLs mismatch: %+v", assets)
	}
	if assets[0].SignedURL != "https://signed/org-1/r1/a1" {
		t.Errorf("Asset URL mismatch: %s", assets[0].SignedURL)
	}
	if !strings.Contains(logs.String(), `"asset_id":"a2"`) {
		t.Errorf("Expected failure to be logged: %s", logs.String())
	}
}

func TestHydrateInlineBodies(t *testing.T) {
	h, _ := newTestHydrator(&fakeSigner{})

	in := &storage.RequestRecord{
		RequestID:       "r1",
		StorageLocation: types.StorageInlineAnalytical,
		RequestBody:     `{"model":"gpt-4","messages":[]}`,
		ResponseBody:    `{"truncated":`,
	}
	out, err := h.Hydrate(context.Background(), []*storage.RequestRecord{in}, "org-1")
	if err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}

	raw, ok := out[0].RequestBody.(json.RawMessage)
	if !ok || string(raw) != `{"model":"gpt-4","messages":[]}` {
		t.Errorf("Expected parsed request body, got %T %v", out[0].RequestBody, out[0].RequestBody)
	}
	if s, ok := out[0].ResponseBody.(string); !ok || s != `{"truncated":` {
		t.Errorf("Invalid body should stay a string, got %T %v", out[0].ResponseBody, out[0].ResponseBody)
	}
	if out[0].SignedBodyURL != nil {
		t.Error("Inline record should not get a body URL")
	}
}

func TestHydrateBlobUsesCacheReference(t *testing.T) {
	signer := &fakeSigner{}
	h, _ := newTestHydrator(signer)

	records := []*storage.RequestRecord{
		{RequestID: "r1", StorageLocation: types.StorageBlob, CacheReferenceID: "orig-7"},
		{RequestID: "r2", StorageLocation: types.StorageBlob},
	}
	out, err := h.Hydrate(context.Background(), records, "org-1")
	if err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}
	if out[0].SignedBodyURL == nil || *out[0].SignedBodyURL != "https://signed/org-1/requests/orig-7/request_response_body" {
		t.Errorf("Cached record URL mismatch: %v", out[0].SignedBodyURL)
	}
	if out[1].SignedBodyURL == nil || *out[1].SignedBodyURL != "https://signed/org-1/requests/r2/request_response_body" {
		t.Errorf("Record URL mismatch: %v", out[1].SignedBodyURL)
	}
}

func TestHydrateBodyFailureLeavesRecord(t *testing.T) {
	h, _ := newTestHydrator(&fakeSigner{failBody: true})

	in := &storage.RequestRecord{RequestID: "r1", StorageLocation: types.StorageBlob, RequestBody: types.BodyPendingSignedURL}
	out, err := h.Hydrate(context.Background(), []*storage.RequestRecord{in}, "org-1")
	if err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}
	if out[0].SignedBodyURL != nil || out[0].RequestBody != types.BodyPendingSignedURL {
		t.Errorf("Failed body should leave record untouched: %+v", out[0])
	}
}

func TestHydrateDoesNotMutateInput(t *testing.T) {
	h, _ := newTestHydrator(&fakeSigner{})

	in := &storage.RequestRecord{
		RequestID:       "r1",
		StorageLocation: types.StorageInlineAnalytical,
		RequestBody:     `{"a":1}`,
		AssetIDs:        []string{"a1"},
	}
	out, err := h.Hydrate(context.Background(), []*storage.RequestRecord{in}, "org-1")
	if err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}
	if out[0] == in {
		t.Fatal("Expected a copy, got the input pointer")
	}
	if _, ok := in.RequestBody.(string); !ok || in.AssetURLs != nil || in.SignedBodyURL != nil {
		t.Errorf("Input record was mutated: %+v", in)
	}
}

func TestHydratePreservesOrder(t *testing.T) {
	h, _ := newTestHydrator(&fakeSigner{})

	var records []*storage.RequestRecord
	for _, id := range []string{"r5", "r1", "r4", "r2", "r3", "r9", "r0"} {
		records = append(records, &storage.RequestRecord{RequestID: id, StorageLocation: types.StorageBlob, AssetIDs: []string{"x", "y"}})
	}
	out, err := h.Hydrate(context.Background(), records, "org-1")
	if err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}
	for i := range records {
		if out[i].RequestID != records[i].RequestID {
			t.Fatalf("Order changed at %d: got %s, want %s", i, out[i].RequestID, records[i].RequestID)
		}
		if out[i].AssetURLs[1].SignedURL != "https://signed/org-1/"+records[i].RequestID+"/y" {
			t.Errorf("Asset slot mismatch for %s: %+v", records[i].RequestID, out[i].AssetURLs)
		}
	}
}

func TestHydrateRequiresTenant(t *testing.T) {
	h, _ := newTestHydrator(&fakeSigner{})
	if _, err := h.Hydrate(context.Background(), nil, ""); !query.IsValidation(err) {
		t.Errorf("Expected ValidationError, got %v", err)
	}
}

func TestHydrateSkipsNilRecords(t *testing.T) {
	h, _ := newTestHydrator(&fakeSigner{})

	records := []*storage.RequestRecord{
		{RequestID: "r1", StorageLocation: types.StorageBlob},
		nil,
		{RequestID: "r2", StorageLocation: types.StorageBlob},
	}
	out, err := h.Hydrate(context.Background(), records, "org-1")
	if err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}
	if len(out) != 2 || out[0].RequestID != "r1" || out[1].RequestID != "r2" {
		t.Fatalf("Expected [r1 r2], got %+v", out)
	}
	if out[1].SignedBodyURL == nil {
		t.Errorf("Record after nil entry was not hydrated")
	}
}
