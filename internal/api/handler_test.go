package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/helicone/requestquery/internal/engine"
	"github.com/helicone/requestquery/internal/query"
	"github.com/helicone/requestquery/internal/storage"
	"github.com/helicone/requestquery/internal/storage/sqlite"
	"github.com/helicone/requestquery/pkg/types"
)

type fakeEngine struct {
	records []*storage.RequestRecord
	count   int64
	err     error

	tenantID string
	query    engine.QueryParams
	counted  engine.CountParams
}

func (f *fakeEngine) Query(_ context.Context, tenantID string, p engine.QueryParams) ([]*storage.RequestRecord, error) {
	f.tenantID = tenantID
	f.query = p
	return f.records, f.err
}

func (f *fakeEngine) Count(_ context.Context, tenantID string, p engine.CountParams) (int64, error) {
	f.tenantID = tenantID
	f.counted = p
	return f.count, f.err
}

func setupTestApp(t *testing.T, e Engine) *fiber.App {
	t.Helper()
	app := fiber.New()
	SetupRoutes(app, e, nil)
	return app
}

func post(t *testing.T, app *fiber.App, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func tenant(id string) map[string]string {
	return map[string]string{HeaderOrganizationID: id}
}

func TestHealthEndpoint(t *testing.T) {
	app := setupTestApp(t, &fakeEngine{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app := setupTestApp(t, &fakeEngine{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestQueryRequests(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	signed := "https://signed/body"
	fake := &fakeEngine{records: []*storage.RequestRecord{{
		RequestID:        "r1",
		RequestCreatedAt: created,
		Status:           200,
		Model:            "gpt-4o",
		StorageLocation:  types.StorageBlob,
		RequestBody:      types.BodyPendingSignedURL,
		ResponseBody:     json.RawMessage(`{"choices":[]}`),
		SignedBodyURL:    &signed,
		AssetIDs:         []string{"a1", "a2"},
		AssetURLs: []types.HydratedAsset{
			{AssetID: "a1", SignedURL: "https://signed/a1"},
			{AssetID: "a2"},
		},
		Properties: map[string]string{"env": "prod"},
	}}}
	app := setupTestApp(t, fake)

	body := `{"filter": {"request": {"model": {"equals": "gpt-4o"}}}, "limit": 10, "offset": 5, "sort": {"latency": "asc"}, "dialect": "embedded"}`
	resp := post(t, app, "/v1/request/query", body, tenant("org-1"))
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(data))
	}

	if fake.tenantID != "org-1" {
		t.Errorf("Tenant mismatch: got %q", fake.tenantID)
	}
	if fake.query.Limit != 10 || fake.query.Offset != 5 || fake.query.Dialect != types.DialectEmbedded {
		t.Errorf("Params mismatch: %+v", fake.query)
	}
	if fake.query.Sort.Latency != types.SortAsc {
		t.Errorf("Sort mismatch: %+v", fake.query.Sort)
	}
	leaf, ok := fake.query.Filter.(types.Leaf)
	if !ok || leaf.Field != "model" || leaf.Operand != "gpt-4o" {
		t.Errorf("Filter mismatch: %#v", fake.query.Filter)
	}

	var result struct {
		Data  []map[string]any `json:"data"`
		Error *string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result.Error != nil {
		t.Fatalf("Unexpected error: %s", *result.Error)
	}
	if len(result.Data) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(result.Data))
	}
	got := result.Data[0]
	if got["request_created_at"] != "2024-06-01T12:00:00Z" {
		t.Errorf("Created at mismatch: %v", got["request_created_at"])
	}
	if _, ok := got["request_body"].(map[string]any); !ok {
		t.Errorf("Placeholder body should be a JSON object, got %T", got["request_body"])
	}
	if _, ok := got["response_body"].(map[string]any); !ok {
		t.Errorf("Inline body should be a JSON object, got %T", got["response_body"])
	}
	assets, _ := got["asset_urls"].(map[string]any)
	if len(assets) != 2 || assets["a1"] != "https://signed/a1" {
		t.Errorf("Asset URLs mismatch: %v", got["asset_urls"])
	}
	if failed, ok := assets["a2"]; !ok || failed != "" {
		t.Errorf("Failed asset should map to an empty URL, got %v (present=%v)", failed, ok)
	}
	if got["signed_body_url"] != signed {
		t.Errorf("Signed body URL mismatch: %v", got["signed_body_url"])
	}
}

func TestQueryRequestsDefaultsToAll(t *testing.T) {
	fake := &fakeEngine{}
	app := setupTestApp(t, fake)

	resp := post(t, app, "/v1/request/query", `{"limit": 1}`, tenant("org-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if _, ok := fake.query.Filter.(types.All); !ok {
		t.Errorf("Expected match-all filter, got %#v", fake.query.Filter)
	}

	var result struct {
		Data []any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result.Data == nil {
		t.Errorf("Expected empty list, got null")
	}
}

func TestQueryRequestsErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed body", `{"filter": `, nil, http.StatusBadRequest},
		{"bad filter", `{"filter": {"request": {"model": {"between": 1}}}}`, nil, http.StatusBadRequest},
		{"validation", `{}`, &query.ValidationError{Field: "limit", Reason: "out of range"}, http.StatusBadRequest},
		{"store", `{}`, storage.NewStoreError(types.DialectRowStore, "select requests", errors.New("connection refused")), http.StatusBadGateway},
		{"other", `{}`, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := setupTestApp(t, &fakeEngine{err: tt.err})
			resp := post(t, app, "/v1/request/query", tt.body, tenant("org-1"))
			if resp.StatusCode != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, resp.StatusCode)
			}

			var result types.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if result.Error == "" || result.Data != nil {
				t.Errorf("Unexpected envelope: %+v", result)
			}
			if strings.Contains(result.Error, "connection refused") {
				t.Errorf("Store detail leaked: %s", result.Error)
			}
		})
	}
}

func TestCountRequests(t *testing.T) {
	fake := &fakeEngine{count: 42}
	app := setupTestApp(t, fake)

	resp := post(t, app, "/v1/request/count", `{"filter": "all", "governance_only": true}`, tenant("org-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if !fake.counted.GovernanceOnly {
		t.Errorf("Governance flag not forwarded")
	}

	var result types.Result[int64]
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result.Data != 42 || result.Error != nil {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestRequestIDHeader(t *testing.T) {
	app := setupTestApp(t, &fakeEngine{})

	resp := post(t, app, "/v1/request/count", `{}`, map[string]string{HeaderRequestID: "trace-1"})
	if got := resp.Header.Get(HeaderRequestID); got != "trace-1" {
		t.Errorf("Expected echoed request id, got %q", got)
	}

	resp = post(t, app, "/v1/request/count", `{}`, nil)
	if _, err := uuid.Parse(resp.Header.Get(HeaderRequestID)); err != nil {
		t.Errorf("Expected generated uuid, got %q", resp.Header.Get(HeaderRequestID))
	}
}

func TestQueryRequestsEmbeddedStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "api.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	if _, err := db.Exec(sqlite.Schema); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	if _, err := db.Exec(`INSERT INTO request (id, created_at, helicone_org_id, model, properties) VALUES ('r1', ?, 'org-1', 'gpt-4o', '{"env":"prod"}'), ('r2', ?, 'org-2', 'gpt-4o', '{}')`, at, at+1); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	db.Close()

	store, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	executor := engine.NewExecutor(map[types.Dialect]storage.Store{types.DialectEmbedded: store}, nil)
	app := setupTestApp(t, engine.New(executor, nil, engine.Config{DefaultDialect: types.DialectEmbedded}))

	resp := post(t, app, "/v1/request/query", `{"filter": {"properties": {"env": {"equals": "prod"}}}, "limit": 10}`, tenant("org-1"))
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(data))
	}
	var result struct {
		Data []types.Request `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(result.Data) != 1 || result.Data[0].RequestID != "r1" {
		t.Fatalf("Unexpected data: %+v", result.Data)
	}
	if result.Data[0].Properties["env"] != "prod" {
		t.Errorf("Properties mismatch: %v", result.Data[0].Properties)
	}

	resp = post(t, app, "/v1/request/query", `{"limit": 10}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without tenant, got %d", resp.StatusCode)
	}

	resp = post(t, app, "/v1/request/query", `{"limit": 5000}`, tenant("org-1"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for limit above bound, got %d", resp.StatusCode)
	}
}
