package engine

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/helicone/requestquery/internal/hydrate"
	"github.com/helicone/requestquery/internal/query"
	"github.com/helicone/requestquery/internal/storage"
	"github.com/helicone/requestquery/internal/storage/sqlite"
	"github.com/helicone/requestquery/pkg/types"
)

type fakeStore struct {
	records []*storage.RequestRecord
	count   int64
	err     error
	calls   int
	last    storage.Selection
}

func (s *fakeStore) SelectRequests(_ context.Context, sel storage.Selection) ([]*storage.RequestRecord, error) {
	s.calls++
	s.last = sel
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func (s *fakeStore) CountRequests(_ context.Context, sel storage.Selection) (int64, error) {
	s.calls++
	s.last = sel
	return s.count, s.err
}

func (s *fakeStore) Close() error { return nil }

type fakeSigner struct{}

func (fakeSigner) SignedURL(_ context.Context, tenantID, key string) (string, error) {
	return "https://signed/" + tenantID + "/" + key, nil
}

func (fakeSigner) AssetSignedURL(_ context.Context, tenantID, recordID, assetID string) (string, error) {
	return "https://signed/" + tenantID + "/" + recordID + "/" + assetID, nil
}

func newTestEngine(stores map[types.Dialect]storage.Store) *Engine {
	return New(NewExecutor(stores, nil), hydrate.New(fakeSigner{}, nil, hydrate.DefaultConfig()), Config{})
}

func allDialects() (map[types.Dialect]storage.Store, map[types.Dialect]*fakeStore) {
	fakes := map[types.Dialect]*fakeStore{
		types.DialectRowStore:   {},
		types.DialectAnalytical: {},
		types.DialectEmbedded:   {},
	}
	stores := make(map[types.Dialect]storage.Store, len(fakes))
	for d, f := range fakes {
		stores[d] = f
	}
	return stores, fakes
}

func TestQueryAllReachesEveryDialectScoped(t *testing.T) {
	stores, fakes := allDialects()
	e := newTestEngine(stores)

	wantPredicate := map[types.Dialect]string{
		types.DialectRowStore:   "(request.helicone_org_id = $1) AND (TRUE)",
		types.DialectAnalytical: "(organization_id = {val_0:String}) AND (TRUE)",
		types.DialectEmbedded:   "(request.helicone_org_id = ?) AND (TRUE)",
	}
	for d, want := range wantPredicate {
		if _, err := e.Query(context.Background(), "org-1", QueryParams{Filter: types.All{}, Limit: 10, Dialect: d}); err != nil {
			t.Fatalf("%s: Query failed: %v", d, err)
		}
		sel := fakes[d].last
		if sel.Predicate != want {
			t.Errorf("%s: predicate mismatch:\n got %s\nwant %s", d, sel.Predicate, want)
		}
		if len(sel.Params) != 1 || sel.Params[0] != "org-1" {
			t.Errorf("%s: tenant not bound: %v", d, sel.Params)
		}
		if sel.Limit != 10 || sel.Offset != 0 || !strings.Contains(sel.OrderBy, "DESC") {
			t.Errorf("%s: selection mismatch: %+v", d, sel)
		}
	}
}

func TestQueryPaginationBounds(t *testing.T) {
	tests := []struct {
		name   string
		limit  int
		offset int
		ok     bool
	}{
		{"zero", 0, 0, true},
		{"max limit", 1000, 0, true},
		{"max offset", 10, 10000, true},
		{"limit over", 1001, 0, false},
		{"offset over", 10, 10001, false},
		{"negative limit", -1, 0, false},
		{"negative offset", 10, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stores, fakes := allDialects()
			e := newTestEngine(stores)

			_, err := e.Query(context.Background(), "org-1", QueryParams{Filter: types.All{}, Limit: tt.limit, Offset: tt.offset})
			if tt.ok && err != nil {
				t.Fatalf("Expected success, got %v", err)
			}
			if !tt.ok {
				if !query.IsValidation(err) {
					t.Fatalf("Expected ValidationError, got %v", err)
				}
				if fakes[types.DialectRowStore].calls != 0 {
					t.Error("Store touched despite invalid page")
				}
			}
		})
	}
}

func TestQueryDialectErrors(t *testing.T) {
	e := newTestEngine(map[types.Dialect]storage.Store{types.DialectRowStore: &fakeStore{}})

	for _, d := range []types.Dialect{"mysql", types.DialectAnalytical} {
		if _, err := e.Query(context.Background(), "org-1", QueryParams{Filter: types.All{}, Dialect: d}); !query.IsValidation(err) {
			t.Errorf("%s: expected ValidationError, got %v", d, err)
		}
	}
}

func TestQueryStoreFailure(t *testing.T) {
	cause := errors.New("connection reset")
	stores := map[types.Dialect]storage.Store{types.DialectRowStore: &fakeStore{err: cause, records: []*storage.RequestRecord{{RequestID: "r1"}}}}
	e := newTestEngine(stores)

	records, err := e.Query(context.Background(), "org-1", QueryParams{Filter: types.All{}, Limit: 10})
	var se *storage.StoreError
	if !errors.As(err, &se) || !errors.Is(err, cause) {
		t.Fatalf("Expected StoreError wrapping cause, got %v", err)
	}
	if se.Dialect != types.DialectRowStore {
		t.Errorf("Dialect mismatch: %s", se.Dialect)
	}
	if records != nil {
		t.Error("Expected no rows with error")
	}
}

func TestQueryRejectsBeforeStore(t *testing.T) {
	stores, fakes := allDialects()
	e := newTestEngine(stores)

	tests := []struct {
		name   string
		tenant string
		params QueryParams
	}{
		{"empty tenant", "", QueryParams{Filter: types.All{}}},
		{"nil filter", "org-1", QueryParams{}},
		{"bad property key", "org-1", QueryParams{Filter: types.Match(types.SubjectProperties, "a-b", types.OpEquals, "x")}},
		{"bad sort key", "org-1", QueryParams{Filter: types.All{}, Sort: types.SortSpec{Values: map[string]types.SortDirection{"a b": types.SortAsc}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Query(context.Background(), tt.tenant, tt.params); !query.IsValidation(err) {
				t.Errorf("Expected ValidationError, got %v", err)
			}
		})
	}
	for d, f := range fakes {
		if f.calls != 0 {
			t.Errorf("%s store touched %d times", d, f.calls)
		}
	}
}

func TestPlanJoinsSortAndFilter(t *testing.T) {
	stores, _ := allDialects()
	e := newTestEngine(stores)

	st, err := e.Plan("org-1", QueryParams{
		Filter:  types.All{},
		Sort:    types.SortSpec{ResponseText: types.SortAsc},
		Dialect: types.DialectRowStore,
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if !st.Joins.Has(query.JoinSearch) {
		t.Error("Expected sort join to be carried into the statement")
	}
}

func TestCount(t *testing.T) {
	stores, fakes := allDialects()
	fakes[types.DialectAnalytical].count = 12
	e := newTestEngine(stores)

	n, err := e.Count(context.Background(), "org-1", CountParams{Filter: types.All{}, Dialect: types.DialectAnalytical, GovernanceOnly: true})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 12 {
		t.Errorf("Count mismatch: got %d, want 12", n)
	}
	want := "(organization_id = {val_0:String}) AND ((governance = {val_1:Bool}) AND (TRUE))"
	if got := fakes[types.DialectAnalytical].last.Predicate; got != want {
		t.Errorf("Predicate mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestQueryEndToEndEmbedded(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "e2e.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	if _, err := db.Exec(sqlite.Schema); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	for i, row := range [][]string{{"r1", "org-1"}, {"r2", "org-1"}, {"r3", "org-2"}} {
		if _, err := db.Exec(`INSERT INTO request (id, created_at, helicone_org_id, model) VALUES (?, ?, ?, 'gpt-4o')`, row[0], at+int64(i), row[1]); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}
	if _, err := db.Exec(`INSERT INTO asset (id, request_id) VALUES ('a1', 'r1')`); err != nil {
		t.Fatalf("Failed to insert asset: %v", err)
	}
	db.Close()

	store, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	e := newTestEngine(map[types.Dialect]storage.Store{types.DialectEmbedded: store})
	records, err := e.Query(context.Background(), "org-1", QueryParams{Filter: types.All{}, Limit: 10, Dialect: types.DialectEmbedded})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 2 || records[0].RequestID != "r2" || records[1].RequestID != "r1" {
		t.Fatalf("Unexpected records: %+v", records)
	}
	if records[1].SignedBodyURL == nil || *records[1].SignedBodyURL != "https://signed/org-1/requests/r1/request_response_body" {
		t.Errorf("Body URL mismatch: %v", records[1].SignedBodyURL)
	}
	if len(records[1].AssetURLs) != 1 || records[1].AssetURLs[0].SignedURL != "https://signed/org-1/r1/a1" {
		t.Errorf("Asset URLs mismatch: %+v", records[1].AssetURLs)
	}
}
