package hydrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/valyala/fastjson"
	"golang.org/x/sync/errgroup"

	"github.com/helicone/requestquery/internal/blob"
	"github.com/helicone/requestquery/internal/logger"
	"github.com/helicone/requestquery/internal/metrics"
	"github.com/helicone/requestquery/internal/query"
	"github.com/helicone/requestquery/internal/storage"
	"github.com/helicone/requestquery/pkg/types"
)

// Signer resolves time-limited read URLs within a tenant's prefix.
type Signer interface {
	SignedURL(ctx context.Context, tenantID, objectKey string) (string, error)
	AssetSignedURL(ctx context.Context, tenantID, recordID, assetID string) (string, error)
}

type Config struct {
	// Concurrency caps in-flight signing tasks per call.
	Concurrency int `yaml:"concurrency"`
}

func DefaultConfig() Config {
	return Config{Concurrency: 32}
}

type FailureKind string

const (
	FailureBody  FailureKind = "body"
	FailureAsset FailureKind = "asset"
)

// Failure is one signed URL that could not be resolved. Failures are logged
// and counted, never returned.
type Failure struct {
	Kind     FailureKind
	RecordID string
	AssetID  string
	Err      error
}

func (f *Failure) Error() string {
	if f.Kind == FailureAsset {
		return fmt.Sprintf("failed to sign asset %s of request %s: %v", f.AssetID, f.RecordID, f.Err)
	}
	return fmt.Sprintf("failed to sign body of request %s: %v", f.RecordID, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

type Hydrator struct {
	signer Signer
	log    *slog.Logger
	config Config
}

func New(signer Signer, log *slog.Logger, config Config) *Hydrator {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConfig().Concurrency
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hydrator{signer: signer, log: log, config: config}
}

// Hydrate returns enriched shallow copies of records in the same order, skipping
// nil entries. Input records are not modified. A failed signature leaves that one field empty;
// the call still succeeds.
func (h *Hydrator) Hydrate(ctx context.Context, records []*storage.RequestRecord, tenantID string) ([]*storage.RequestRecord, error) {
	if tenantID == "" {
		return nil, &query.ValidationError{Field: "tenant_id", Reason: "required"}
	}

	out := make([]*storage.RequestRecord, 0, len(records))
	var g errgroup.Group
	g.SetLimit(h.config.Concurrency)

	for _, src := range records {
		if src == nil {
			continue
		}
		r := *src
		out = append(out, &r)

		switch r.StorageLocation {
		case types.StorageOmittedDueToLimit:
			continue
		case types.StorageInlineAnalytical:
			r.RequestBody = parseInline(r.RequestBody)
			r.ResponseBody = parseInline(r.ResponseBody)
		case types.StorageBlob:
			g.Go(func() error {
				u, err := h.signer.SignedURL(ctx, tenantID, blob.BodyKey(r.BodyKey()))
				if err != nil {
					h.fail(ctx, &Failure{Kind: FailureBody, RecordID: r.RequestID, Err: err})
					return nil
				}
				r.SignedBodyURL = &u
				return nil
			})
		}

		if len(r.AssetIDs) == 0 {
			continue
		}
		assets := make([]types.HydratedAsset, len(r.AssetIDs))
		r.AssetURLs = assets
		for j, assetID := range r.AssetIDs {
			assets[j].AssetID = assetID
			g.Go(func() error {
				u, err := h.signer.AssetSignedURL(ctx, tenantID, r.RequestID, assetID)
				if err != nil {
					h.fail(ctx, &Failure{Kind: FailureAsset, RecordID: r.RequestID, AssetID: assetID, Err: err})
					return nil
				}
				assets[j].SignedURL = u
				return nil
			})
		}
	}

	// tasks never return errors
	_ = g.Wait()
	return out, nil
}

func (h *Hydrator) fail(ctx context.Context, f *Failure) {
	metrics.HydrationFailures.WithLabelValues(string(f.Kind)).Inc()
	logger.FromContext(ctx, h.log).Warn("hydration failed",
		"kind", f.Kind,
		"record_id", f.RecordID,
		"asset_id", f.AssetID,
		"error", f.Err,
	)
}

// parseInline upgrades a valid JSON body to json.RawMessage and leaves
// anything else as it was.
func parseInline(body any) any {
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	case []byte:
		raw = b
	default:
		return body
	}
	if err := fastjson.ValidateBytes(raw); err != nil {
		return body
	}
	return json.RawMessage(raw)
}
