package blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/time/rate"

	"github.com/helicone/requestquery/internal/metrics"
)

// Config holds object storage settings.
type Config struct {
	Endpoint        string        `yaml:"endpoint"` // e.g. "s3.us-west-2.amazonaws.com" or "localhost:9000"
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	Region          string        `yaml:"region"`
	Bucket          string        `yaml:"bucket"`
	UseSSL          bool          `yaml:"use_ssl"`
	Expiry          time.Duration `yaml:"expiry"`
	RatePerSecond   float64       `yaml:"rate_per_second"`
	Burst           int           `yaml:"burst"`
}

func DefaultConfig() Config {
	return Config{
		Bucket:        "request-response-storage",
		UseSSL:        true,
		Expiry:        24 * time.Hour,
		RatePerSecond: 5500,
		Burst:         5500,
	}
}

// ErrDisabled is returned when object storage is not configured.
var ErrDisabled = errors.New("blob storage not configured")

type presigner interface {
	PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, params url.Values) (*url.URL, error)
}

// Client signs read URLs for tenant-scoped objects. It never reads object
// contents.
type Client struct {
	mc      presigner
	bucket  string
	expiry  time.Duration
	limiter *rate.Limiter
}

// NewClient creates a signer. An empty Endpoint yields a client whose every
// call fails with ErrDisabled.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return newClient(nil, cfg), nil
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return newClient(mc, cfg), nil
}

func newClient(mc presigner, cfg Config) *Client {
	defaults := DefaultConfig()
	if cfg.Expiry <= 0 {
		cfg.Expiry = defaults.Expiry
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = defaults.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	return &Client{
		mc:      mc,
		bucket:  cfg.Bucket,
		expiry:  cfg.Expiry,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

// ObjectKey places key under the tenant's prefix.
func ObjectKey(tenantID, key string) string {
	return "organizations/" + tenantID + "/" + strings.TrimPrefix(key, "/")
}

// BodyKey is the object holding a record's request and response bodies.
func BodyKey(id string) string {
	return "requests/" + id + "/request_response_body"
}

func AssetKey(recordID, assetID string) string {
	return "requests/" + recordID + "/assets/" + assetID
}

// SignedURL signs a read of objectKey within tenantID's prefix.
func (c *Client) SignedURL(ctx context.Context, tenantID, objectKey string) (string, error) {
	if c.mc == nil {
		return "", ErrDisabled
	}
	if tenantID == "" {
		return "", errors.New("tenant id is required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.SignedURLs.WithLabelValues("rate_limited").Inc()
		return "", fmt.Errorf("failed to acquire signing slot: %w", err)
	}

	u, err := c.mc.PresignedGetObject(ctx, c.bucket, ObjectKey(tenantID, objectKey), c.expiry, nil)
	if err != nil {
		metrics.SignedURLs.WithLabelValues("error").Inc()
		return "", fmt.Errorf("failed to presign %s: %w", objectKey, err)
	}
	metrics.SignedURLs.WithLabelValues("ok").Inc()
	return u.String(), nil
}

func (c *Client) AssetSignedURL(ctx context.Context, tenantID, recordID, assetID string) (string, error) {
	return c.SignedURL(ctx, tenantID, AssetKey(recordID, assetID))
}
