// Package purge triggers CDN cache invalidation through the account API.
// It is independent of the sync pipeline: no inventory, no plan, just one
// idempotent request with the shared retry and classification policy.
package purge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/edgeops/edgesync/pkg/errclass"
	"github.com/edgeops/edgesync/pkg/retry"
)

// DefaultAPIHost is the account-level API host.
const DefaultAPIHost = "api.bunny.net"

const requestTimeout = 30 * time.Second

// Config carries the account API credentials and endpoints.
type Config struct {
	// APIHost is the account API host, without scheme.
	APIHost string

	// AccessKey is the account-level API key, distinct from any storage
	// zone key. Never logged.
	AccessKey string

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client

	// BaseURL overrides the scheme+host derived from APIHost.
	BaseURL string

	// Policy is the retry policy. Zero value means retry.DefaultPolicy.
	Policy retry.Policy
}

// Client performs purge calls.
type Client struct {
	http      *http.Client
	baseURL   string
	accessKey string
	policy    retry.Policy
}

// New creates a purge client.
func New(cfg Config) *Client {
	host := cfg.APIHost
	if host == "" {
		host = DefaultAPIHost
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://" + host
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	policy := cfg.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	return &Client{
		http:      httpClient,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		accessKey: cfg.AccessKey,
		policy:    policy,
	}
}

// Zone purges the entire cache of the pull zone with the given numeric ID.
// Purging an already-clean cache is a no-op success. cacheTag, when
// non-empty, narrows the purge to objects carrying that tag.
func (c *Client) Zone(ctx context.Context, zoneID int64, cacheTag string) error {
	target := fmt.Sprintf("%s/pullzone/%d/purgeCache", c.baseURL, zoneID)
	op := fmt.Sprintf("purge-zone %d", zoneID)

	var body io.Reader
	contentType := ""
	if cacheTag != "" {
		form := url.Values{}
		form.Set("CacheTag", cacheTag)
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		return c.post(ctx, op, target, body, contentType)
	})
	if err != nil {
		return err
	}

	log.WithField("zone", zoneID).Debug("pull zone purged")
	return nil
}

// URL purges a single URL from the cache. A trailing wildcard * is allowed.
func (c *Client) URL(ctx context.Context, rawURL string) error {
	target := fmt.Sprintf("%s/purge?url=%s", c.baseURL, url.QueryEscape(rawURL))

	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		return c.post(ctx, "purge-url", target, nil, "")
	})
	if err != nil {
		return err
	}

	log.WithField("url", rawURL).Debug("url purged")
	return nil
}

func (c *Client) post(ctx context.Context, op, target string, body io.Reader, contentType string) error {
	// the form reader is consumed per attempt
	if seeker, ok := body.(io.Seeker); ok {
		_, _ = seeker.Seek(0, io.SeekStart)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return errclass.New(op, "", errclass.KindValidation, err)
	}
	req.Header.Set("AccessKey", c.accessKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errclass.FromTransport(op, "", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errclass.FromStatus(op, "", resp.StatusCode)
	}
	return nil
}
