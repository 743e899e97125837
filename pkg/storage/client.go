// Package storage is the HTTP client for an edge-storage zone. It speaks
// the zone API directly: AccessKey header authentication, JSON directory
// listings, PUT and DELETE per object key.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edgeops/edgesync/pkg/errclass"
)

// DefaultEndpoint is the primary storage endpoint. Zones replicated to
// other regions use their regional endpoint instead.
const DefaultEndpoint = "storage.bunnycdn.com"

const requestTimeout = 5 * time.Minute

// Config carries everything the client needs. The access key is captured
// once at construction and never read from the environment afterwards.
type Config struct {
	// Endpoint is the storage API host, without scheme.
	Endpoint string

	// Zone is the storage zone name.
	Zone string

	// AccessKey is the zone's storage access key. Treated as an opaque
	// bearer credential: attached to requests, never logged.
	AccessKey string

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client

	// BaseURL overrides the scheme+host derived from Endpoint. Tests
	// point it at an httptest server.
	BaseURL string
}

// Client performs storage zone operations. Safe for concurrent use: the
// underlying connection pool is shared across workers.
type Client struct {
	http      *http.Client
	baseURL   string
	accessKey string
}

// New creates a storage zone client.
func New(cfg Config) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s/%s", endpoint, cfg.Zone)
	} else {
		baseURL = strings.TrimSuffix(baseURL, "/") + "/" + cfg.Zone
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		http:      httpClient,
		baseURL:   baseURL,
		accessKey: cfg.AccessKey,
	}
}

// Entry is one row of a storage zone directory listing.
type Entry struct {
	// Path is the zone-absolute directory of the entry, e.g. "/zone/docs/".
	Path string `json:"Path"`

	// ObjectName is the file or directory name within Path.
	ObjectName string `json:"ObjectName"`

	// Length is the object size in bytes. Zero for directories.
	Length int64 `json:"Length"`

	// LastChanged is the modification timestamp, e.g.
	// "2025-04-15T16:52:33.824". No zone suffix; the API reports UTC.
	LastChanged string `json:"LastChanged"`

	// IsDirectory distinguishes subdirectories from objects.
	IsDirectory bool `json:"IsDirectory"`

	// Checksum is the uppercase hex SHA-256 of the object content, empty
	// when the service has not computed one.
	Checksum string `json:"Checksum"`
}

// ModTime parses LastChanged. The zero time is returned for timestamps the
// API left empty or in an unexpected shape.
func (e Entry) ModTime() time.Time {
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	} {
		if ts, err := time.Parse(layout, e.LastChanged); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

// List fetches a single directory listing. dir is zone-relative with a
// trailing slash ("" for the zone root).
func (c *Client) List(ctx context.Context, dir string) ([]Entry, error) {
	req, err := c.newRequest(ctx, http.MethodGet, dir, nil)
	if err != nil {
		return nil, errclass.New("list", dir, errclass.KindValidation, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errclass.FromTransport("list", dir, err)
	}
	defer drain(resp.Body)

	// A directory that was never written to lists as absent. That simply
	// means zero objects under it.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errclass.FromStatus("list", dir, resp.StatusCode)
	}

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, errclass.New("list", dir, errclass.KindTransient,
			fmt.Errorf("decode listing: %w", err))
	}
	return entries, nil
}

// ListTree walks the zone under prefix breadth-first and returns every file
// entry with its zone-relative key. Directory entries are followed; file
// entries are returned keyed relative to the zone root.
func (c *Client) ListTree(ctx context.Context, prefix string) (map[string]Entry, error) {
	files := make(map[string]Entry)
	queue := []string{prefix}

	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := c.List(ctx, dir)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			key := c.entryKey(entry)
			if entry.IsDirectory {
				queue = append(queue, key+"/")
				continue
			}
			files[key] = entry
		}
	}
	return files, nil
}

// entryKey converts a listing entry to its zone-relative key. Entry.Path is
// zone-absolute ("/zone/docs/"), so the leading "/zone/" is stripped.
func (c *Client) entryKey(entry Entry) string {
	dir := entry.Path
	if idx := strings.Index(strings.TrimPrefix(dir, "/"), "/"); idx >= 0 {
		dir = strings.TrimPrefix(dir, "/")[idx+1:]
	} else {
		dir = ""
	}
	return dir + entry.ObjectName
}

// Upload writes body to the object at path with PUT semantics: replacing an
// existing object is safe to repeat. checksumHex, when non-empty, is sent so
// the service can verify the payload.
func (c *Client) Upload(ctx context.Context, path string, body io.Reader, size int64, contentType, checksumHex string) error {
	req, err := c.newRequest(ctx, http.MethodPut, path, body)
	if err != nil {
		return errclass.New("upload", path, errclass.KindValidation, err)
	}
	req.ContentLength = size
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	if checksumHex != "" {
		req.Header.Set("Checksum", strings.ToUpper(checksumHex))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errclass.FromTransport("upload", path, err)
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errclass.FromStatus("upload", path, resp.StatusCode)
	}
	return nil
}

// Delete removes the object at path. Deleting an already-absent key is a
// success: the desired state holds either way.
func (c *Client) Delete(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return errclass.New("delete", path, errclass.KindValidation, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errclass.FromTransport("delete", path, err)
	}
	defer drain(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errclass.FromStatus("delete", path, resp.StatusCode)
	}
	return nil
}

// Download reads the object at path. Used for the remote lockfile check.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, errclass.New("download", path, errclass.KindValidation, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errclass.FromTransport("download", path, err)
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errclass.FromStatus("download", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := c.baseURL + "/" + escapePath(path)
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("AccessKey", c.accessKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// escapePath escapes each segment but keeps the separators, so keys with
// spaces or reserved characters form valid URLs.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
