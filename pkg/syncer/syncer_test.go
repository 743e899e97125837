package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeops/edgesync/pkg/errclass"
	"github.com/edgeops/edgesync/pkg/storage"
)

// fakeZone is an in-memory storage zone speaking the listing/PUT/DELETE
// protocol over httptest.
type fakeZone struct {
	mu      sync.Mutex
	objects map[string][]byte

	rejectAll     bool // 401 every request
	listFailures  int  // 503 this many listing requests
	puts, deletes int
}

func newFakeZone() *fakeZone {
	return &fakeZone{objects: map[string][]byte{}}
}

func (z *fakeZone) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.rejectAll || r.Header.Get("AccessKey") != "zone-key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/testzone/")

	switch r.Method {
	case http.MethodGet:
		if key == "" || strings.HasSuffix(key, "/") {
			if z.listFailures > 0 {
				z.listFailures--
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(z.list(key))
			return
		}
		if data, ok := z.objects[key]; ok {
			w.Write(data)
			return
		}
		http.NotFound(w, r)
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		z.objects[key] = data
		if !strings.HasSuffix(key, ".edgesync.lock") {
			z.puts++
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		if _, ok := z.objects[key]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(z.objects, key)
		if !strings.HasSuffix(key, ".edgesync.lock") {
			z.deletes++
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// list renders the direct children of dir the way the zone API does.
func (z *fakeZone) list(dir string) []storage.Entry {
	seen := map[string]bool{}
	entries := []storage.Entry{}
	for key, data := range z.objects {
		if !strings.HasPrefix(key, dir) {
			continue
		}
		rest := strings.TrimPrefix(key, dir)
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name := rest[:idx]
			if !seen[name] {
				seen[name] = true
				entries = append(entries, storage.Entry{
					Path:        "/testzone/" + dir,
					ObjectName:  name,
					IsDirectory: true,
				})
			}
			continue
		}
		sum := sha256.Sum256(data)
		entries = append(entries, storage.Entry{
			Path:        "/testzone/" + dir,
			ObjectName:  rest,
			Length:      int64(len(data)),
			Checksum:    strings.ToUpper(hex.EncodeToString(sum[:])),
			LastChanged: time.Now().UTC().Format("2006-01-02T15:04:05"),
		})
	}
	return entries
}

func newTestSyncer(t *testing.T, zone *fakeZone, cfg Config, files map[string]string) *Syncer {
	t.Helper()

	srv := httptest.NewServer(zone)
	t.Cleanup(srv.Close)

	client := storage.New(storage.Config{
		Zone:      "testzone",
		AccessKey: "zone-key",
		BaseURL:   srv.URL,
	})

	fs := afero.NewMemMapFs()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}

	if cfg.LocalDir == "" {
		cfg.LocalDir = "site"
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	s := New(client, cfg)
	s.fs = fs
	return s
}

func siteFiles() map[string]string {
	return map[string]string{
		"site/index.html":    "<html>home</html>",
		"site/css/style.css": "body {}",
		"site/img/logo.png":  "png-bytes",
	}
}

func TestRunInitialSync(t *testing.T) {
	zone := newFakeZone()
	s := newTestSyncer(t, zone, Config{}, siteFiles())

	plan, report, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Uploaded)
	assert.Equal(t, 0, report.Deleted)
	assert.Empty(t, report.Failed)

	assert.Equal(t, "<html>home</html>", string(zone.objects["index.html"]))
	assert.Equal(t, "body {}", string(zone.objects["css/style.css"]))
	assert.Contains(t, zone.objects, "img/logo.png")

	// lockfile written during the run and removed afterwards
	assert.NotContains(t, zone.objects, ".edgesync.lock")

	// pages upload after assets
	uploads := plan.Uploads()
	assert.Equal(t, "index.html", uploads[len(uploads)-1].Path)
}

func TestRunIdempotent(t *testing.T) {
	zone := newFakeZone()
	s := newTestSyncer(t, zone, Config{}, siteFiles())

	_, first, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, first.Uploaded)

	plan, second, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, plan.Empty())
	assert.Equal(t, 0, second.Uploaded)
	assert.Equal(t, 0, second.Deleted)
	assert.Equal(t, 3, second.Unchanged)
}

func TestRunDeletesRemoteOnly(t *testing.T) {
	zone := newFakeZone()
	zone.objects["stale.txt"] = []byte("old")

	s := newTestSyncer(t, zone, Config{}, siteFiles())
	_, report, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted)
	assert.NotContains(t, zone.objects, "stale.txt")
}

func TestRunIgnoredPathsSurvive(t *testing.T) {
	zone := newFakeZone()
	zone.objects["uploads/user.jpg"] = []byte("precious")

	s := newTestSyncer(t, zone, Config{Ignore: []string{"uploads/"}}, siteFiles())
	_, report, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Deleted)
	assert.Contains(t, zone.objects, "uploads/user.jpg")
}

func TestRunWithRemotePrefix(t *testing.T) {
	zone := newFakeZone()
	s := newTestSyncer(t, zone, Config{RemotePath: "docs"}, siteFiles())

	_, report, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Uploaded)
	assert.Contains(t, zone.objects, "docs/index.html")
	assert.Contains(t, zone.objects, "docs/css/style.css")
	assert.NotContains(t, zone.objects, "index.html")
}

func TestRunPrefixDeletionsStayInside(t *testing.T) {
	zone := newFakeZone()
	zone.objects["docs/stale.txt"] = []byte("old")
	zone.objects["stale.txt"] = []byte("root copy, not ours")
	s := newTestSyncer(t, zone, Config{RemotePath: "docs"}, siteFiles())

	_, report, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted)
	assert.NotContains(t, zone.objects, "docs/stale.txt")
	assert.Equal(t, "root copy, not ours", string(zone.objects["stale.txt"]))
}

func TestRunDryRun(t *testing.T) {
	zone := newFakeZone()
	s := newTestSyncer(t, zone, Config{DryRun: true}, siteFiles())

	plan, report, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, plan.Uploads(), 3)
	assert.Equal(t, 0, report.Uploaded)
	assert.Zero(t, zone.puts)
	assert.Zero(t, zone.deletes)
	assert.Empty(t, zone.objects)
}

func TestRunAuthRejection(t *testing.T) {
	zone := newFakeZone()
	zone.rejectAll = true

	s := newTestSyncer(t, zone, Config{}, siteFiles())
	_, _, err := s.Run(context.Background())

	require.Error(t, err)
	assert.True(t, errclass.IsAuth(err))
	assert.Zero(t, zone.puts, "no transfer may run after an auth rejection")
	assert.Zero(t, zone.deletes)
}

func TestRunLockConflict(t *testing.T) {
	zone := newFakeZone()
	zone.objects[".edgesync.lock"] = []byte("2026-08-29T10:00:00Z")

	s := newTestSyncer(t, zone, Config{}, siteFiles())
	_, _, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, zone.puts)

	forced := newTestSyncer(t, zone, Config{Unlock: true}, siteFiles())
	_, report, err := forced.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Uploaded)
}

func TestRunRetriesListing(t *testing.T) {
	zone := newFakeZone()
	zone.listFailures = 1

	s := newTestSyncer(t, zone, Config{MaxAttempts: 2}, siteFiles())
	_, report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Uploaded)
}

func TestRunListingFailureIsFatal(t *testing.T) {
	zone := newFakeZone()
	zone.listFailures = 100

	s := newTestSyncer(t, zone, Config{MaxAttempts: 2}, siteFiles())
	_, _, err := s.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, errclass.KindInventoryFetch, errclass.KindOf(err))
	assert.Zero(t, zone.deletes)
}

func TestRunMissingLocalDir(t *testing.T) {
	zone := newFakeZone()
	s := newTestSyncer(t, zone, Config{LocalDir: "missing"}, nil)

	_, _, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, errclass.KindLocalIO, errclass.KindOf(err))
}

func TestGuessContentType(t *testing.T) {
	assert.Equal(t, "text/css; charset=utf-8", guessContentType("a/style.css"))
	assert.Equal(t, "", guessContentType("README"))
}
