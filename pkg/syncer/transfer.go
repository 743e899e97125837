package syncer

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/edgeops/edgesync/pkg/errclass"
	"github.com/edgeops/edgesync/pkg/planner"
	"github.com/edgeops/edgesync/pkg/storage"
)

// transfer adapts the storage client to the executor's transfer interface.
// Plan item paths are relative to the sync prefix; the prefix is re-applied
// here so every mutation stays inside it. Uploads reopen the local file on
// every attempt so a retried item always streams from the start.
type transfer struct {
	client *storage.Client
	fs     afero.Fs
	prefix string
}

func (t *transfer) Upload(ctx context.Context, item planner.Item) error {
	f, err := t.fs.Open(item.LocalPath)
	if err != nil {
		return errclass.New("upload", item.Path, errclass.KindLocalIO,
			fmt.Errorf("open %s: %w", item.LocalPath, err))
	}
	defer f.Close()

	return t.client.Upload(ctx, t.prefix+item.Path, f, item.Size, guessContentType(item.Path), item.Checksum)
}

func (t *transfer) Delete(ctx context.Context, path string) error {
	return t.client.Delete(ctx, t.prefix+path)
}

func guessContentType(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return ""
	}
	return mime.TypeByExtension(ext)
}
