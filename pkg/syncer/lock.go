package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/edgeops/edgesync/pkg/errclass"
)

// DefaultLockfile is the remote lockfile name guarding concurrent syncs.
const DefaultLockfile = ".edgesync.lock"

const releaseTimeout = 30 * time.Second

// acquireLock refuses to sync when another invocation's lockfile is present
// in the destination, then writes its own timestamped lockfile. The lock is
// advisory: it guards deployment pipelines against overlapping runs, not
// against arbitrary writers.
func (s *Syncer) acquireLock(ctx context.Context, lockPath string) error {
	if data, err := s.client.Download(ctx, lockPath); err == nil {
		log.WithField("since", strings.TrimSpace(string(data))).
			Warn("remote lockfile present")
		if !s.cfg.Unlock {
			return errclass.New("lock", lockPath, errclass.KindValidation,
				fmt.Errorf("another sync appears active since %s; pass --unlock to override",
					strings.TrimSpace(string(data))))
		}
	} else if errclass.IsAuth(err) {
		return err
	}

	ts := s.clock.Now().UTC().Format(time.RFC3339)
	if err := s.client.Upload(ctx, lockPath, strings.NewReader(ts), int64(len(ts)), "text/plain", ""); err != nil {
		return fmt.Errorf("write lockfile: %w", err)
	}
	return nil
}

// releaseLock removes the lockfile. It runs on its own context so a
// cancelled sync still cleans up; a dangling lock only costs the next run
// an --unlock.
func (s *Syncer) releaseLock(lockPath string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := s.client.Delete(ctx, lockPath); err != nil {
		log.WithError(err).Warn("unable to remove remote lockfile")
	}
}
