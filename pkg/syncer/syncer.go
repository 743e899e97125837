// Package syncer wires the sync pipeline together: scan the local tree and
// fetch the remote inventory in parallel, diff them into a change plan, and
// drain the plan through the executor. One call to Run is one one-shot
// convergence of the remote zone to the local state.
package syncer

import (
	"context"
	"strings"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/edgeops/edgesync/pkg/checksum"
	"github.com/edgeops/edgesync/pkg/errclass"
	"github.com/edgeops/edgesync/pkg/executor"
	"github.com/edgeops/edgesync/pkg/inventory"
	"github.com/edgeops/edgesync/pkg/planner"
	"github.com/edgeops/edgesync/pkg/retry"
	"github.com/edgeops/edgesync/pkg/scanner"
	"github.com/edgeops/edgesync/pkg/storage"
)

// Config is the immutable per-invocation configuration, captured once at
// startup. Nothing here is re-read from the environment mid-run.
type Config struct {
	// LocalDir is the root of the local tree to mirror.
	LocalDir string

	// RemotePath is the prefix inside the storage zone to converge.
	RemotePath string

	// Concurrency is the transfer worker count; values below 1 select
	// the executor default.
	Concurrency int

	// MaxAttempts caps attempts per work item; 0 means the default.
	MaxAttempts int

	// Ignore lists doublestar patterns excluded from the local scan and
	// protected from remote deletion.
	Ignore []string

	// Force re-uploads every file regardless of remote state.
	Force bool

	// DryRun computes and logs the plan without mutating anything.
	DryRun bool

	// Lockfile is the remote lockfile name; empty means DefaultLockfile.
	Lockfile string

	// Unlock overrides a dangling remote lockfile.
	Unlock bool
}

// Syncer runs sync invocations against one storage zone.
type Syncer struct {
	client *storage.Client
	cfg    Config
	fs     afero.Fs
	clock  clockwork.Clock
}

// New creates a syncer. The zero values of fs and clock are the real
// filesystem and wall clock.
func New(client *storage.Client, cfg Config) *Syncer {
	if cfg.Lockfile == "" {
		cfg.Lockfile = DefaultLockfile
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = executor.DefaultConcurrency
	}
	return &Syncer{
		client: client,
		cfg:    cfg,
		fs:     afero.NewOsFs(),
		clock:  clockwork.NewRealClock(),
	}
}

// Run performs one convergence and returns the plan that was computed and
// the execution report. In dry-run mode the report carries only the
// unchanged count. The error return is reserved for phase-level failures
// (unreadable local tree, unusable remote inventory, lock conflicts);
// per-item failures live in the report.
func (s *Syncer) Run(ctx context.Context) (planner.Plan, executor.Report, error) {
	prefix := inventory.NormalizePrefix(s.cfg.RemotePath)
	lockPath := prefix + s.cfg.Lockfile

	if !s.cfg.DryRun {
		if err := s.acquireLock(ctx, lockPath); err != nil {
			return planner.Plan{}, executor.Report{}, err
		}
		defer s.releaseLock(lockPath)
	}

	var local, remote *inventory.Inventory
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		local, err = scanner.New(s.fs, s.cfg.LocalDir, s.cfg.Ignore).Scan(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		remote, err = s.fetchRemote(gctx, prefix)
		return err
	})
	if err := g.Wait(); err != nil {
		return planner.Plan{}, executor.Report{}, err
	}

	protect := append([]string{s.cfg.Lockfile}, s.cfg.Ignore...)
	plan := planner.Build(local, remote, planner.Options{
		Force:   s.cfg.Force,
		Protect: protect,
	})
	log.WithFields(log.Fields{
		"uploads":   len(plan.Uploads()),
		"deletions": len(plan.Deletions()),
		"unchanged": plan.Unchanged,
	}).Info("change plan computed")

	if s.cfg.DryRun {
		for _, item := range plan.Items {
			log.WithFields(log.Fields{
				"path":   item.Path,
				"action": item.Action,
				"reason": item.Reason,
			}).Info("planned")
		}
		return plan, executor.Report{Unchanged: plan.Unchanged}, nil
	}

	exec := executor.New(&transfer{client: s.client, fs: s.fs, prefix: prefix}, s.cfg.Concurrency, s.policy())
	report := exec.Execute(ctx, plan)
	return plan, report, nil
}

// fetchRemote assembles the remote inventory. The listing is retried as a
// whole: a partially assembled inventory is unsafe to diff against, so any
// failure after the retry budget is fatal for the invocation.
func (s *Syncer) fetchRemote(ctx context.Context, prefix string) (*inventory.Inventory, error) {
	var files map[string]storage.Entry
	err := retry.Do(ctx, s.policy(), func(ctx context.Context) error {
		var lerr error
		files, lerr = s.client.ListTree(ctx, prefix)
		return lerr
	})
	if err != nil {
		if errclass.IsAuth(err) {
			return nil, err
		}
		return nil, errclass.New("fetch-remote", prefix, errclass.KindInventoryFetch, err)
	}

	inv := inventory.New()
	for key, entry := range files {
		rel := strings.TrimPrefix(key, prefix)
		path, err := inventory.NormalizePath(rel)
		if err != nil {
			log.WithField("key", key).Warn("skipping unrepresentable remote key")
			continue
		}
		rec := inventory.FileRecord{
			Path:     path,
			Size:     entry.Length,
			Checksum: checksum.Normalize(entry.Checksum),
			ModTime:  entry.ModTime(),
		}
		if err := inv.Add(rec); err != nil {
			return nil, errclass.New("fetch-remote", prefix, errclass.KindInventoryFetch, err)
		}
	}
	return inv, nil
}

func (s *Syncer) policy() retry.Policy {
	p := retry.DefaultPolicy()
	if s.cfg.MaxAttempts > 0 {
		p.MaxAttempts = s.cfg.MaxAttempts
	}
	p.Clock = s.clock
	return p
}
