package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/edgeops/edgesync/pkg/logging"
	"github.com/edgeops/edgesync/pkg/purge"
	"github.com/edgeops/edgesync/pkg/storage"
	"github.com/edgeops/edgesync/pkg/syncer"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

const (
	storageKeyEnv = "EDGESYNC_STORAGE_KEY"
	accountKeyEnv = "EDGESYNC_ACCOUNT_KEY"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "edgesync",
		Short: "Mirror a local directory to an edge storage zone and purge CDN caches",
		Long: `edgesync mirrors a local directory into a path of an edge storage zone,
uploading changed files, deleting remote files that no longer exist
locally, and leaving identical files untouched. It can also purge pull
zone caches by numeric ID.

HTML files are uploaded last so assets are in place before the pages
that reference them. A remote lockfile guards against overlapping runs.`,
		Version:       fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newSyncCmd(), newPurgeZoneCmd(), newPurgeURLCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newSyncCmd() *cobra.Command {
	var (
		remotePath   string
		endpoint     string
		storageKey   string
		lockfileName string
		ignores      []string
		concurrency  int
		maxAttempts  int
		verbose      bool
		dryRun       bool
		force        bool
		unlock       bool
	)

	cmd := &cobra.Command{
		Use:   "sync <local-dir> <storage-zone>",
		Short: "Converge a storage zone path to the local directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			localDir, zone := args[0], args[1]

			key := storageKey
			if key == "" {
				key = os.Getenv(storageKeyEnv)
			}
			if key == "" {
				return fmt.Errorf("no storage access key: pass --storage-key or set %s", storageKeyEnv)
			}

			logging.Setup(verbose)
			if dryRun && !verbose {
				log.SetLevel(log.InfoLevel)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := storage.New(storage.Config{
				Endpoint:  endpoint,
				Zone:      zone,
				AccessKey: key,
			})

			s := syncer.New(client, syncer.Config{
				LocalDir:    localDir,
				RemotePath:  remotePath,
				Concurrency: concurrency,
				MaxAttempts: maxAttempts,
				Ignore:      ignores,
				Force:       force,
				DryRun:      dryRun,
				Lockfile:    lockfileName,
				Unlock:      unlock,
			})

			start := time.Now()
			_, report, err := s.Run(ctx)
			if err != nil {
				return err
			}

			if dryRun {
				return nil
			}

			logging.Summary(report, time.Since(start))
			if !report.OK() {
				return fmt.Errorf("%d paths failed to converge", len(report.Failed))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&remotePath, "path", "p", "", "Path inside the storage zone to sync to")
	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", storage.DefaultEndpoint, "Storage API endpoint")
	cmd.Flags().StringVar(&storageKey, "storage-key", "", "Storage zone access key (defaults to $"+storageKeyEnv+")")
	cmd.Flags().StringVar(&lockfileName, "lockfile", syncer.DefaultLockfile, "Remote lockfile name")
	cmd.Flags().StringSliceVarP(&ignores, "ignore", "i", nil, "Pattern to skip locally and protect from remote deletion (multiple allowed)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 16, "Number of concurrent transfers")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 3, "Attempts per operation before giving up")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every operation")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would change without executing")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Re-upload every file regardless of remote state")
	cmd.Flags().BoolVar(&unlock, "unlock", false, "Sync despite a dangling remote lockfile")

	return cmd
}

// purgeFlags are the flags shared by the purge subcommands, one instance
// per command.
type purgeFlags struct {
	apiHost    string
	accountKey string
	verbose    bool
}

func (f *purgeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.apiHost, "api-host", purge.DefaultAPIHost, "Account API host")
	cmd.Flags().StringVar(&f.accountKey, "account-key", "", "Account API key (defaults to $"+accountKeyEnv+")")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Log request details")
}

func (f *purgeFlags) client() (*purge.Client, context.Context, context.CancelFunc, error) {
	key := f.accountKey
	if key == "" {
		key = os.Getenv(accountKeyEnv)
	}
	if key == "" {
		return nil, nil, nil, fmt.Errorf("no account API key: pass --account-key or set %s", accountKeyEnv)
	}

	logging.Setup(f.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	client := purge.New(purge.Config{APIHost: f.apiHost, AccessKey: key})
	return client, ctx, stop, nil
}

func newPurgeZoneCmd() *cobra.Command {
	var (
		flags    purgeFlags
		cacheTag string
	)

	cmd := &cobra.Command{
		Use:   "purge-zone <zone-id>",
		Short: "Purge the entire cache of a pull zone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			zoneID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("zone id must be numeric: %q", args[0])
			}

			client, ctx, stop, err := flags.client()
			if err != nil {
				return err
			}
			defer stop()

			if err := client.Zone(ctx, zoneID, cacheTag); err != nil {
				return fmt.Errorf("purge zone %d: %w", zoneID, err)
			}
			fmt.Printf("Purged zone %d\n", zoneID)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&cacheTag, "cache-tag", "", "Only purge objects carrying this cache tag")

	return cmd
}

func newPurgeURLCmd() *cobra.Command {
	var flags purgeFlags

	cmd := &cobra.Command{
		Use:   "purge-url <url>",
		Short: "Purge a single URL from the cache (trailing * wildcard allowed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, stop, err := flags.client()
			if err != nil {
				return err
			}
			defer stop()

			if err := client.URL(ctx, args[0]); err != nil {
				return fmt.Errorf("purge url %s: %w", args[0], err)
			}
			fmt.Printf("Purged %s\n", args[0])
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}
