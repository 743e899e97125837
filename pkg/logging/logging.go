// Package logging configures the process-wide logger and renders the final
// sync summary.
package logging

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/edgeops/edgesync/pkg/executor"
)

// Setup configures logrus for CLI output. Verbose mode shows per-item
// progress lines; the default shows only warnings and the summary.
func Setup(verbose bool) {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.TimeOnly,
	})
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}
}

// Summary prints the outcome of a sync run and logs every failed path with
// its error kind.
func Summary(report executor.Report, elapsed time.Duration) {
	fmt.Println()
	fmt.Println("=== Summary ===")
	fmt.Printf("Uploaded:  %d files (%s)\n", report.Uploaded, FormatBytes(report.BytesUploaded))
	fmt.Printf("Deleted:   %d files\n", report.Deleted)
	fmt.Printf("Unchanged: %d files\n", report.Unchanged)
	if len(report.Failed) > 0 {
		fmt.Printf("Failed:    %d files\n", len(report.Failed))
	}
	fmt.Printf("Duration:  %s\n", elapsed.Round(time.Millisecond))

	for _, failure := range report.Failed {
		log.WithFields(log.Fields{
			"path": failure.Path,
			"kind": failure.Kind,
		}).WithError(failure.Err).Error("failed")
	}
}

// FormatBytes renders a byte count in human readable form.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
