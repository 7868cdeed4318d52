// Package jobs holds the background jobs of the object log.
//
// retention.go implements the RetentionJob, which periodically deletes log entries older
// than retention.max_age_days. When an archive store is attached, expiring entries are first
// written to it as JSON Lines and nothing is deleted unless that upload succeeds. The job is
// a no-op when retention.enabled is false, so it is always safe to start.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/object-log/object-log/internal/audit"
	"github.com/object-log/object-log/internal/config"
	"github.com/object-log/object-log/internal/crypto"
	"github.com/object-log/object-log/internal/db/models"
	"github.com/object-log/object-log/internal/safego"
	"github.com/object-log/object-log/internal/storage"
	"github.com/object-log/object-log/internal/telemetry"
	"github.com/object-log/object-log/pkg/checksum"
)

// archivePageSize bounds how many entries are loaded per query while exporting.
const archivePageSize = 1000

// EntryPruner deletes entries created before a cutoff.
type EntryPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// EntryLister pages through entries created before a cutoff, oldest first.
type EntryLister interface {
	ListOlderThan(ctx context.Context, cutoff time.Time, limit, offset int) ([]*models.LogEntry, error)
}

// RetentionJob periodically removes entries past their maximum age.
type RetentionJob struct {
	entries  EntryPruner
	cfg      config.RetentionConfig
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once

	lister        EntryLister
	archive       storage.Storage
	archivePrefix string
	cipher        *crypto.LineCipher
}

// NewRetentionJob creates a RetentionJob. Non-positive interval or age settings fall back
// to 24 hours and 365 days.
func NewRetentionJob(entries EntryPruner, cfg config.RetentionConfig) *RetentionJob {
	hours := cfg.IntervalHours
	if hours <= 0 {
		hours = 24
	}
	days := cfg.MaxAgeDays
	if days <= 0 {
		days = 365
	}
	return &RetentionJob{
		entries:  entries,
		cfg:      cfg,
		interval: time.Duration(hours) * time.Hour,
		maxAge:   time.Duration(days) * 24 * time.Hour,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// WithArchive attaches an archive store. Each sweep then exports the expiring entries to
// <prefix>/objectlog-<cutoff>.jsonl before deleting them.
func (j *RetentionJob) WithArchive(lister EntryLister, store storage.Storage, prefix string) *RetentionJob {
	j.lister = lister
	j.archive = store
	j.archivePrefix = prefix
	return j
}

// WithCipher seals every archived line. Sealed archives carry crypto.SealedSuffix.
func (j *RetentionJob) WithCipher(c *crypto.LineCipher) *RetentionJob {
	j.cipher = c
	return j
}

// ArchivePath returns the object path a sweep with the given cutoff writes to.
func ArchivePath(prefix string, cutoff time.Time) string {
	return path.Join(prefix, "objectlog-"+cutoff.UTC().Format("20060102T150405Z")+".jsonl")
}

// Start runs a sweep immediately and then once per interval until ctx is cancelled or Stop
// is called. It blocks; launch it with safego.Go.
func (j *RetentionJob) Start(ctx context.Context) {
	if !j.cfg.Enabled {
		slog.Info("retention job: disabled (retention.enabled=false)")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("retention job started", "interval", j.interval, "max_age", j.maxAge)

	j.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			j.sweep(ctx)
		case <-j.stopChan:
			slog.Info("retention job stopped")
			return
		case <-ctx.Done():
			slog.Info("retention job context cancelled")
			return
		}
	}
}

// sweep runs one RunOnce; a panic is logged and the loop keeps its schedule.
func (j *RetentionJob) sweep(ctx context.Context) {
	safego.Run(safego.TaskRetention, func() { j.RunOnce(ctx) })
}

// Stop signals the loop to exit. Calling it more than once is safe.
func (j *RetentionJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
}

// RunOnce deletes every entry older than the maximum age and returns the number removed.
// Failures are logged and reported as zero.
func (j *RetentionJob) RunOnce(ctx context.Context) int64 {
	cutoff := j.now().Add(-j.maxAge)
	if j.archive != nil {
		archived, err := j.exportOlderThan(ctx, cutoff)
		if err != nil {
			slog.Error("retention job: archive failed, skipping delete", "cutoff", cutoff, "error", err)
			return 0
		}
		if archived > 0 {
			telemetry.RetentionArchivedTotal.Add(float64(archived))
		}
	}

	deleted, err := j.entries.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("retention job: failed to delete old entries", "cutoff", cutoff, "error", err)
		return 0
	}
	if deleted > 0 {
		telemetry.RetentionDeletedTotal.Add(float64(deleted))
		slog.Info("retention job: deleted old entries", "count", deleted, "cutoff", cutoff)
	}
	return deleted
}

// exportOlderThan writes every entry before cutoff to the archive and returns how many were
// written. Offset paging is stable here since nothing is deleted until the upload is done.
func (j *RetentionJob) exportOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var buf bytes.Buffer
	count := 0
	for {
		page, err := j.lister.ListOlderThan(ctx, cutoff, archivePageSize, count)
		if err != nil {
			return 0, fmt.Errorf("failed to list expiring entries: %w", err)
		}
		for _, entry := range page {
			line, err := json.Marshal(audit.NewEvent(entry))
			if err != nil {
				return 0, fmt.Errorf("failed to encode entry %s: %w", entry.ID, err)
			}
			if j.cipher != nil {
				if line, err = j.cipher.Seal(line); err != nil {
					return 0, fmt.Errorf("failed to seal entry %s: %w", entry.ID, err)
				}
			}
			buf.Write(line)
			buf.WriteByte('\n')
		}
		count += len(page)
		if len(page) < archivePageSize {
			break
		}
	}
	if count == 0 {
		return 0, nil
	}

	key := ArchivePath(j.archivePrefix, cutoff)
	if j.cipher != nil {
		key += crypto.SealedSuffix
	}
	want := checksum.SHA256Bytes(buf.Bytes())
	result, err := j.archive.Upload(ctx, key, &buf, int64(buf.Len()))
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s: %w", key, err)
	}
	// Backends that report a digest must agree with what was sent.
	if result.Checksum != "" && result.Checksum != want {
		return 0, fmt.Errorf("checksum mismatch for %s: sent %s, stored %s", key, want, result.Checksum)
	}
	slog.Info("retention job: archived entries", "count", count, "path", result.Path, "sha256", result.Checksum)
	return count, nil
}
