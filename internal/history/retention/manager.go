// Package retention expires archive partitions past their category's
// retention window.
package retention

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/xtxerr/homehistory/internal/history/cold"
	"github.com/xtxerr/homehistory/internal/history/config"
	"github.com/xtxerr/homehistory/internal/history/types"
	"github.com/xtxerr/homehistory/internal/logging"
)

// Archive is the cold-store surface retention works on.
type Archive interface {
	Cleanup(retentionDays map[types.CategoryKind]int, dryRun bool) cold.CleanupResult
	DiskUsage() map[types.CategoryKind]cold.DiskUsage
}

// Manager handles cleanup of expired partitions.
type Manager struct {
	mu      sync.RWMutex
	archive Archive
	days    map[types.CategoryKind]int
	logger  *slog.Logger
	stats   Stats
}

// Stats holds retention statistics.
type Stats struct {
	Runs          int64
	LastRunTime   time.Time
	FilesDeleted  int64
	EventsDeleted int64
	BytesFreed    int64
	FilesSkipped  int64
	Errors        int64
}

// New creates a retention manager.
func New(archive Archive, cfg config.RetentionConfig) *Manager {
	return &Manager{
		archive: archive,
		days:    cfg.RetentionDays(),
		logger:  logging.Component("retention"),
	}
}

// RunCleanup deletes every expired partition.
func (m *Manager) RunCleanup() cold.CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := m.archive.Cleanup(m.days, false)

	m.stats.Runs++
	m.stats.LastRunTime = time.Now()
	m.stats.FilesDeleted += int64(result.FilesDeleted)
	m.stats.EventsDeleted += int64(result.EventsDeleted)
	m.stats.BytesFreed += result.BytesFreed
	m.stats.FilesSkipped += int64(result.FilesSkipped)
	m.stats.Errors += int64(len(result.Errors))

	for _, err := range result.Errors {
		m.logger.Warn("retention delete failed", "error", err)
	}
	if result.FilesDeleted > 0 {
		m.logger.Info("retention cleanup",
			"files", result.FilesDeleted,
			"events", result.EventsDeleted,
			"freed", humanize.Bytes(uint64(result.BytesFreed)))
	}
	return result
}

// DryRun reports what RunCleanup would delete without deleting anything.
func (m *Manager) DryRun() cold.CleanupResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.archive.Cleanup(m.days, true)
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// DiskUsage returns archive disk usage by category.
func (m *Manager) DiskUsage() map[types.CategoryKind]cold.DiskUsage {
	return m.archive.DiskUsage()
}

// FormatDiskUsage renders disk usage per category with its retention.
func (m *Manager) FormatDiskUsage() string {
	usage := m.DiskUsage()

	var b strings.Builder
	var totalSize int64
	var totalFiles int
	var totalEvents int64

	b.WriteString("Disk Usage:\n")
	for _, kind := range types.AllCategoryKinds() {
		u := usage[kind]
		totalSize += u.TotalSize
		totalFiles += u.FileCount
		totalEvents += u.EventCount

		fmt.Fprintf(&b, "  %s: %d files, %s events, %s (keep %dd)\n",
			kind,
			u.FileCount,
			humanize.Comma(u.EventCount),
			humanize.Bytes(uint64(u.TotalSize)),
			m.days[kind],
		)
	}
	fmt.Fprintf(&b, "  Total: %d files, %s events, %s\n",
		totalFiles, humanize.Comma(totalEvents), humanize.Bytes(uint64(totalSize)))

	return b.String()
}
