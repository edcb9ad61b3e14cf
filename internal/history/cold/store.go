// Package cold implements the on-disk archive: one compressed JSON file per
// (category, UTC day), plus an index that maps days to files.
package cold

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	herrors "github.com/xtxerr/homehistory/internal/errors"
	"github.com/xtxerr/homehistory/internal/history/codec"
	"github.com/xtxerr/homehistory/internal/history/config"
	"github.com/xtxerr/homehistory/internal/history/metrics"
	"github.com/xtxerr/homehistory/internal/history/types"
	"github.com/xtxerr/homehistory/internal/logging"
)

// Store is the cold archive.
//
// All writes (StoreEvents, Cleanup, FlushIndex) are serialized by mu.
// Queries hold the read lock only while selecting index entries; files
// are loaded afterwards, relying on atomic renames for consistency.
type Store struct {
	dir         string
	codec       *codec.Codec
	maxParallel int
	now         func() time.Time
	recorder    metrics.Recorder
	logger      *slog.Logger

	mu     sync.RWMutex
	index  *Index
	closed bool

	filesWritten  atomic.Int64
	eventsWritten atomic.Int64
	duplicates    atomic.Int64
	readErrors    atomic.Int64
	quarantined   atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for created_at stamps and
// retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// Open opens (creating if needed) the archive in dir.
func Open(dir string, cfg config.ColdConfig, opts ...Option) (*Store, error) {
	algo, err := codec.Parse(cfg.Compression.Algorithm)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, herrors.NewIO("create", dir, err)
	}

	s := &Store{
		dir:         dir,
		codec:       codec.New(algo, cfg.Compression.Level),
		maxParallel: cfg.MaxParallelReads,
		now:         time.Now,
		recorder:    metrics.Noop{},
		logger:      logging.Component("cold"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxParallel <= 0 {
		s.maxParallel = 4
	}

	s.index, err = loadIndex(dir, s.codec, s.logger)
	if err != nil {
		return nil, err
	}

	s.logger.Info("cold store opened",
		"dir", dir,
		"compression", algo.String(),
		"files", s.index.fileCount())
	return s, nil
}

// Dir returns the archive directory.
func (s *Store) Dir() string {
	return s.dir
}

type partition struct {
	kind types.CategoryKind
	day  string
}

// StoreEvents archives events. Events are grouped by (category, UTC day);
// each group is merged into its partition file, keeping the copy already
// archived when an id is seen twice.
func (s *Store) StoreEvents(ctx context.Context, events []types.HistoricalEvent) error {
	if len(events) == 0 {
		return nil
	}

	groups := make(map[partition][]types.HistoricalEvent)
	for _, ev := range events {
		if ev.Category == nil {
			return fmt.Errorf("%w: event %s has no category", herrors.ErrInvalidEvent, ev.ID)
		}
		p := partition{kind: ev.Kind(), day: DayKey(ev.Timestamp)}
		groups[p] = append(groups[p], ev)
	}

	keys := make([]partition, 0, len(groups))
	for p := range groups {
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].day != keys[j].day {
			return keys[i].day < keys[j].day
		}
		return keys[i].kind < keys[j].kind
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return herrors.ErrClosed
	}

	for _, p := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.writePartition(p, groups[p]); err != nil {
			return fmt.Errorf("store %s %s: %w", p.kind, p.day, err)
		}
	}
	return nil
}

// writePartition merges events into one partition file. Caller holds mu.
func (s *Store) writePartition(p partition, incoming []types.HistoricalEvent) error {
	created := s.now().UTC()
	var existing []types.HistoricalEvent

	oldPath := s.locate(p)
	if oldPath != "" {
		df, err := readDataFile(oldPath, s.codec)
		switch {
		case err == nil:
			existing = df.Events
			created = df.CreatedAt
		case herrors.Is(err, os.ErrNotExist):
			oldPath = ""
		default:
			// Keep the bad file for inspection and start the partition over.
			s.logger.Error("partition unreadable, setting aside", "path", oldPath, "error", err)
			if rerr := os.Rename(oldPath, oldPath+corruptSuffix); rerr != nil {
				return herrors.NewIO("quarantine", oldPath, rerr)
			}
			s.quarantined.Add(1)
			oldPath = ""
		}
	}

	merged, added := mergeEvents(existing, incoming)
	s.duplicates.Add(int64(len(incoming) - added))
	if added == 0 && oldPath != "" {
		return nil
	}

	algo := s.codec.Algorithm()
	df := newDataFile(p.kind, created, algo, merged)
	data, err := encodeDataFile(df, s.codec)
	if err != nil {
		return err
	}

	name := FileName(p.kind, p.day, algo)
	path := filepath.Join(s.dir, name)
	if err := writeAtomic(path, data); err != nil {
		return err
	}
	if oldPath != "" && oldPath != path {
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove stale partition", "path", oldPath, "error", err)
		}
	}

	s.index.put(IndexEntry{
		Path:       name,
		Category:   p.kind,
		Date:       p.day,
		EventCount: len(merged),
		SizeBytes:  int64(len(data)),
		CreatedAt:  created,
		Compressed: algo != codec.None,
		Newest:     df.DateRange.End,
	})

	s.filesWritten.Add(1)
	s.eventsWritten.Add(int64(added))
	s.recorder.RecordColdWrite(context.Background(), p.kind.String(), int64(len(data)))

	s.logger.Debug("partition written",
		"file", name,
		"added", added,
		"events", len(merged),
		"bytes", len(data))
	return nil
}

// locate finds the current file of a partition, via the index or, failing
// that, by probing each codec extension on disk. Caller holds mu.
func (s *Store) locate(p partition) string {
	if e, ok := s.index.get(p.day, p.kind); ok {
		return filepath.Join(s.dir, e.Path)
	}
	for _, c := range codec.All() {
		path := filepath.Join(s.dir, FileName(p.kind, p.day, c))
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// QueryEvents returns archived events with start <= timestamp <= end,
// optionally restricted to categories, sorted ascending and truncated to
// limit (0 = no limit). A zero start or end leaves that side open.
//
// Unreadable files are logged and skipped; only context cancellation
// fails the query.
func (s *Store) QueryEvents(ctx context.Context, start, end time.Time, categories []types.CategoryKind, limit int) ([]types.HistoricalEvent, error) {
	var startDay, endDay string
	if !start.IsZero() {
		startDay = DayKey(start)
	}
	if !end.IsZero() {
		endDay = DayKey(end)
	}

	s.mu.RLock()
	entries := s.index.between(startDay, endDay, categories)
	s.mu.RUnlock()

	if len(entries) == 0 {
		return nil, nil
	}

	results := make([][]types.HistoricalEvent, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)

	for i, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(s.dir, e.Path)
			df, err := readDataFile(path, s.codec)
			if err != nil {
				s.readErrors.Add(1)
				s.logger.Warn("skipping unreadable partition", "path", path, "error", err)
				return nil
			}

			var matched []types.HistoricalEvent
			for _, ev := range df.Events {
				if !start.IsZero() && ev.Timestamp.Before(start) {
					continue
				}
				if !end.IsZero() && ev.Timestamp.After(end) {
					continue
				}
				matched = append(matched, ev)
			}
			results[i] = matched
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []types.HistoricalEvent
	for _, r := range results {
		out = append(out, r...)
	}
	sortAscending(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// NewestTimestamp returns the latest event timestamp archived for any of
// categories (all categories when none are given). It is zero for an
// empty archive. Answered from the index without reading files.
func (s *Store) NewestTimestamp(categories []types.CategoryKind) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.newest(categories)
}

// CleanupResult holds the result of a retention pass.
type CleanupResult struct {
	DryRun        bool
	FilesDeleted  int
	EventsDeleted int
	BytesFreed    int64
	FilesSkipped  int
	ByCategory    map[types.CategoryKind]int
	Errors        []error
}

// Cleanup deletes partition files created before now minus their
// category's retention. Categories missing from retentionDays are kept.
// With dryRun set nothing is removed.
func (s *Store) Cleanup(retentionDays map[types.CategoryKind]int, dryRun bool) CleanupResult {
	result := CleanupResult{
		DryRun:     dryRun,
		ByCategory: make(map[types.CategoryKind]int),
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.index.all() {
		days, ok := retentionDays[e.Category]
		if !ok || days <= 0 {
			result.FilesSkipped++
			continue
		}

		cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
		if !e.CreatedAt.Before(cutoff) {
			result.FilesSkipped++
			continue
		}

		if !dryRun {
			path := filepath.Join(s.dir, e.Path)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				result.Errors = append(result.Errors, herrors.NewIO("delete", path, err))
				continue
			}
			s.index.remove(e.Date, e.Category)
		}

		result.FilesDeleted++
		result.EventsDeleted += e.EventCount
		result.BytesFreed += e.SizeBytes
		result.ByCategory[e.Category]++
	}

	return result
}

// FlushIndex writes the index to disk if it changed.
func (s *Store) FlushIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.flush(s.now())
}

// Entries returns a copy of all index entries, ordered by date.
func (s *Store) Entries() []IndexEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.all()
}

// ReadPartition loads the events of one partition.
func (s *Store) ReadPartition(kind types.CategoryKind, day time.Time) ([]types.HistoricalEvent, error) {
	s.mu.RLock()
	e, ok := s.index.get(DayKey(day), kind)
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	df, err := readDataFile(filepath.Join(s.dir, e.Path), s.codec)
	if err != nil {
		return nil, err
	}
	return df.Events, nil
}

// Stats holds archive statistics.
type Stats struct {
	Files            int
	Events           int64
	Bytes            int64
	OldestDay        string
	NewestDay        string
	CompressionRatio float64
	FilesWritten     int64
	EventsWritten    int64
	Duplicates       int64
	ReadErrors       int64
	Quarantined      int64
	IndexDirty       bool
	IndexUpdatedAt   time.Time
}

// Stats returns archive statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		CompressionRatio: s.codec.Ratio().Value(),
		FilesWritten:     s.filesWritten.Load(),
		EventsWritten:    s.eventsWritten.Load(),
		Duplicates:       s.duplicates.Load(),
		ReadErrors:       s.readErrors.Load(),
		Quarantined:      s.quarantined.Load(),
		IndexDirty:       s.index.dirty,
		IndexUpdatedAt:   s.index.updatedAt,
	}
	for _, e := range s.index.all() {
		st.Files++
		st.Events += int64(e.EventCount)
		st.Bytes += e.SizeBytes
		if st.OldestDay == "" || e.Date < st.OldestDay {
			st.OldestDay = e.Date
		}
		if e.Date > st.NewestDay {
			st.NewestDay = e.Date
		}
	}
	return st
}

// DiskUsage holds per-category disk usage.
type DiskUsage struct {
	FileCount  int
	EventCount int64
	TotalSize  int64
}

// DiskUsage returns disk usage by category.
func (s *Store) DiskUsage() map[types.CategoryKind]DiskUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usage := make(map[types.CategoryKind]DiskUsage)
	for _, e := range s.index.all() {
		u := usage[e.Category]
		u.FileCount++
		u.EventCount += int64(e.EventCount)
		u.TotalSize += e.SizeBytes
		usage[e.Category] = u
	}
	return usage
}

// Close flushes the index and releases codec resources.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.index.flush(s.now())
	s.codec.Close()
	return err
}
