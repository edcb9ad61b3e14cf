package cold

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"

	herrors "github.com/xtxerr/homehistory/internal/errors"
	"github.com/xtxerr/homehistory/internal/history/codec"
	"github.com/xtxerr/homehistory/internal/history/types"
)

const (
	indexFileName = "index.json"
	indexVersion  = 1
)

// IndexEntry describes one partition file.
type IndexEntry struct {
	Path       string             `json:"path"` // relative to the archive directory
	Category   types.CategoryKind `json:"category"`
	Date       string             `json:"date"`
	EventCount int                `json:"event_count"`
	SizeBytes  int64              `json:"size_bytes"`
	CreatedAt  time.Time          `json:"created_at"`
	Compressed bool               `json:"compressed"`

	// Newest is the latest event timestamp in the file. Indexes written
	// without it fall back to the end of Date.
	Newest time.Time `json:"newest"`
}

// newest returns the latest event timestamp the entry may hold.
func (e IndexEntry) newest() time.Time {
	if !e.Newest.IsZero() {
		return e.Newest
	}
	day, err := time.Parse(dayLayout, e.Date)
	if err != nil {
		return time.Time{}
	}
	return day.Add(24*time.Hour - time.Nanosecond)
}

// indexFile is the JSON shape of index.json.
type indexFile struct {
	Version   int                              `json:"version"`
	UpdatedAt time.Time                        `json:"updated_at"`
	Dates     map[string]map[string]IndexEntry `json:"dates"`
}

// Index maps days to the partition files written for them.
// It is not safe for concurrent use; Store serializes access.
type Index struct {
	dir       string
	dates     map[string]map[types.CategoryKind]IndexEntry
	dirty     bool
	updatedAt time.Time
}

func newIndex(dir string) *Index {
	return &Index{
		dir:   dir,
		dates: make(map[string]map[types.CategoryKind]IndexEntry),
	}
}

// loadIndex reads index.json from dir. A missing or unreadable index is
// rebuilt by scanning the partition files.
func loadIndex(dir string, cd *codec.Codec, logger *slog.Logger) (*Index, error) {
	path := filepath.Join(dir, indexFileName)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Info("index not found, rebuilding from disk", "dir", dir)
		return rebuildIndex(dir, cd, logger)
	}
	if err != nil {
		return nil, herrors.NewIO("read", path, err)
	}

	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil || f.Version != indexVersion {
		logger.Warn("index unreadable, rebuilding from disk", "path", path, "error", err, "version", f.Version)
		return rebuildIndex(dir, cd, logger)
	}

	idx := newIndex(dir)
	idx.updatedAt = f.UpdatedAt
	dropped := false
	for date, cats := range f.Dates {
		for _, e := range cats {
			if _, err := os.Stat(filepath.Join(dir, e.Path)); err != nil {
				logger.Warn("index entry has no file, dropping", "path", e.Path)
				dropped = true
				continue
			}
			e.Date = date
			idx.put(e)
		}
	}
	idx.dirty = dropped

	if unindexed := idx.unindexedFiles(); len(unindexed) > 0 {
		logger.Warn("files missing from index, rebuilding from disk", "files", unindexed)
		return rebuildIndex(dir, cd, logger)
	}
	return idx, nil
}

// unindexedFiles lists partition files on disk that no entry points at.
func (idx *Index) unindexedFiles() []string {
	entries, err := os.ReadDir(idx.dir)
	if err != nil {
		return nil
	}
	known := make(map[string]bool)
	for _, e := range idx.all() {
		known[e.Path] = true
	}

	var out []string
	for _, de := range entries {
		if de.IsDir() || known[de.Name()] {
			continue
		}
		if _, _, _, ok := ParseFileName(de.Name()); ok {
			out = append(out, de.Name())
		}
	}
	return out
}

// rebuildIndex scans dir for partition files and indexes them.
func rebuildIndex(dir string, cd *codec.Codec, logger *slog.Logger) (*Index, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, herrors.NewIO("scan", dir, err)
	}

	idx := newIndex(dir)
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		kind, day, c, ok := ParseFileName(de.Name())
		if !ok {
			continue
		}

		path := filepath.Join(dir, de.Name())
		df, err := readDataFile(path, cd)
		if err != nil {
			logger.Warn("skipping unreadable file during rebuild", "path", path, "error", err)
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}

		entry := IndexEntry{
			Path:       de.Name(),
			Category:   kind,
			Date:       day,
			EventCount: df.EventCount,
			SizeBytes:  info.Size(),
			CreatedAt:  df.CreatedAt,
			Compressed: c != codec.None,
			Newest:     df.DateRange.End,
		}

		// A crash between writing a new codec variant and removing the
		// old one leaves two files; the merged one holds more events.
		if prev, exists := idx.get(day, kind); exists {
			loser := entry.Path
			if entry.EventCount > prev.EventCount {
				loser = prev.Path
				idx.put(entry)
			}
			logger.Warn("duplicate partition, setting smaller file aside", "path", loser)
			_ = os.Rename(filepath.Join(dir, loser), filepath.Join(dir, loser+staleSuffix))
			continue
		}
		idx.put(entry)
	}

	idx.dirty = true
	logger.Info("index rebuilt", "files", idx.fileCount())
	return idx, nil
}

func (idx *Index) get(date string, kind types.CategoryKind) (IndexEntry, bool) {
	e, ok := idx.dates[date][kind]
	return e, ok
}

func (idx *Index) put(e IndexEntry) {
	cats, ok := idx.dates[e.Date]
	if !ok {
		cats = make(map[types.CategoryKind]IndexEntry)
		idx.dates[e.Date] = cats
	}
	cats[e.Category] = e
	idx.dirty = true
}

// remove deletes an entry and drops the date bucket once it is empty.
func (idx *Index) remove(date string, kind types.CategoryKind) {
	cats, ok := idx.dates[date]
	if !ok {
		return
	}
	delete(cats, kind)
	if len(cats) == 0 {
		delete(idx.dates, date)
	}
	idx.dirty = true
}

// between returns entries for days in [startDay, endDay], restricted to
// kinds when given, ordered by date then category.
func (idx *Index) between(startDay, endDay string, kinds []types.CategoryKind) []IndexEntry {
	var want map[types.CategoryKind]bool
	if len(kinds) > 0 {
		want = make(map[types.CategoryKind]bool, len(kinds))
		for _, k := range kinds {
			want[k] = true
		}
	}

	var out []IndexEntry
	for date, cats := range idx.dates {
		if (startDay != "" && date < startDay) || (endDay != "" && date > endDay) {
			continue
		}
		for kind, e := range cats {
			if want != nil && !want[kind] {
				continue
			}
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// newest returns the latest event timestamp archived for any of kinds
// (all kinds when none are given).
func (idx *Index) newest(kinds []types.CategoryKind) time.Time {
	var latest time.Time
	for _, e := range idx.between("", "", kinds) {
		if ts := e.newest(); ts.After(latest) {
			latest = ts
		}
	}
	return latest
}

func (idx *Index) all() []IndexEntry {
	return idx.between("", "", nil)
}

func (idx *Index) fileCount() int {
	n := 0
	for _, cats := range idx.dates {
		n += len(cats)
	}
	return n
}

// flush writes index.json atomically if anything changed.
func (idx *Index) flush(now time.Time) error {
	if !idx.dirty {
		return nil
	}

	f := indexFile{
		Version:   indexVersion,
		UpdatedAt: now.UTC(),
		Dates:     make(map[string]map[string]IndexEntry, len(idx.dates)),
	}
	for date, cats := range idx.dates {
		m := make(map[string]IndexEntry, len(cats))
		for kind, e := range cats {
			m[kind.String()] = e
		}
		f.Dates[date] = m
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode index: %w", herrors.ErrSerialization, err)
	}
	if err := writeAtomic(filepath.Join(idx.dir, indexFileName), data); err != nil {
		return err
	}

	idx.dirty = false
	idx.updatedAt = f.UpdatedAt
	return nil
}

func sortEntries(entries []IndexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Date != entries[j].Date {
			return entries[i].Date < entries[j].Date
		}
		return entries[i].Category < entries[j].Category
	})
}
