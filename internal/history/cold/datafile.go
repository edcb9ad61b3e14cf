package cold

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	herrors "github.com/xtxerr/homehistory/internal/errors"
	"github.com/xtxerr/homehistory/internal/history/codec"
	"github.com/xtxerr/homehistory/internal/history/types"
)

// FileVersion is the current data file format version.
const FileVersion = 1

const (
	dayLayout     = "2006-01-02"
	nameSep       = "__"
	jsonSuffix    = ".json"
	tmpSuffix     = ".tmp"
	corruptSuffix = ".corrupt"
	staleSuffix   = ".stale"
)

// DateRange is the span of event timestamps inside a file.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DataFile is the on-disk envelope holding one (category, day) partition.
type DataFile struct {
	Version     int                     `json:"version"`
	CreatedAt   time.Time               `json:"created_at"`
	Category    types.CategoryKind      `json:"category"`
	DateRange   DateRange               `json:"date_range"`
	EventCount  int                     `json:"event_count"`
	Compression string                  `json:"compression"`
	Events      []types.HistoricalEvent `json:"events"`
}

// DayKey formats the UTC day of ts as YYYY-MM-DD.
func DayKey(ts time.Time) string {
	return types.DayOf(ts).Format(dayLayout)
}

// FileName returns the partition file name, e.g. "sensor_reading__2026-01-15.json.zst".
func FileName(kind types.CategoryKind, day string, c codec.Compression) string {
	return kind.String() + nameSep + day + jsonSuffix + c.Extension()
}

// ParseFileName splits a partition file name into its parts.
func ParseFileName(name string) (kind types.CategoryKind, day string, c codec.Compression, ok bool) {
	c = codec.FromPath(name)
	stem := strings.TrimSuffix(name, c.Extension())
	if !strings.HasSuffix(stem, jsonSuffix) {
		return 0, "", 0, false
	}
	stem = strings.TrimSuffix(stem, jsonSuffix)

	cat, day, found := strings.Cut(stem, nameSep)
	if !found {
		return 0, "", 0, false
	}
	kind, err := types.ParseCategoryKind(cat)
	if err != nil {
		return 0, "", 0, false
	}
	if _, err := time.Parse(dayLayout, day); err != nil {
		return 0, "", 0, false
	}
	return kind, day, c, true
}

// newDataFile builds an envelope over events, which must already be sorted.
func newDataFile(kind types.CategoryKind, created time.Time, c codec.Compression, events []types.HistoricalEvent) *DataFile {
	df := &DataFile{
		Version:     FileVersion,
		CreatedAt:   created.UTC(),
		Category:    kind,
		EventCount:  len(events),
		Compression: c.String(),
		Events:      events,
	}
	if len(events) > 0 {
		df.DateRange = DateRange{
			Start: events[0].Timestamp,
			End:   events[len(events)-1].Timestamp,
		}
	}
	return df
}

// encodeDataFile serializes and compresses a data file.
func encodeDataFile(df *DataFile, cd *codec.Codec) ([]byte, error) {
	raw, err := json.Marshal(df)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %w", herrors.ErrSerialization, df.Category, err)
	}
	return cd.Compress(raw)
}

// readDataFile loads a data file, picking the codec from its extension.
func readDataFile(path string, cd *codec.Codec) (*DataFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, herrors.NewIO("read", path, err)
	}

	raw, err := cd.Decompress(codec.FromPath(path), data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var df DataFile
	if err := json.Unmarshal(raw, &df); err != nil {
		return nil, herrors.NewSerialization(path, err)
	}
	if df.Version != FileVersion {
		return nil, fmt.Errorf("%s: %w: %d", path, herrors.ErrUnsupportedVersion, df.Version)
	}
	return &df, nil
}

// writeAtomic writes data to path via a temporary file, fsync and rename.
func writeAtomic(path string, data []byte) error {
	tmp := path + tmpSuffix

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return herrors.NewIO("create", tmp, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return herrors.NewIO("write", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return herrors.NewIO("sync", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return herrors.NewIO("close", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return herrors.NewIO("rename", path, err)
	}

	syncDir(filepath.Dir(path))
	return nil
}

// syncDir flushes a directory entry. Errors are ignored; not every
// platform supports syncing directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}

// mergeEvents merges incoming into existing, keeping the first copy of each
// id (existing wins), and returns the result sorted by timestamp.
func mergeEvents(existing, incoming []types.HistoricalEvent) (merged []types.HistoricalEvent, added int) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged = make([]types.HistoricalEvent, 0, len(existing)+len(incoming))

	for _, ev := range existing {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		merged = append(merged, ev)
	}
	for _, ev := range incoming {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		merged = append(merged, ev)
		added++
	}

	sortAscending(merged)
	return merged, added
}

func sortAscending(events []types.HistoricalEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].ID < events[j].ID
	})
}
