package cold

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/homehistory/internal/history/types"
)

// EventRow is the flattened Parquet form of an archived event.
type EventRow struct {
	ID          string  `parquet:"id,zstd"`
	TimestampMs int64   `parquet:"timestamp_ms"`
	Category    string  `parquet:"category,zstd"`
	SourceKind  string  `parquet:"source_kind,zstd"`
	SourceID    string  `parquet:"source_id,optional,zstd"`
	EntityID    string  `parquet:"entity_id,optional,zstd"`
	Room        string  `parquet:"room,optional,zstd"`
	Value       float64 `parquet:"value,optional"`
	Payload     string  `parquet:"payload,zstd"`
	Metadata    string  `parquet:"metadata,optional,zstd"`
}

// EventToRow converts an event to its Parquet row.
func EventToRow(ev *types.HistoricalEvent) (EventRow, error) {
	payload, err := json.Marshal(ev.Category)
	if err != nil {
		return EventRow{}, fmt.Errorf("encode payload %s: %w", ev.ID, err)
	}

	row := EventRow{
		ID:          ev.ID,
		TimestampMs: ev.Timestamp.UnixMilli(),
		Category:    ev.Kind().String(),
		SourceKind:  ev.Source.Kind.String(),
		SourceID:    ev.Source.ID,
		EntityID:    ev.EntityID(),
		Room:        ev.Room(),
		Payload:     string(payload),
	}

	switch c := ev.Category.(type) {
	case types.SensorData:
		row.Value = c.Value
	case types.MetricData:
		row.Value = c.Value
	}

	if len(ev.Metadata) > 0 {
		md, err := json.Marshal(ev.Metadata)
		if err != nil {
			return EventRow{}, fmt.Errorf("encode metadata %s: %w", ev.ID, err)
		}
		row.Metadata = string(md)
	}
	return row, nil
}

// ExportParquet writes the events of one (category, day) partition to w
// as a Parquet file. Returns the number of rows written.
func (s *Store) ExportParquet(ctx context.Context, kind types.CategoryKind, day time.Time, w io.Writer) (int, error) {
	events, err := s.ReadPartition(kind, day)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	rows := make([]EventRow, 0, len(events))
	for i := range events {
		row, err := EventToRow(&events[i])
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}

	writer := parquet.NewGenericWriter[EventRow](w, parquet.Compression(&parquet.Zstd))
	n, err := writer.Write(rows)
	if err != nil {
		writer.Close()
		return 0, fmt.Errorf("write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close writer: %w", err)
	}
	return n, nil
}

// ReadParquet reads every row of an exported file.
func ReadParquet(r io.ReaderAt) ([]EventRow, error) {
	reader := parquet.NewGenericReader[EventRow](r)
	defer reader.Close()

	rows := make([]EventRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}
