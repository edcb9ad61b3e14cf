package buffer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/homehistory/internal/history/types"
)

func sensorEvent(i int, ts time.Time) types.HistoricalEvent {
	return types.NewEvent(types.SensorData{
		SensorID: "temp-1",
		Value:    float64(i),
	}, types.SensorSource("temp-1")).At(ts).WithID(fmt.Sprintf("ev-%d", i))
}

func TestRingBuffer_Basic(t *testing.T) {
	rb := New(10)

	if rb.Cap() != 10 {
		t.Errorf("expected capacity=10, got %d", rb.Cap())
	}

	if rb.Len() != 0 {
		t.Error("new buffer should be empty")
	}

	if New(0).Cap() != 1024 {
		t.Error("non-positive capacity should fall back to 1024")
	}
}

func TestRingBuffer_PushOverwrite(t *testing.T) {
	rb := New(3)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if rb.PushOverwrite(sensorEvent(i, now.Add(time.Duration(i)*time.Second))) {
			t.Errorf("push %d should not evict", i)
		}
	}

	if rb.Len() != rb.Cap() {
		t.Error("buffer should be full")
	}

	if !rb.PushOverwrite(sensorEvent(3, now.Add(3*time.Second))) {
		t.Error("push into full buffer should evict")
	}

	snap := rb.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 events, got %d", len(snap))
	}
	if snap[0].ID != "ev-1" || snap[2].ID != "ev-3" {
		t.Errorf("expected ev-1..ev-3, got %s..%s", snap[0].ID, snap[2].ID)
	}

	stats := rb.Stats()
	if stats.PushCount != 4 {
		t.Errorf("expected 4 pushes, got %d", stats.PushCount)
	}
	if stats.EvictCount != 1 {
		t.Errorf("expected 1 eviction, got %d", stats.EvictCount)
	}
}

func TestRingBuffer_OldestNewest(t *testing.T) {
	rb := New(5)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		rb.PushOverwrite(sensorEvent(i, now.Add(time.Duration(i)*time.Second)))
	}

	oldest := rb.Oldest(2)
	if len(oldest) != 2 || oldest[0].ID != "ev-0" || oldest[1].ID != "ev-1" {
		t.Errorf("unexpected oldest: %v", ids(oldest))
	}

	newest := rb.Newest(2)
	if len(newest) != 2 || newest[0].ID != "ev-4" || newest[1].ID != "ev-3" {
		t.Errorf("unexpected newest: %v", ids(newest))
	}

	if got := rb.Oldest(50); len(got) != 5 {
		t.Errorf("expected 5, got %d", len(got))
	}
	if got := rb.Newest(0); len(got) != 5 {
		t.Errorf("expected 5, got %d", len(got))
	}
}

func TestRingBuffer_RemoveIDs(t *testing.T) {
	rb := New(5)
	now := time.Now().UTC()

	// Wrap the ring so tail is not at index 0.
	for i := 0; i < 7; i++ {
		rb.PushOverwrite(sensorEvent(i, now.Add(time.Duration(i)*time.Second)))
	}

	removed := rb.RemoveIDs(map[string]struct{}{
		"ev-2":    {},
		"ev-4":    {},
		"missing": {},
	})
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	got := ids(rb.Snapshot())
	want := []string{"ev-3", "ev-5", "ev-6"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	// Buffer keeps working after compaction.
	for i := 7; i < 10; i++ {
		rb.PushOverwrite(sensorEvent(i, now.Add(time.Duration(i)*time.Second)))
	}
	got = ids(rb.Snapshot())
	want = []string{"ev-5", "ev-6", "ev-7", "ev-8", "ev-9"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if rb.Stats().TrimCount != 2 {
		t.Errorf("expected trim count 2, got %d", rb.Stats().TrimCount)
	}
	if rb.RemoveIDs(nil) != 0 {
		t.Error("removing nothing should be a no-op")
	}
}

func TestRingBuffer_SnapshotIsCopy(t *testing.T) {
	rb := New(2)
	rb.PushOverwrite(sensorEvent(0, time.Now()))

	snap := rb.Snapshot()
	snap[0].ID = "mutated"

	if rb.Snapshot()[0].ID != "ev-0" {
		t.Error("snapshot mutation leaked into buffer")
	}
}

func TestRingBuffer_Query(t *testing.T) {
	rb := New(100)
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		rb.PushOverwrite(sensorEvent(i, base.Add(time.Duration(i)*time.Minute)))
	}

	results := rb.Query(Filter{
		Since: base.Add(10 * time.Minute),
		Until: base.Add(19 * time.Minute),
	}, 0)
	if len(results) != 10 {
		t.Errorf("expected 10 results in range, got %d", len(results))
	}

	results = rb.Query(Filter{
		Match: func(ev *types.HistoricalEvent) bool {
			return ev.Category.(types.SensorData).Value >= 45
		},
	}, 0)
	if len(results) != 5 {
		t.Errorf("expected 5 matching results, got %d", len(results))
	}

	results = rb.Query(Filter{}, 7)
	if len(results) != 7 {
		t.Errorf("expected limit 7, got %d", len(results))
	}
}

func TestRingBuffer_TimeRange(t *testing.T) {
	rb := New(10)
	oldest, newest := rb.TimeRange()
	if !oldest.IsZero() || !newest.IsZero() {
		t.Error("empty buffer should have zero range")
	}

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	// Out of order arrival.
	rb.PushOverwrite(sensorEvent(0, base.Add(5*time.Minute)))
	rb.PushOverwrite(sensorEvent(1, base))
	rb.PushOverwrite(sensorEvent(2, base.Add(2*time.Minute)))

	oldest, newest = rb.TimeRange()
	if !oldest.Equal(base) {
		t.Errorf("expected oldest %v, got %v", base, oldest)
	}
	if !newest.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("expected newest %v, got %v", base.Add(5*time.Minute), newest)
	}
}

func TestRingBuffer_UsageRatio(t *testing.T) {
	rb := New(10)
	for i := 0; i < 9; i++ {
		rb.PushOverwrite(sensorEvent(i, time.Now()))
	}
	if r := rb.Stats().UsageRatio; r != 0.9 {
		t.Errorf("expected ratio 0.9, got %f", r)
	}
}

func TestRingBuffer_Concurrent(t *testing.T) {
	rb := New(1000)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				rb.PushOverwrite(sensorEvent(w*1000+i, time.Now()))
			}
		}(w)
	}

	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = rb.Snapshot()
				_ = rb.Query(Filter{}, 10)
			}
		}()
	}

	wg.Wait()

	if rb.Len() != 1000 {
		t.Errorf("expected full buffer of 1000, got %d", rb.Len())
	}
	if rb.Stats().PushCount != 2000 {
		t.Errorf("expected 2000 pushes, got %d", rb.Stats().PushCount)
	}
}

func ids(events []types.HistoricalEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}
