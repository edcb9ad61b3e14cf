package history

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	herrors "github.com/xtxerr/homehistory/internal/errors"
	"github.com/xtxerr/homehistory/internal/history/cold"
	"github.com/xtxerr/homehistory/internal/history/config"
	"github.com/xtxerr/homehistory/internal/history/hot"
	"github.com/xtxerr/homehistory/internal/history/metrics"
	"github.com/xtxerr/homehistory/internal/history/query"
	"github.com/xtxerr/homehistory/internal/history/types"
	"github.com/xtxerr/homehistory/internal/testutil"
)

func newService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	svc, err := New(cfg, WithRecorder(metrics.Noop{}))
	require.NoError(t, err)
	return svc
}

func startService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	svc := newService(t, cfg)
	require.NoError(t, svc.Start())
	t.Cleanup(func() { svc.Stop() })
	return svc
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testutil.Config(t.TempDir())
	cfg.Hot.LowWatermark = 0.95
	cfg.Tiering.Workers = 0

	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, herrors.IsValidation(err))
	assert.Contains(t, err.Error(), "hot.low_watermark")
	assert.Contains(t, err.Error(), "tiering.workers")
}

func TestRecordRequiresRunningService(t *testing.T) {
	svc := newService(t, testutil.Config(t.TempDir()))
	defer svc.Stop()

	err := svc.Record(testutil.DeviceEvent("light-1", "kitchen", 0, time.Now()))
	assert.True(t, herrors.Is(err, herrors.ErrNotRunning))
}

func TestRecordRejectsInvalidEvent(t *testing.T) {
	svc := startService(t, testutil.Config(t.TempDir()))

	ev := testutil.DeviceEvent("light-1", "kitchen", 0, time.Now()).WithID("")
	err := svc.Record(ev)
	require.Error(t, err)
	assert.True(t, herrors.Is(err, herrors.ErrInvalidEvent))
	assert.True(t, herrors.IsValidation(err))
	assert.Equal(t, int64(1), svc.Stats().Rejected)
}

func TestLifecycle(t *testing.T) {
	svc := newService(t, testutil.Config(t.TempDir()))

	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())
	assert.True(t, herrors.Is(svc.Start(), herrors.ErrAlreadyRunning))

	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
	assert.True(t, herrors.Is(svc.Start(), herrors.ErrClosed))
}

// Migrated events stay queryable from the archive alone: nothing is lost
// between the hot store and disk.
func TestRecordBatchStopsAtFirstInvalidEvent(t *testing.T) {
	svc := startService(t, testutil.Config(t.TempDir()))
	ts := time.Now().UTC().Add(-time.Minute)

	batch := types.NewEventBatch(4)
	batch.Add(testutil.DeviceEvent("light-1", "kitchen", 0, ts))
	batch.Add(testutil.SensorEvent("temp-1", "kitchen", 0, 21.5, ts))
	batch.Add(testutil.DeviceEvent("light-1", "kitchen", 1, ts).WithID(""))
	batch.Add(testutil.DeviceEvent("light-1", "kitchen", 2, ts))

	err := svc.RecordBatch(batch)
	require.Error(t, err)
	assert.True(t, herrors.Is(err, herrors.ErrInvalidEvent))
	assert.Contains(t, err.Error(), "event 2")

	st := svc.Stats()
	assert.Equal(t, int64(2), st.Recorded)
	assert.Equal(t, int64(1), st.Rejected)

	res := svc.Query().Since(ts.Add(-time.Second)).Execute(context.Background())
	assert.Equal(t, 2, res.TotalCount)

	batch.Clear()
	batch.Add(testutil.DeviceEvent("light-1", "kitchen", 3, ts))
	require.NoError(t, svc.RecordBatch(batch))
	assert.Equal(t, int64(3), svc.Stats().Recorded)
}

func TestRecentlyMigratedEventsStayQueryable(t *testing.T) {
	dir := t.TempDir()
	cfg := testutil.Config(dir)
	svc := newService(t, cfg)
	require.NoError(t, svc.Start())

	const total = 40
	key := hot.BucketKey{Kind: hot.BucketDevice, ID: "light-1"}
	base := time.Now().UTC().Add(-5 * time.Minute)

	for i := 0; i < total; i++ {
		require.NoError(t, svc.Record(testutil.DeviceEvent("light-1", "kitchen", i, base.Add(time.Duration(i)*5*time.Second))))
		if svc.hot.Len(key) > 18 {
			require.NoError(t, testutil.Eventually(5*time.Second, 5*time.Millisecond, func() bool {
				return svc.hot.Len(key) <= 10
			}))
		}
	}

	st := svc.Stats()
	require.Equal(t, int64(0), st.Hot.Evicted)
	require.Greater(t, st.Tiering.EventsMigrated, int64(0), "minutes-old events reached the archive")

	since := time.Now().UTC().Add(-30 * time.Minute)
	res := svc.Query().Since(since).Order(query.Ascending).Execute(context.Background())
	assert.True(t, res.FromHotStorage, "archive holds events newer than the start")
	require.Equal(t, total, res.TotalCount)
	for i, ev := range res.Events {
		assert.Equal(t, fmt.Sprintf("light-1-%05d", i), ev.ID)
	}

	// After a restart the hot store is empty and the archive answers alone.
	require.NoError(t, svc.Stop())
	reopened := startService(t, cfg)
	res = reopened.Query().Since(since).Execute(context.Background())
	assert.True(t, res.FromHotStorage)
	assert.Equal(t, total, res.TotalCount)
}

func TestTieringKeepsEventsQueryable(t *testing.T) {
	dir := t.TempDir()
	cfg := testutil.Config(dir)
	cfg.Tiering.FlushOnStop = false
	svc := newService(t, cfg)
	require.NoError(t, svc.Start())

	const total = 100
	key := hot.BucketKey{Kind: hot.BucketDevice, ID: "light-1"}
	base := time.Now().UTC().Add(-3 * time.Hour)

	for i := 0; i < total; i++ {
		require.NoError(t, svc.Record(testutil.DeviceEvent("light-1", "kitchen", i, base.Add(time.Duration(i)*time.Second))))
		// Stay below the hard cap so the run is not an overload.
		if svc.hot.Len(key) > 18 {
			require.NoError(t, testutil.Eventually(5*time.Second, 5*time.Millisecond, func() bool {
				return svc.hot.Len(key) <= 10
			}))
		}
	}

	st := svc.Stats()
	assert.Equal(t, int64(0), st.Hot.Evicted)
	assert.Greater(t, st.Tiering.EventsMigrated, int64(0))
	assert.Equal(t, int64(total), st.Tiering.EventsMigrated+int64(svc.hot.Len(key)))

	res := svc.Query().
		Between(base.Add(-time.Minute), base.Add(time.Hour)).
		Entities("light-1").
		Order(query.Ascending).
		Execute(context.Background())
	assert.True(t, res.FromHotStorage, "range is older than the hot horizon")
	require.Equal(t, total, res.TotalCount)
	for i, ev := range res.Events {
		assert.Equal(t, fmt.Sprintf("light-1-%05d", i), ev.ID)
	}

	inHot := svc.hot.Len(key)
	require.NoError(t, svc.Stop())

	// Reopen: only the archive is left, and it holds everything migrated.
	reopened := startService(t, cfg)
	res = reopened.Query().Between(base.Add(-time.Minute), base.Add(time.Hour)).Execute(context.Background())
	assert.Equal(t, total-inHot, res.TotalCount)
}

func TestStopFlushesHotStore(t *testing.T) {
	dir := t.TempDir()
	cfg := testutil.Config(dir)
	svc := newService(t, cfg)
	require.NoError(t, svc.Start())

	day := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, svc.Record(testutil.DeviceEvent("light-1", "kitchen", 0, day)))
	require.NoError(t, svc.Record(testutil.SensorEvent("temp-1", "kitchen", 0, 21.5, day)))
	require.NoError(t, svc.Record(testutil.AuditEvent("alice", "unlock", types.AuditSuccess, day)))
	require.NoError(t, svc.Stop())

	archive, err := cold.Open(dir, cfg.Cold)
	require.NoError(t, err)
	defer archive.Close()

	events, err := archive.QueryEvents(context.Background(), day.Add(-time.Minute), day.Add(time.Minute), nil, 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestSubscribe(t *testing.T) {
	svc := newService(t, testutil.Config(t.TempDir()))
	require.NoError(t, svc.Start())

	all := svc.Subscribe(10)
	sensors := svc.Subscribe(10, types.CategorySensorReading)

	now := time.Now().UTC()
	require.NoError(t, svc.Record(testutil.DeviceEvent("light-1", "kitchen", 0, now)))
	require.NoError(t, svc.Record(testutil.SensorEvent("temp-1", "kitchen", 0, 20, now)))

	got := <-all.Events()
	assert.Equal(t, "light-1-00000", got.ID)
	got = <-all.Events()
	assert.Equal(t, "temp-1-00000", got.ID)

	got = <-sensors.Events()
	assert.Equal(t, "temp-1-00000", got.ID)

	require.NoError(t, svc.Stop())
	_, open := <-all.Events()
	assert.False(t, open, "feed closes on stop")
}

func TestSlowSubscriberNeverBlocksRecord(t *testing.T) {
	svc := startService(t, testutil.Config(t.TempDir()))
	slow := svc.Subscribe(1)
	defer slow.Close()

	now := time.Now().UTC()
	err := testutil.WithTimeout(2*time.Second, func() error {
		for i := 0; i < 10; i++ {
			if err := svc.Record(testutil.SensorEvent("temp-1", "kitchen", i, float64(i), now)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), slow.Dropped())
	assert.Equal(t, int64(9), svc.Stats().Broadcast.Dropped)
}

func TestQueryAggregateAndDashboard(t *testing.T) {
	svc := startService(t, testutil.Config(t.TempDir()))
	now := time.Now().UTC()
	minute := now.Add(-10 * time.Minute).Truncate(time.Minute)

	for i := 0; i < 10; i++ {
		require.NoError(t, svc.Record(testutil.MetricEvent("cpu_usage", float64(i), minute.Add(time.Duration(i)*12*time.Second))))
	}
	require.NoError(t, svc.Record(testutil.AuditEvent("alice", "unlock", types.AuditFailure, now.Add(-time.Minute))))

	points := svc.Aggregate(context.Background(), "cpu_usage", types.IntervalMinute)
	require.Len(t, points, 2)
	assert.Equal(t, int64(5), points[0].Count)
	assert.Equal(t, 2.0, points[0].Avg)
	assert.Equal(t, 7.0, points[1].Avg)

	summary := svc.Dashboard().AuditSummary(context.Background(), now.Add(-time.Hour))
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.ByResult[types.AuditFailure])
}

func TestExportAndRetention(t *testing.T) {
	svc := startService(t, testutil.Config(t.TempDir()))
	day := time.Now().UTC().Add(-2 * time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Record(testutil.SensorEvent("temp-1", "kitchen", i, float64(i), day.Add(time.Duration(i)*time.Second))))
	}
	n, err := svc.FlushToCold(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	var buf bytes.Buffer
	rows, err := svc.ExportParquet(context.Background(), types.CategorySensorReading, day, &buf)
	require.NoError(t, err)
	assert.Equal(t, 5, rows)
	assert.NotZero(t, buf.Len())

	usage := svc.DiskUsage()
	assert.Equal(t, int64(5), usage[types.CategorySensorReading].EventCount)
	assert.Contains(t, svc.FormatDiskUsage(), "sensor_reading: 1 files")

	// Nothing is old enough to expire.
	assert.Zero(t, svc.DryRunRetention().FilesDeleted)
	assert.Zero(t, svc.RunRetention().FilesDeleted)
	assert.Equal(t, int64(1), svc.Stats().Retention.Runs)
}
