package hot

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	herrors "github.com/xtxerr/homehistory/internal/errors"
	"github.com/xtxerr/homehistory/internal/history/buffer"
	"github.com/xtxerr/homehistory/internal/history/config"
	"github.com/xtxerr/homehistory/internal/history/types"
)

var base = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func testConfig() config.HotConfig {
	cfg := config.DefaultConfig().Hot
	cfg.SensorCapacity = 100
	cfg.MetricCapacity = 20
	cfg.AuditCapacity = 20
	cfg.OtherCapacity = 20
	return cfg
}

func deviceEvent(device string, i int) types.HistoricalEvent {
	return types.NewEvent(types.DeviceStateChange{
		DeviceID: device,
		Room:     "kitchen",
		NewValue: fmt.Sprintf("%d", i),
	}, types.DeviceSource(device)).
		At(base.Add(time.Duration(i) * time.Second)).
		WithID(fmt.Sprintf("%s-%03d", device, i))
}

func TestKeyFor(t *testing.T) {
	tests := []struct {
		category types.Category
		expected BucketKey
	}{
		{types.DeviceStateChange{DeviceID: "light-1"}, BucketKey{BucketDevice, "light-1"}},
		{types.SensorData{SensorID: "temp-1"}, BucketKey{BucketSensor, "temp-1"}},
		{types.MetricData{MetricName: "cpu_usage"}, BucketKey{Kind: BucketMetric}},
		{types.AuditData{Actor: "alice"}, BucketKey{Kind: BucketAudit}},
		{types.DiscoveryData{EntityID: "hue-1"}, BucketKey{Kind: BucketOther}},
		{types.ResponseCacheData{Key: "k"}, BucketKey{Kind: BucketOther}},
	}

	for _, tt := range tests {
		ev := types.NewEvent(tt.category, types.SystemSource())
		key, err := KeyFor(&ev)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, key)
	}

	_, err := KeyFor(&types.HistoricalEvent{ID: "x"})
	assert.True(t, herrors.Is(err, herrors.ErrUnknownCategory))
}

func TestBucketKeyString(t *testing.T) {
	assert.Equal(t, "device:light-1", BucketKey{BucketDevice, "light-1"}.String())
	assert.Equal(t, "audit", BucketKey{Kind: BucketAudit}.String())
}

func TestInsertKeepsMostRecentAtCap(t *testing.T) {
	s := New(testConfig())

	for i := 0; i < 150; i++ {
		_, err := s.Insert(deviceEvent("light-1", i))
		require.NoError(t, err)
	}

	events := s.EventsByCategory(types.CategoryDeviceState)
	require.Len(t, events, 100)
	assert.Equal(t, "light-1-149", events[0].ID, "newest first")
	assert.Equal(t, "light-1-050", events[99].ID)

	st := s.Stats()
	assert.Equal(t, int64(150), st.Inserted)
	assert.Equal(t, int64(50), st.Evicted)
	assert.Equal(t, 100, st.Events)
}

func TestBucketsAreIndependent(t *testing.T) {
	s := New(testConfig())

	for i := 0; i < 120; i++ {
		_, _ = s.Insert(deviceEvent("light-1", i))
	}
	for i := 0; i < 10; i++ {
		_, _ = s.Insert(deviceEvent("light-2", i))
	}

	assert.Equal(t, 100, s.Len(BucketKey{BucketDevice, "light-1"}))
	assert.Equal(t, 10, s.Len(BucketKey{BucketDevice, "light-2"}))
	assert.Len(t, s.EventsForEntity("light-2"), 10)
	assert.Equal(t, 0, s.Len(BucketKey{BucketDevice, "missing"}))
}

func TestNeedsTieringAndCandidates(t *testing.T) {
	s := New(testConfig())
	key := BucketKey{BucketDevice, "light-1"}

	for i := 0; i < 90; i++ {
		_, _ = s.Insert(deviceEvent("light-1", i))
	}
	assert.False(t, s.NeedsTiering(key), "90 of 100 is not above 0.9")

	_, _ = s.Insert(deviceEvent("light-1", 90))
	assert.True(t, s.NeedsTiering(key))
	assert.Equal(t, []BucketKey{key}, s.BucketsNeedingTiering())

	candidates := s.MigrationCandidates(key)
	require.Len(t, candidates, 41)
	assert.Equal(t, "light-1-000", candidates[0].ID)
	assert.Equal(t, "light-1-040", candidates[40].ID)

	// Events arriving between snapshot and trim must survive.
	_, _ = s.Insert(deviceEvent("light-1", 91))

	removed := s.Trim(key, candidates)
	assert.Equal(t, 41, removed)
	assert.Equal(t, 51, s.Len(key))

	snap := s.Snapshot(key)
	assert.Equal(t, "light-1-041", snap[0].ID)
	assert.Equal(t, "light-1-091", snap[len(snap)-1].ID)
	assert.False(t, s.NeedsTiering(key))
	assert.Len(t, s.MigrationCandidates(key), 1, "51 held, 50 kept")
}

func TestSharedBuckets(t *testing.T) {
	s := New(testConfig())

	_, _ = s.Insert(types.NewEvent(types.MetricData{MetricName: "cpu_usage", Value: 1}, types.SystemSource()))
	_, _ = s.Insert(types.NewEvent(types.AuditData{Actor: "alice", Result: types.AuditSuccess}, types.UserSource("alice")))
	_, _ = s.Insert(types.NewEvent(types.DiscoveryData{EntityID: "hue-1"}, types.SystemSource()))
	_, _ = s.Insert(types.NewEvent(types.ResponseCacheData{Key: "k"}, types.APISource("weather")))

	assert.Len(t, s.EventsByCategory(types.CategorySystemMetric), 1)
	assert.Len(t, s.EventsByCategory(types.CategoryAuditEvent), 1)
	assert.Len(t, s.EventsByCategory(types.CategoryDiscoveryEvent), 1)
	assert.Len(t, s.EventsByCategory(types.CategoryResponseCache), 1)
	assert.Equal(t, 2, s.Len(BucketKey{Kind: BucketOther}))
	assert.Len(t, s.All(), 4)
}

func TestRecentAndOldest(t *testing.T) {
	s := New(testConfig())

	for i := 0; i < 5; i++ {
		_, _ = s.Insert(deviceEvent("light-1", i))
		_, _ = s.Insert(deviceEvent("light-2", i+10))
	}

	recent := s.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "light-2-014", recent[0].ID)

	oldest, ok := s.OldestTimestamp()
	require.True(t, ok)
	assert.True(t, oldest.Equal(base))
	assert.True(t, s.Stats().Oldest.Equal(base))

	_, ok = New(testConfig()).OldestTimestamp()
	assert.False(t, ok)
	assert.True(t, New(testConfig()).Stats().Oldest.IsZero())
}

func TestQueryFiltersByCategoryBucket(t *testing.T) {
	s := New(testConfig())
	for i := 0; i < 10; i++ {
		_, _ = s.Insert(deviceEvent("light-1", i))
	}
	_, _ = s.Insert(types.NewEvent(types.MetricData{MetricName: "cpu_usage"}, types.SystemSource()).At(base))

	got := s.Query(buffer.Filter{Since: base.Add(5 * time.Second)}, []types.CategoryKind{types.CategoryDeviceState})
	assert.Len(t, got, 5)

	got = s.Query(buffer.Filter{}, nil)
	assert.Len(t, got, 11)
}

func TestReadsReturnCopies(t *testing.T) {
	s := New(testConfig())
	_, _ = s.Insert(deviceEvent("light-1", 0))

	events := s.EventsByCategory(types.CategoryDeviceState)
	events[0].ID = "mutated"

	assert.Equal(t, "light-1-000", s.EventsByCategory(types.CategoryDeviceState)[0].ID)
}
