package testutil

import (
	"fmt"
	"time"

	"github.com/xtxerr/homehistory/internal/history/config"
	"github.com/xtxerr/homehistory/internal/history/types"
)

// Config returns a small configuration rooted at dir, suited to tests:
// short intervals, small buckets, no percentile sketches.
func Config(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Hot.DeviceCapacity = 20
	cfg.Hot.SensorCapacity = 50
	cfg.Hot.MetricCapacity = 50
	cfg.Hot.AuditCapacity = 20
	cfg.Hot.OtherCapacity = 20
	cfg.Cold.IndexFlushInterval = 50 * time.Millisecond
	cfg.Retention.CleanupInterval = time.Hour
	cfg.Tiering.SweepInterval = 50 * time.Millisecond
	cfg.Query.Percentile.Enabled = false
	return cfg
}

// DeviceEvent builds a device state change with a deterministic id.
func DeviceEvent(deviceID, room string, i int, ts time.Time) types.HistoricalEvent {
	return types.NewEvent(types.DeviceStateChange{
		DeviceID:      deviceID,
		DeviceName:    deviceID,
		Room:          room,
		PreviousValue: "off",
		NewValue:      "on",
		TriggeredBy:   "test",
	}, types.DeviceSource(deviceID)).At(ts).WithID(fmt.Sprintf("%s-%05d", deviceID, i))
}

// SensorEvent builds a sensor reading with a deterministic id.
func SensorEvent(sensorID, room string, i int, value float64, ts time.Time) types.HistoricalEvent {
	return types.NewEvent(types.SensorData{
		SensorID:   sensorID,
		SensorName: sensorID,
		Value:      value,
		Unit:       "C",
		SensorType: "temperature",
		Room:       room,
	}, types.SensorSource(sensorID)).At(ts).WithID(fmt.Sprintf("%s-%05d", sensorID, i))
}

// MetricEvent builds a system metric sample.
func MetricEvent(name string, value float64, ts time.Time) types.HistoricalEvent {
	return types.NewEvent(types.MetricData{
		MetricName: name,
		Value:      value,
		Unit:       "%",
	}, types.SystemSource()).At(ts)
}

// AuditEvent builds an audit record.
func AuditEvent(actor, action string, result types.AuditResult, ts time.Time) types.HistoricalEvent {
	return types.NewEvent(types.AuditData{
		Actor:  actor,
		Action: action,
		Result: result,
	}, types.UserSource(actor)).At(ts)
}
