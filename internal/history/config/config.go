package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/homehistory/config"
	"github.com/xtxerr/homehistory/internal/history/types"
)

// Config represents the complete history storage configuration.
type Config struct {
	// DataDir is the root directory for the cold archive.
	DataDir string `yaml:"data_dir"`

	// Hot configures the in-memory buffers.
	Hot HotConfig `yaml:"hot"`

	// Cold configures the on-disk archive.
	Cold ColdConfig `yaml:"cold"`

	// Retention defines how long each category stays in the archive.
	Retention RetentionConfig `yaml:"retention"`

	// Tiering configures hot to cold migration.
	Tiering TieringConfig `yaml:"tiering"`

	// Broadcast configures the live event feed.
	Broadcast BroadcastConfig `yaml:"broadcast"`

	// Query configures the query engine.
	Query QueryConfig `yaml:"query"`
}

// HotConfig configures the per-bucket in-memory queues.
type HotConfig struct {
	// DeviceCapacity is the queue size per device id.
	DeviceCapacity int `yaml:"device_capacity"`

	// SensorCapacity is the queue size per sensor id (3600 = 1h at 1Hz).
	SensorCapacity int `yaml:"sensor_capacity"`

	// MetricCapacity is the shared system metric queue size.
	MetricCapacity int `yaml:"metric_capacity"`

	// AuditCapacity is the shared audit queue size.
	AuditCapacity int `yaml:"audit_capacity"`

	// OtherCapacity is the shared queue for discovery and response cache events.
	OtherCapacity int `yaml:"other_capacity"`

	// HighWatermark is the occupancy ratio (0-1) that triggers tiering.
	HighWatermark float64 `yaml:"high_watermark"`

	// LowWatermark is the occupancy ratio (0-1) a migration drains down to.
	LowWatermark float64 `yaml:"low_watermark"`

	// Horizon is how far back the hot store is trusted to answer queries
	// on its own. Older start times also consult the cold archive.
	Horizon time.Duration `yaml:"horizon"`
}

// ColdConfig configures the cold archive.
type ColdConfig struct {
	// Compression configures file compression.
	Compression CompressionConfig `yaml:"compression"`

	// IndexFlushInterval is how often a dirty index is written to disk.
	IndexFlushInterval time.Duration `yaml:"index_flush_interval"`

	// MaxParallelReads bounds concurrent file loads during a query.
	MaxParallelReads int `yaml:"max_parallel_reads"`
}

// CompressionConfig configures archive compression.
type CompressionConfig struct {
	// Algorithm is the compression algorithm: none, gzip, zstd, lz4.
	Algorithm string `yaml:"algorithm"`

	// Level is the compression level (gzip: 1-9, zstd: 1-4 speed presets).
	Level int `yaml:"level"`
}

// RetentionConfig defines archive retention per category, in days.
type RetentionConfig struct {
	DeviceStateDays    int `yaml:"device_state_days"`
	SensorReadingDays  int `yaml:"sensor_reading_days"`
	SystemMetricDays   int `yaml:"system_metric_days"`
	AuditEventDays     int `yaml:"audit_event_days"`
	DiscoveryEventDays int `yaml:"discovery_event_days"`
	ResponseCacheDays  int `yaml:"response_cache_days"`

	// CleanupInterval is how often retention cleanup runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// TieringConfig configures the tiering coordinator.
type TieringConfig struct {
	// Workers is the number of parallel migration workers.
	Workers int `yaml:"workers"`

	// QueueSize is the migration job queue capacity.
	QueueSize int `yaml:"queue_size"`

	// SweepInterval is how often every bucket is re-checked, so a failed
	// migration is retried even when no new events arrive.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// FlushOnStop migrates every hot event to the archive on shutdown.
	FlushOnStop bool `yaml:"flush_on_stop"`
}

// BroadcastConfig configures the live feed.
type BroadcastConfig struct {
	// SubscriberBuffer is the per-subscriber channel capacity.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// QueryConfig configures the query engine.
type QueryConfig struct {
	// DefaultSpan is the look-back used when a query has no start time.
	DefaultSpan time.Duration `yaml:"default_span"`

	// DefaultLimit caps results when a query sets no limit (0 = unlimited).
	DefaultLimit int `yaml:"default_limit"`

	// Percentile configures DDSketch percentiles on aggregate points.
	Percentile PercentileConfig `yaml:"percentile"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	// Enabled enables percentile calculation.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaults.DefaultDataDir,
		Hot: HotConfig{
			DeviceCapacity: defaults.DefaultDeviceCapacity,
			SensorCapacity: defaults.DefaultSensorCapacity,
			MetricCapacity: defaults.DefaultSharedCapacity,
			AuditCapacity:  defaults.DefaultSharedCapacity,
			OtherCapacity:  defaults.DefaultSharedCapacity,
			HighWatermark:  defaults.DefaultHighWatermark,
			LowWatermark:   defaults.DefaultLowWatermark,
			Horizon:        defaults.DefaultHotHorizon,
		},
		Cold: ColdConfig{
			Compression: CompressionConfig{
				Algorithm: defaults.DefaultCompression,
				Level:     defaults.DefaultCompressionLevel,
			},
			IndexFlushInterval: defaults.DefaultIndexFlushInterval,
			MaxParallelReads:   defaults.DefaultMaxParallelReads,
		},
		Retention: RetentionConfig{
			DeviceStateDays:    defaults.DefaultDeviceStateDays,
			SensorReadingDays:  defaults.DefaultSensorReadingDays,
			SystemMetricDays:   defaults.DefaultSystemMetricDays,
			AuditEventDays:     defaults.DefaultAuditEventDays,
			DiscoveryEventDays: defaults.DefaultDiscoveryEventDays,
			ResponseCacheDays:  defaults.DefaultResponseCacheDays,
			CleanupInterval:    defaults.DefaultCleanupInterval,
		},
		Tiering: TieringConfig{
			Workers:       defaults.DefaultTieringWorkers,
			QueueSize:     defaults.DefaultTieringQueueSize,
			SweepInterval: defaults.DefaultSweepInterval,
			FlushOnStop:   true,
		},
		Broadcast: BroadcastConfig{
			SubscriberBuffer: defaults.DefaultSubscriberBuffer,
		},
		Query: QueryConfig{
			DefaultSpan:  defaults.DefaultQuerySpan,
			DefaultLimit: 0,
			Percentile: PercentileConfig{
				Enabled:  true,
				Accuracy: defaults.DefaultPercentileAccuracy,
			},
		},
	}
}

// RetentionDays returns the retention window for each category.
func (c *RetentionConfig) RetentionDays() map[types.CategoryKind]int {
	return map[types.CategoryKind]int{
		types.CategoryDeviceState:    c.DeviceStateDays,
		types.CategorySensorReading:  c.SensorReadingDays,
		types.CategorySystemMetric:   c.SystemMetricDays,
		types.CategoryAuditEvent:     c.AuditEventDays,
		types.CategoryDiscoveryEvent: c.DiscoveryEventDays,
		types.CategoryResponseCache:  c.ResponseCacheDays,
	}
}
