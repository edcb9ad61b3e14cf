// Package config provides configuration defaults for the history daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml.
package config

import "time"

// =============================================================================
// Daemon Defaults
// =============================================================================

const (
	// DefaultConfigPath is where historyd looks for its configuration.
	DefaultConfigPath = "/etc/homehistory/config.yaml"

	// DefaultDataDir is the root of the cold archive.
	// Override via config: data_dir
	DefaultDataDir = "/var/lib/homehistory"

	// DefaultShutdownTimeout bounds the hot store flush on shutdown.
	// After this timeout, unflushed events are lost.
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultStatsInterval is how often historyd logs a stats line.
	DefaultStatsInterval = 5 * time.Minute
)

// =============================================================================
// Hot Store Defaults
// =============================================================================

const (
	// DefaultDeviceCapacity is the queue size per device.
	// Override via config: hot.device_capacity
	DefaultDeviceCapacity = 100

	// DefaultSensorCapacity is the queue size per sensor (1h at 1Hz).
	// Override via config: hot.sensor_capacity
	DefaultSensorCapacity = 3600

	// DefaultSharedCapacity is the size of the shared metric, audit and
	// other queues.
	// Override via config: hot.metric_capacity, hot.audit_capacity, hot.other_capacity
	DefaultSharedCapacity = 1000

	// DefaultHighWatermark is the occupancy that triggers tiering.
	// Override via config: hot.high_watermark
	DefaultHighWatermark = 0.9

	// DefaultLowWatermark is the occupancy a migration drains down to.
	// Override via config: hot.low_watermark
	DefaultLowWatermark = 0.5

	// DefaultHotHorizon is how far back queries are answered from memory alone.
	// Override via config: hot.horizon
	DefaultHotHorizon = time.Hour
)

// =============================================================================
// Cold Store Defaults
// =============================================================================

const (
	// DefaultCompression is the archive compression algorithm.
	// Override via config: cold.compression.algorithm
	DefaultCompression = "zstd"

	// DefaultCompressionLevel is the zstd speed preset (1 fastest, 4 best).
	// Override via config: cold.compression.level
	DefaultCompressionLevel = 2

	// DefaultIndexFlushInterval is how often a dirty index is persisted.
	// Override via config: cold.index_flush_interval
	DefaultIndexFlushInterval = 30 * time.Second

	// DefaultMaxParallelReads bounds concurrent file loads per query.
	// Override via config: cold.max_parallel_reads
	DefaultMaxParallelReads = 4
)

// =============================================================================
// Retention Defaults (days)
// =============================================================================

const (
	DefaultDeviceStateDays    = 90
	DefaultSensorReadingDays  = 30
	DefaultSystemMetricDays   = 14
	DefaultAuditEventDays     = 365
	DefaultDiscoveryEventDays = 30
	DefaultResponseCacheDays  = 1

	// DefaultCleanupInterval is how often expired partitions are removed.
	// Override via config: retention.cleanup_interval
	DefaultCleanupInterval = 6 * time.Hour
)

// =============================================================================
// Tiering Defaults
// =============================================================================

const (
	// DefaultTieringWorkers is the number of migration workers.
	// Override via config: tiering.workers
	DefaultTieringWorkers = 2

	// DefaultTieringQueueSize is the migration job queue capacity.
	// When full, a trigger is skipped and retried by the next insert or sweep.
	// Override via config: tiering.queue_size
	DefaultTieringQueueSize = 64

	// DefaultSweepInterval is how often all buckets are re-checked.
	// Override via config: tiering.sweep_interval
	DefaultSweepInterval = 30 * time.Second
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultQuerySpan is the look-back of a query without a start time.
	// Override via config: query.default_span
	DefaultQuerySpan = 30 * 24 * time.Hour

	// DefaultSubscriberBuffer is the live feed channel size per subscriber.
	// Override via config: broadcast.subscriber_buffer
	DefaultSubscriberBuffer = 256

	// DefaultPercentileAccuracy is the DDSketch relative accuracy.
	// Override via config: query.percentile.accuracy
	DefaultPercentileAccuracy = 0.01
)
