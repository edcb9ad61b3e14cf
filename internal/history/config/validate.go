package config

import (
	"fmt"
	"os"

	herrors "github.com/xtxerr/homehistory/internal/errors"
)

// Validate checks the configuration for errors. Every problem found is
// reported; the result matches errors.Is(err, errors.ErrInvalidConfig).
func (c *Config) Validate() error {
	v := herrors.NewValidationErrors()

	if c.DataDir == "" {
		v.AddMissing("data_dir")
	}

	c.Hot.validate(v)
	c.Cold.validate(v)
	c.Retention.validate(v)
	c.Tiering.validate(v)

	if c.Broadcast.SubscriberBuffer <= 0 {
		v.AddField("broadcast.subscriber_buffer", "must be positive")
	}

	if c.Query.DefaultSpan <= 0 {
		v.AddField("query.default_span", "must be positive")
	}
	if c.Query.DefaultLimit < 0 {
		v.AddField("query.default_limit", "must be non-negative")
	}
	if c.Query.Percentile.Enabled {
		if c.Query.Percentile.Accuracy <= 0 || c.Query.Percentile.Accuracy >= 1 {
			v.AddField("query.percentile.accuracy", "must be between 0 and 1")
		}
	}

	return v.Err()
}

func (c *HotConfig) validate(v *herrors.ValidationErrors) {
	capacities := []struct {
		name  string
		value int
	}{
		{"hot.device_capacity", c.DeviceCapacity},
		{"hot.sensor_capacity", c.SensorCapacity},
		{"hot.metric_capacity", c.MetricCapacity},
		{"hot.audit_capacity", c.AuditCapacity},
		{"hot.other_capacity", c.OtherCapacity},
	}
	for _, cp := range capacities {
		if cp.value <= 0 {
			v.AddField(cp.name, "must be positive")
		}
	}

	if c.HighWatermark <= 0 || c.HighWatermark > 1 {
		v.AddField("hot.high_watermark", "must be in (0, 1]")
	}
	if c.LowWatermark < 0 || c.LowWatermark >= 1 {
		v.AddField("hot.low_watermark", "must be in [0, 1)")
	}
	if c.LowWatermark >= c.HighWatermark {
		v.AddField("hot.low_watermark", "must be below hot.high_watermark")
	}
	if c.Horizon <= 0 {
		v.AddField("hot.horizon", "must be positive")
	}
}

func (c *ColdConfig) validate(v *herrors.ValidationErrors) {
	switch c.Compression.Algorithm {
	case "none", "gzip", "zstd", "lz4", "":
	default:
		v.Add(herrors.NewInvalidValue("cold.compression.algorithm", c.Compression.Algorithm,
			"must be one of: none, gzip, zstd, lz4"))
	}

	switch c.Compression.Algorithm {
	case "gzip":
		if c.Compression.Level < 0 || c.Compression.Level > 9 {
			v.AddField("cold.compression.level", "gzip level must be between 0 and 9")
		}
	case "zstd", "":
		if c.Compression.Level < 0 || c.Compression.Level > 4 {
			v.AddField("cold.compression.level", "zstd level must be between 0 and 4")
		}
	}

	if c.IndexFlushInterval <= 0 {
		v.AddField("cold.index_flush_interval", "must be positive")
	}
	if c.MaxParallelReads <= 0 {
		v.AddField("cold.max_parallel_reads", "must be positive")
	}
}

func (c *RetentionConfig) validate(v *herrors.ValidationErrors) {
	for kind, days := range c.RetentionDays() {
		if days <= 0 {
			v.AddField(fmt.Sprintf("retention.%s_days", kind), "must be positive")
		}
	}
	if c.CleanupInterval <= 0 {
		v.AddField("retention.cleanup_interval", "must be positive")
	}
}

func (c *TieringConfig) validate(v *herrors.ValidationErrors) {
	if c.Workers <= 0 {
		v.AddField("tiering.workers", "must be positive")
	}
	if c.QueueSize <= 0 {
		v.AddField("tiering.queue_size", "must be positive")
	}
	if c.SweepInterval <= 0 {
		v.AddField("tiering.sweep_interval", "must be positive")
	}
}

// EnsureDirectories creates the archive directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", c.DataDir, err)
	}
	return nil
}
