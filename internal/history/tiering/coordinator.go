// Package tiering moves events from the hot store into the cold archive.
//
// A migration snapshots the oldest events of one bucket, writes them to
// the archive and only then trims exactly those events from memory. A
// failed write leaves the bucket untouched; the next trigger retries.
package tiering

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	herrors "github.com/xtxerr/homehistory/internal/errors"
	"github.com/xtxerr/homehistory/internal/history/config"
	"github.com/xtxerr/homehistory/internal/history/hot"
	"github.com/xtxerr/homehistory/internal/history/metrics"
	"github.com/xtxerr/homehistory/internal/history/types"
	"github.com/xtxerr/homehistory/internal/logging"
)

// Source is the hot-store surface a migration reads from and trims.
type Source interface {
	Keys() []hot.BucketKey
	NeedsTiering(key hot.BucketKey) bool
	BucketsNeedingTiering() []hot.BucketKey
	MigrationCandidates(key hot.BucketKey) []types.HistoricalEvent
	Snapshot(key hot.BucketKey) []types.HistoricalEvent
	Trim(key hot.BucketKey, events []types.HistoricalEvent) int
}

// Archiver is the durable write path.
type Archiver interface {
	StoreEvents(ctx context.Context, events []types.HistoricalEvent) error
}

// Coordinator schedules and runs migrations.
type Coordinator struct {
	source   Source
	archive  Archiver
	cfg      config.TieringConfig
	recorder metrics.Recorder
	logger   *slog.Logger

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Job queue; pending holds keys queued or running.
	jobCh   chan hot.BucketKey
	pending sync.Map
	flights singleflight.Group

	stats stats
}

type stats struct {
	jobsScheduled  atomic.Int64
	jobsCompleted  atomic.Int64
	jobsFailed     atomic.Int64
	jobsSkipped    atomic.Int64
	eventsMigrated atomic.Int64
	panics         atomic.Int64

	mu            sync.Mutex
	lastError     string
	lastMigration time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// New creates a coordinator. Call Start to run background workers.
func New(source Source, archive Archiver, cfg config.TieringConfig, opts ...Option) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		source:   source,
		archive:  archive,
		cfg:      cfg,
		recorder: metrics.Noop{},
		logger:   logging.Component("tiering"),
		ctx:      ctx,
		cancel:   cancel,
		jobCh:    make(chan hot.BucketKey, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start starts the migration workers and the periodic sweep.
func (c *Coordinator) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("tiering: %w", herrors.ErrAlreadyRunning)
	}
	if c.ctx.Err() != nil {
		c.running.Store(false)
		return fmt.Errorf("tiering: %w", herrors.ErrClosed)
	}

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	if c.cfg.SweepInterval > 0 {
		c.wg.Add(1)
		go c.sweeper()
	}

	c.logger.Info("tiering started", "workers", c.cfg.Workers, "queue", c.cfg.QueueSize)
	return nil
}

// Stop stops the workers. Queued jobs are abandoned; their events stay in
// the hot store. Use FlushAll to drain memory on shutdown.
func (c *Coordinator) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	c.logger.Info("tiering stopped")
	return nil
}

// IsRunning returns true if workers are running.
func (c *Coordinator) IsRunning() bool {
	return c.running.Load()
}

// Notify is called after every insert. It never blocks: when the bucket is
// above its high watermark and no job for it is queued or running, a job
// is enqueued. A full queue skips; the next insert or sweep retries.
func (c *Coordinator) Notify(key hot.BucketKey) bool {
	if !c.running.Load() || !c.source.NeedsTiering(key) {
		return false
	}

	if _, busy := c.pending.LoadOrStore(key, struct{}{}); busy {
		return false
	}

	select {
	case c.jobCh <- key:
		c.stats.jobsScheduled.Add(1)
		return true
	default:
		c.pending.Delete(key)
		c.stats.jobsSkipped.Add(1)
		return false
	}
}

func (c *Coordinator) worker(id int) {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case key := <-c.jobCh:
			_, _ = c.run(c.ctx, key, false)
			c.pending.Delete(key)
		}
	}
}

// sweeper re-checks every bucket so a failed migration is retried even
// when the bucket receives no further inserts.
func (c *Coordinator) sweeper() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			for _, key := range c.source.BucketsNeedingTiering() {
				c.Notify(key)
			}
		}
	}
}

// MigrateNow synchronously migrates the bucket's excess above the low
// watermark. Concurrent calls for the same bucket share one migration.
func (c *Coordinator) MigrateNow(ctx context.Context, key hot.BucketKey) (int, error) {
	return c.run(ctx, key, false)
}

// FlushAll migrates the full contents of every bucket. Used on shutdown.
// It keeps going past failed buckets and returns their errors joined.
func (c *Coordinator) FlushAll(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, key := range c.source.Keys() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := c.run(ctx, key, true)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	if len(errs) > 0 {
		return total, herrors.Join(errs...)
	}
	return total, nil
}

// run executes one migration through the singleflight group.
func (c *Coordinator) run(ctx context.Context, key hot.BucketKey, all bool) (int, error) {
	flight := key.String()
	if all {
		flight += "/all"
	}
	v, err, _ := c.flights.Do(flight, func() (interface{}, error) {
		return c.migrate(ctx, key, all)
	})
	n, _ := v.(int)
	return n, err
}

func (c *Coordinator) migrate(ctx context.Context, key hot.BucketKey, all bool) (moved int, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.panics.Add(1)
			c.stats.jobsFailed.Add(1)
			err = fmt.Errorf("%w: migration of %s panicked: %v", herrors.ErrInternal, key, r)
			c.recordError(err)
			c.logger.Error("migration panicked", "bucket", key.String(), "panic", r)
		}
	}()

	var candidates []types.HistoricalEvent
	if all {
		candidates = c.source.Snapshot(key)
	} else {
		candidates = c.source.MigrationCandidates(key)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	start := time.Now()
	if err := c.archive.StoreEvents(ctx, candidates); err != nil {
		c.stats.jobsFailed.Add(1)
		c.recordError(err)
		c.recorder.RecordMigration(ctx, false, len(candidates), time.Since(start))
		c.logger.Warn("migration failed, events kept in memory",
			"bucket", key.String(),
			"events", len(candidates),
			"error", err)
		return 0, err
	}

	trimmed := c.source.Trim(key, candidates)

	c.stats.jobsCompleted.Add(1)
	c.stats.eventsMigrated.Add(int64(len(candidates)))
	c.stats.mu.Lock()
	c.stats.lastMigration = time.Now()
	c.stats.mu.Unlock()
	c.recorder.RecordMigration(ctx, true, len(candidates), time.Since(start))

	c.logger.Debug("bucket migrated",
		"bucket", key.String(),
		"events", len(candidates),
		"trimmed", trimmed,
		"took", time.Since(start))
	return len(candidates), nil
}

func (c *Coordinator) recordError(err error) {
	c.stats.mu.Lock()
	c.stats.lastError = err.Error()
	c.stats.mu.Unlock()
}

// Stats holds coordinator statistics.
type Stats struct {
	Running        bool
	QueueLength    int
	JobsScheduled  int64
	JobsCompleted  int64
	JobsFailed     int64
	JobsSkipped    int64
	EventsMigrated int64
	Panics         int64
	LastError      string
	LastMigration  time.Time
}

// Stats returns coordinator statistics.
func (c *Coordinator) Stats() Stats {
	c.stats.mu.Lock()
	lastError := c.stats.lastError
	lastMigration := c.stats.lastMigration
	c.stats.mu.Unlock()

	return Stats{
		Running:        c.running.Load(),
		QueueLength:    len(c.jobCh),
		JobsScheduled:  c.stats.jobsScheduled.Load(),
		JobsCompleted:  c.stats.jobsCompleted.Load(),
		JobsFailed:     c.stats.jobsFailed.Load(),
		JobsSkipped:    c.stats.jobsSkipped.Load(),
		EventsMigrated: c.stats.eventsMigrated.Load(),
		Panics:         c.stats.panics.Load(),
		LastError:      lastError,
		LastMigration:  lastMigration,
	}
}
