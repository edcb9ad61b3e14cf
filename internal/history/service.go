package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	herrors "github.com/xtxerr/homehistory/internal/errors"
	"github.com/xtxerr/homehistory/internal/history/broadcast"
	"github.com/xtxerr/homehistory/internal/history/cold"
	"github.com/xtxerr/homehistory/internal/history/config"
	"github.com/xtxerr/homehistory/internal/history/dashboard"
	"github.com/xtxerr/homehistory/internal/history/hot"
	"github.com/xtxerr/homehistory/internal/history/metrics"
	"github.com/xtxerr/homehistory/internal/history/query"
	"github.com/xtxerr/homehistory/internal/history/retention"
	"github.com/xtxerr/homehistory/internal/history/tiering"
	"github.com/xtxerr/homehistory/internal/history/types"
	"github.com/xtxerr/homehistory/internal/logging"
	"github.com/xtxerr/homehistory/internal/validation"
)

// Service is the history store. It orchestrates all components.
type Service struct {
	config *config.Config

	// Components
	hot       *hot.Store
	cold      *cold.Store
	bus       *broadcast.Bus
	tiering   *tiering.Coordinator
	query     *query.Engine
	retention *retention.Manager
	dashboard *dashboard.Dashboard

	recorder metrics.Recorder
	logger   *slog.Logger

	// State
	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error

	startTime atomic.Int64 // unix nanos
	recorded  atomic.Int64
	rejected  atomic.Int64
}

type options struct {
	recorder metrics.Recorder
	now      func() time.Time
}

// Option configures a Service.
type Option func(*options)

// WithRecorder sets the metrics recorder. Defaults to the global
// OpenTelemetry meter provider.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithClock overrides the time source of the archive and the query engine.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New validates cfg and opens the archive. Configuration errors fail here,
// before any event is accepted.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, herrors.Tag(herrors.ErrIO, err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.recorder == nil {
		o.recorder = metrics.NewRecorder()
	}

	coldOpts := []cold.Option{cold.WithRecorder(o.recorder)}
	queryOpts := []query.Option{query.WithRecorder(o.recorder)}
	if o.now != nil {
		coldOpts = append(coldOpts, cold.WithClock(o.now))
		queryOpts = append(queryOpts, query.WithClock(o.now))
	}

	archive, err := cold.Open(cfg.DataDir, cfg.Cold, coldOpts...)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	hotStore := hot.New(cfg.Hot, hot.WithRecorder(o.recorder))
	engine := query.NewEngine(hotStore, archive, cfg.Query, cfg.Hot.Horizon, queryOpts...)

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		config: cfg,
		hot:    hotStore,
		cold:   archive,
		bus: broadcast.New(broadcast.Config{
			BufferSize: cfg.Broadcast.SubscriberBuffer,
			Recorder:   o.recorder,
		}),
		tiering:   tiering.New(hotStore, archive, cfg.Tiering, tiering.WithRecorder(o.recorder)),
		query:     engine,
		retention: retention.New(archive, cfg.Retention),
		dashboard: dashboard.New(engine),
		recorder:  o.recorder,
		logger:    logging.Component("history"),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start starts tiering and the background workers.
func (s *Service) Start() error {
	if s.ctx.Err() != nil {
		return fmt.Errorf("history: %w", herrors.ErrClosed)
	}
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("history: %w", herrors.ErrAlreadyRunning)
	}
	s.startTime.Store(time.Now().UnixNano())

	if err := s.tiering.Start(); err != nil {
		s.running.Store(false)
		return fmt.Errorf("start tiering: %w", err)
	}

	s.wg.Add(1)
	go s.indexFlushWorker()

	s.wg.Add(1)
	go s.retentionWorker()

	s.logger.Info("history started",
		"data_dir", s.config.DataDir,
		"compression", s.config.Cold.Compression.Algorithm,
		"archived_files", len(s.cold.Entries()))
	return nil
}

// Stop stops the workers, migrates the hot store to the archive when
// tiering.flush_on_stop is set, flushes the index and closes the archive
// and the live feed. Stop is idempotent; the service cannot be restarted.
func (s *Service) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.shutdown()
	})
	return s.stopErr
}

func (s *Service) shutdown() error {
	s.running.Store(false)
	s.cancel()
	s.wg.Wait()

	var errs []error

	if err := s.tiering.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop tiering: %w", err))
	}

	if s.config.Tiering.FlushOnStop {
		n, err := s.tiering.FlushAll(context.Background())
		if err != nil {
			errs = append(errs, fmt.Errorf("flush hot store: %w", err))
		}
		s.logger.Info("hot store flushed", "events", n)
	}

	s.bus.Close()

	if err := s.cold.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close archive: %w", err))
	}

	s.logger.Info("history stopped")
	return herrors.Join(errs...)
}

// Record validates ev, appends it to the hot store, publishes it to live
// subscribers and schedules a migration when its bucket runs full. It
// never blocks on disk I/O or on slow subscribers.
func (s *Service) Record(ev types.HistoricalEvent) error {
	if !s.running.Load() {
		return fmt.Errorf("history: %w", herrors.ErrNotRunning)
	}
	if err := validation.ValidateEvent(&ev); err != nil {
		s.rejected.Add(1)
		return err
	}

	key, err := s.hot.Insert(ev)
	if err != nil {
		s.rejected.Add(1)
		return err
	}

	s.recorded.Add(1)
	s.recorder.RecordEvent(context.Background(), ev.Kind().String())
	s.bus.Publish(ev)
	s.tiering.Notify(key)
	return nil
}

// RecordBatch records events in order and stops at the first error.
func (s *Service) RecordBatch(batch *types.EventBatch) error {
	for i, ev := range batch.Events {
		if err := s.Record(ev); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// Subscribe returns a live feed of recorded events, optionally limited to
// some categories. Delivery is best effort; see the broadcast package.
// Close the subscription when done; a handle dropped without Close is
// released only after a garbage collection.
func (s *Service) Subscribe(buffer int, kinds ...types.CategoryKind) *broadcast.Subscription {
	return s.bus.Subscribe(buffer, kinds...)
}

// Query returns a new query builder.
func (s *Service) Query() query.Builder {
	return s.query.Query()
}

// Aggregate buckets one system metric over the default query span.
func (s *Service) Aggregate(ctx context.Context, metricName string, interval types.Interval) []types.AggregatePoint {
	return s.query.Aggregate(ctx, metricName, interval)
}

// Dashboard returns the summarized views.
func (s *Service) Dashboard() *dashboard.Dashboard {
	return s.dashboard
}

// FlushToCold migrates every hot event to the archive.
func (s *Service) FlushToCold(ctx context.Context) (int, error) {
	return s.tiering.FlushAll(ctx)
}

// RunRetention deletes expired archive partitions now.
func (s *Service) RunRetention() cold.CleanupResult {
	return s.retention.RunCleanup()
}

// DryRunRetention reports what RunRetention would delete.
func (s *Service) DryRunRetention() cold.CleanupResult {
	return s.retention.DryRun()
}

// DiskUsage returns archive disk usage by category.
func (s *Service) DiskUsage() map[types.CategoryKind]cold.DiskUsage {
	return s.retention.DiskUsage()
}

// FormatDiskUsage renders archive disk usage.
func (s *Service) FormatDiskUsage() string {
	return s.retention.FormatDiskUsage()
}

// ExportParquet writes one archived day of a category to w as Parquet.
func (s *Service) ExportParquet(ctx context.Context, kind types.CategoryKind, day time.Time, w io.Writer) (int, error) {
	return s.cold.ExportParquet(ctx, kind, day, w)
}

// indexFlushWorker periodically persists a dirty archive index.
func (s *Service) indexFlushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Cold.IndexFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.cold.FlushIndex(); err != nil {
				s.logger.Warn("index flush failed", "error", err)
			}
		}
	}
}

// retentionWorker periodically runs retention cleanup.
func (s *Service) retentionWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Retention.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.retention.RunCleanup()
		}
	}
}

// Stats returns combined statistics.
func (s *Service) Stats() ServiceStats {
	var uptime time.Duration
	if s.running.Load() {
		uptime = time.Since(time.Unix(0, s.startTime.Load()))
	}

	return ServiceStats{
		Running:   s.running.Load(),
		Uptime:    uptime,
		Recorded:  s.recorded.Load(),
		Rejected:  s.rejected.Load(),
		Hot:       s.hot.Stats(),
		Cold:      s.cold.Stats(),
		Tiering:   s.tiering.Stats(),
		Query:     s.query.Stats(),
		Broadcast: s.bus.Stats(),
		Retention: s.retention.Stats(),
	}
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Running   bool
	Uptime    time.Duration
	Recorded  int64
	Rejected  int64
	Hot       hot.Stats
	Cold      cold.Stats
	Tiering   tiering.Stats
	Query     query.Stats
	Broadcast broadcast.Stats
	Retention retention.Stats
}

// Config returns the configuration the service was built with.
func (s *Service) Config() *config.Config {
	return s.config
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}
