// historyd is the home gateway history store daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	defaults "github.com/xtxerr/homehistory/config"
	herrors "github.com/xtxerr/homehistory/internal/errors"
	"github.com/xtxerr/homehistory/internal/history"
	"github.com/xtxerr/homehistory/internal/history/config"
	"github.com/xtxerr/homehistory/internal/logging"
	"github.com/xtxerr/homehistory/internal/validation"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", defaults.DefaultConfigPath, "config file path")
	dataDir := flag.String("data-dir", "", "archive directory (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "log as JSON")
	export := flag.String("export", "", "export an archived day as Parquet and exit (category:YYYY-MM-DD)")
	out := flag.String("out", "", "output file for -export (default <category>_<date>.parquet)")
	diskUsage := flag.Bool("disk-usage", false, "print archive disk usage and exit")
	dryRun := flag.Bool("retention-dry-run", false, "print what retention would delete and exit")
	flag.Parse()

	logging.Init(logging.ParseLevel(*logLevel), *logJSON)
	log := logging.Component("historyd")

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Error("load config", "path", *cfgPath, "error", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	svc, err := history.New(cfg)
	if err != nil {
		log.Error("create history service", "error", err)
		os.Exit(1)
	}

	// =========================================================================
	// One-shot commands
	// =========================================================================

	oneShot := true
	switch {
	case *export != "":
		err = runExport(svc, *export, *out)
	case *diskUsage:
		fmt.Print(svc.FormatDiskUsage())
	case *dryRun:
		res := svc.DryRunRetention()
		fmt.Printf("would delete %d files, %s events, %s\n",
			res.FilesDeleted, humanize.Comma(int64(res.EventsDeleted)), humanize.Bytes(uint64(res.BytesFreed)))
	default:
		oneShot = false
		err = run(svc)
	}

	if oneShot {
		if stopErr := svc.Stop(); stopErr != nil {
			log.Warn("history stop", "error", stopErr)
		}
	}
	if err != nil {
		log.Error("historyd failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads path, falling back to defaults when it does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if herrors.Is(err, os.ErrNotExist) {
		logging.Info("no config file found, using defaults", "path", path)
		return config.DefaultConfig(), nil
	}
	return cfg, err
}

// run starts the service and blocks until SIGINT or SIGTERM.
func run(svc *history.Service) error {
	log := logging.Component("historyd")

	if err := svc.Start(); err != nil {
		svc.Stop()
		return err
	}
	log.Info("historyd started", "version", Version, "data_dir", svc.Config().DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(defaults.DefaultStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return shutdown(svc)
		case <-ticker.C:
			logStats(svc)
		}
	}
}

// shutdown stops the service, bounded by DefaultShutdownTimeout.
func shutdown(svc *history.Service) error {
	done := make(chan error, 1)
	go func() { done <- svc.Stop() }()

	select {
	case err := <-done:
		return err
	case <-time.After(defaults.DefaultShutdownTimeout):
		return fmt.Errorf("shutdown timed out after %v", defaults.DefaultShutdownTimeout)
	}
}

func logStats(svc *history.Service) {
	st := svc.Stats()
	hotSince := "empty"
	if !st.Hot.Oldest.IsZero() {
		hotSince = humanize.Time(st.Hot.Oldest)
	}
	logging.Component("historyd").Info("stats",
		"uptime", st.Uptime.Round(time.Second),
		"recorded", humanize.Comma(st.Recorded),
		"hot_events", st.Hot.Events,
		"hot_fullest", st.Hot.Fullest,
		"hot_since", hotSince,
		"evicted", st.Hot.Evicted,
		"migrated", humanize.Comma(st.Tiering.EventsMigrated),
		"migrations_failed", st.Tiering.JobsFailed,
		"archive_files", st.Cold.Files,
		"archive_size", humanize.Bytes(uint64(st.Cold.Bytes)),
		"compression_ratio", fmt.Sprintf("%.2f", st.Cold.CompressionRatio),
		"subscribers", st.Broadcast.Subscribers,
		"broadcast_dropped", st.Broadcast.Dropped)
}

// runExport writes one archived partition, given as category:YYYY-MM-DD,
// to a Parquet file.
func runExport(svc *history.Service, partition, out string) error {
	ref, err := validation.ParsePartitionRef(partition)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	if out == "" {
		out = strings.ReplaceAll(ref.String(), ":", "_") + ".parquet"
	}
	f, err := os.Create(out)
	if err != nil {
		return herrors.NewIO("create", out, err)
	}

	n, err := svc.ExportParquet(context.Background(), ref.Category, ref.Day, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = herrors.NewIO("close", out, closeErr)
	}
	if err != nil {
		os.Remove(out)
		return err
	}

	logging.Info("exported", "partition", ref.String(), "events", humanize.Comma(int64(n)), "file", out)
	return nil
}
