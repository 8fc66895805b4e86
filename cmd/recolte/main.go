// Command recolte acquires regulatory documents.
//
// Usage:
//
//	recolte                              # harvest the reimbursement portal
//	recolte -config recolte.yaml         # harvest with a YAML config
//	recolte -laws                        # download statute texts from e-Gov
//	recolte -sources urls.yaml           # sweep configured source pages
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/recolte/harvest"
	"github.com/hazyhaar/recolte/laws"
	"github.com/hazyhaar/recolte/sources"
)

func main() {
	configPath := flag.String("config", "", "path to recolte.yaml config file")
	portalURL := flag.String("portal", "", "portal page URL (overrides config)")
	limit := flag.Int("limit", 0, "stop after N relevant links (0 = no limit)")
	outputDir := flag.String("output", "", "output directory (overrides config)")
	lawsMode := flag.Bool("laws", false, "download statute texts from the e-Gov law API")
	sourcesPath := flag.String("sources", "", "sweep source pages listed in this YAML file")
	dryRun := flag.Bool("dry-run", false, "with -sources: record targets without downloading")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFile := flag.String("log-file", "", "tee logs to this file in addition to stdout")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options{
		configPath:  *configPath,
		portalURL:   *portalURL,
		limit:       *limit,
		outputDir:   *outputDir,
		lawsMode:    *lawsMode,
		sourcesPath: *sourcesPath,
		dryRun:      *dryRun,
		logLevel:    *logLevel,
		logFile:     *logFile,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "recolte: fatal:", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	portalURL   string
	limit       int
	outputDir   string
	lawsMode    bool
	sourcesPath string
	dryRun      bool
	logLevel    string
	logFile     string
}

func run(ctx context.Context, opts options) error {
	if opts.lawsMode {
		logger, closeLog, err := newLogger(opts.logLevel, opts.logFile)
		if err != nil {
			return err
		}
		defer closeLog()
		cfg := laws.Config{OutputDir: opts.outputDir}
		_, err = laws.New(cfg, logger).Run(ctx)
		return err
	}

	if opts.sourcesPath != "" {
		logger, closeLog, err := newLogger(opts.logLevel, opts.logFile)
		if err != nil {
			return err
		}
		defer closeLog()
		srcs, err := sources.LoadSources(opts.sourcesPath)
		if err != nil {
			return err
		}
		cfg := sources.Config{OutputDir: opts.outputDir, DryRun: opts.dryRun}
		_, err = sources.New(cfg, logger).Run(ctx, srcs)
		return err
	}

	return runHarvest(ctx, opts)
}

func runHarvest(ctx context.Context, opts options) error {
	cfg := &harvest.Config{}
	if opts.configPath != "" {
		loaded, err := harvest.LoadConfigFile(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.portalURL != "" {
		cfg.PortalURL = opts.portalURL
	}
	if opts.outputDir != "" {
		cfg.OutputDir = opts.outputDir
	}
	if opts.limit > 0 {
		cfg.Limit = opts.limit
	}

	// The log file lives under the output tree, so directories come first.
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logFile := opts.logFile
	if logFile == "" {
		logFile = cfg.LogFile()
	}
	logger, closeLog, err := newLogger(opts.logLevel, logFile)
	if err != nil {
		return err
	}
	defer closeLog()

	var svcOpts []harvest.Option
	if cfg.RunLogPath != "" {
		store, err := harvest.OpenRunLog(cfg.RunLogPath)
		if err != nil {
			return fmt.Errorf("open run log: %w", err)
		}
		defer store.Close()
		svcOpts = append(svcOpts, harvest.WithRunLog(store))
	}

	started := time.Now()
	summary, err := harvest.New(cfg, logger, svcOpts...).Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("harvest complete",
		"success", summary.Success, "skipped", summary.Skipped, "failed", summary.Failed,
		"elapsed", time.Since(started).Round(time.Second))
	return nil
}

// newLogger builds a text-handler logger on stdout, teed to logFile when set.
func newLogger(level, logFile string) (*slog.Logger, func(), error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var w io.Writer = os.Stdout
	closeLog := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closeLog = func() { f.Close() }
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), closeLog, nil
}
