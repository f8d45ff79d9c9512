package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/qepting91/skeet-sweeper/internal/archive"
	"github.com/qepting91/skeet-sweeper/internal/collector"
	"github.com/qepting91/skeet-sweeper/internal/config"
	"github.com/qepting91/skeet-sweeper/internal/domain"
	"github.com/qepting91/skeet-sweeper/internal/executor"
	"github.com/qepting91/skeet-sweeper/internal/ingest"
	"github.com/qepting91/skeet-sweeper/internal/logging"
	"github.com/qepting91/skeet-sweeper/internal/storage"
	"github.com/qepting91/skeet-sweeper/internal/sweeper"
)

const userAgent = "skeet-sweeper/1.0"

func main() {
	// 1. Setup
	godotenv.Load()
	cfg := config.Load()
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()
	if err := cfg.Normalize(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	logger, runID := logging.New(os.Stderr, cfg.LogFormat, cfg.Verbosity())
	slog.SetDefault(logger)

	if err := run(cfg, logger, runID); err != nil {
		logger.Error("Sweep failed", "err", err)
		os.Exit(1)
	}
	logger.Info("Sweep complete")
}

func run(cfg *config.Config, logger *slog.Logger, runID string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Graceful shutdown between items
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	// 3. Load inputs
	domains := ingest.ParseDomains(cfg.Domains)
	if cfg.DomainsFile != "" {
		fromFile, err := ingest.LoadDomains(cfg.DomainsFile)
		if err != nil {
			return fmt.Errorf("load protected domains: %w", err)
		}
		domains = ingest.Merge(domains, fromFile)
	}

	// 4. Initialize client (using factory)
	remote, err := collector.NewRemote(cfg.Mode, cfg.Host, userAgent)
	if err != nil {
		return err
	}
	logger.Info("Collector initialized", "mode", cfg.Mode)

	store, closeStore, err := storage.OpenResumeStore(cfg.ResumeBackend, cfg.ResumePath)
	if err != nil {
		return err
	}
	defer closeStore()

	var recorder executor.Recorder
	if cfg.DryRun {
		// Walk from the saved cursors but keep new ones in memory.
		state, err := store.Load(ctx)
		if err != nil {
			return err
		}
		store = storage.NewMemoryStore(state)
	} else {
		path := cfg.ActionLog
		if path == "" {
			path = filepath.Join(cfg.ArchiveDir, "actions.ndjson")
		}
		actionLog, err := storage.OpenActionLog(path, runID)
		if err != nil {
			return err
		}
		defer actionLog.Close()
		recorder = actionLog
	}

	retry := collector.DefaultRetryPolicy(logger)
	s := &sweeper.Sweeper{
		Remote:   remote,
		Store:    store,
		Archiver: &archive.Archiver{Remote: remote, Root: cfg.ArchiveDir, Retry: retry, Logger: logger},
		Confirm:  sweeper.Prompt{In: bufio.NewReader(os.Stdin), Out: os.Stdout},
		Recorder: recorder,
		Retry:    retry,
		MaxPages: cfg.MaxPages,
		Out:      os.Stdout,
		Logger:   logger,
	}

	// 5. Sweep
	_, err = s.Run(ctx, sweeper.Options{
		Identifier: cfg.Handle,
		Password:   cfg.Password,
		Policy: domain.Policy{
			ViralThreshold:   cfg.ViralThreshold,
			StaleDays:        cfg.StaleDays,
			StaleBoostDays:   cfg.StaleBoostDays,
			ProtectedDomains: domains,
		},
		LikesCursor: cfg.LikesCursor,
		AutoConfirm: cfg.AutoConfirm,
		SkipArchive: cfg.SkipArchive,
		DryRun:      cfg.DryRun,
	})
	return err
}
