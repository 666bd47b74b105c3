package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/dugongwatch/internal/blob"
	"github.com/rpggio/dugongwatch/internal/config"
	"github.com/rpggio/dugongwatch/internal/domain/activity"
	"github.com/rpggio/dugongwatch/internal/domain/detection"
	"github.com/rpggio/dugongwatch/internal/domain/survey"
	"github.com/rpggio/dugongwatch/internal/inference/cv"
	"github.com/rpggio/dugongwatch/internal/mcp"
	"github.com/rpggio/dugongwatch/internal/redisstore"
	"github.com/rpggio/dugongwatch/internal/repository"
	"github.com/rpggio/dugongwatch/internal/sqlite"
	"github.com/rpggio/dugongwatch/internal/transport"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Use stderr for logs in stdio mode to keep stdout clean for JSON-RPC.
	logWriter := io.Writer(os.Stdout)
	if cfg.Transport.Mode == "stdio" {
		logWriter = os.Stderr
	}
	if cfg.Log.Path != "" {
		fileWriter, file, err := newLogFileWriter(cfg.Log.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	blobs, err := blob.NewFSStore(cfg.Blob.Root)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	activitySvc := activity.NewService(st.activity, logger)
	hub := transport.NewHub(logger)

	deps := survey.Dependencies{
		Ledgers:  st.ledgers,
		Blobs:    blobs,
		Activity: activitySvc,
		Events:   hub,
	}
	// Stdio exposes review tools only, so models are loaded for http alone.
	if cfg.Transport.Mode != "stdio" {
		pipeline, closeModels, err := loadPipeline(cfg, logger)
		if err != nil {
			return err
		}
		defer closeModels()
		deps.Pipeline = pipeline
	}

	surveySvc := survey.NewService(deps, survey.Config{
		TTL:                cfg.Session.TTL,
		BestEffortRecovery: cfg.Session.BestEffortRecovery,
	}, logger)

	if cfg.Session.SweepInterval > 0 {
		go surveySvc.RunSweeper(ctx, cfg.Session.SweepInterval)
	}

	mcpServer := mcp.NewServer(mcp.Config{
		Survey:        surveySvc,
		AuthToken:     cfg.Server.AuthToken,
		TransportMode: cfg.Transport.Mode,
		Version:       version,
		Logger:        logger,
	})

	if cfg.Transport.Mode == "stdio" {
		return runStdioMode(ctx, logger, mcpServer)
	}

	mcpHandler := sdkmcp.NewStreamableHTTPHandler(
		func(r *http.Request) *sdkmcp.Server { return mcpServer },
		&sdkmcp.StreamableHTTPOptions{
			Stateless:      false,
			SessionTimeout: 30 * time.Minute,
		},
	)
	router := transport.NewServer(surveySvc, transport.Options{
		AuthToken: cfg.Server.AuthToken,
		Upload: transport.UploadLimits{
			MaxFileSize:       cfg.Upload.MaxFileSize,
			AllowedExtensions: cfg.Upload.AllowedExtensions,
		},
		MCP:    mcpHandler,
		Events: hub,
		Logger: logger,
	})
	return runHTTPMode(ctx, logger, router, cfg.Server.Host, cfg.Server.Port)
}

type stores struct {
	ledgers  repository.LedgerRepository
	activity activity.Repository
	close    func()
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stores, error) {
	switch cfg.DB.Driver {
	case config.DriverRedis:
		pool := redisstore.NewPool(cfg.DB.RedisAddr, cfg.DB.RedisMaxIdle)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := redisstore.Ping(pingCtx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.DB.RedisAddr, err)
		}
		logger.Info("using redis store", "addr", cfg.DB.RedisAddr, "key_ttl", cfg.DB.RedisKeyTTL)
		return &stores{
			ledgers:  redisstore.NewLedgerRepository(pool, redisstore.DefaultKeyPrefix, cfg.DB.RedisKeyTTL),
			activity: redisstore.NewActivityRepository(pool, redisstore.DefaultKeyPrefix, cfg.DB.RedisKeyTTL),
			close:    func() { _ = pool.Close() },
		}, nil
	default:
		if err := ensureDBDir(cfg.DB.Path); err != nil {
			return nil, fmt.Errorf("prepare database path: %w", err)
		}
		db, err := sqlite.New(cfg.DB.Path)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("using sqlite store", "path", cfg.DB.Path)
		return &stores{
			ledgers:  sqlite.NewLedgerRepository(db),
			activity: sqlite.NewActivityRepository(db),
			close:    func() { _ = db.Close() },
		}, nil
	}
}

func loadPipeline(cfg config.Config, logger *slog.Logger) (*detection.Pipeline, func(), error) {
	m := cfg.Models
	detector, err := cv.NewDetector(cv.DetectorConfig{
		ModelPath:     m.DetectorPath,
		InputSize:     m.DetectorInputSize,
		NumClasses:    m.NumClasses,
		Confidence:    m.Confidence,
		IoU:           m.IoU,
		MaxDetections: m.MaxDetections,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load detector %s: %w", m.DetectorPath, err)
	}
	classifier, err := cv.NewClassifier(cv.ClassifierConfig{
		ModelPath: m.ClassifierPath,
		InputSize: m.ClassifierInputSize,
		Labels:    m.ClassLabels,
	})
	if err != nil {
		detector.Close()
		return nil, nil, fmt.Errorf("load classifier %s: %w", m.ClassifierPath, err)
	}
	logger.Info("models loaded", "detector", m.DetectorPath, "classifier", m.ClassifierPath)

	pipeline := detection.NewPipeline(detection.PipelineConfig{
		Detector:   detector,
		Classifier: classifier,
		Annotator:  cv.NewAnnotator(),
		Workers:    cfg.Inference.Workers,
		Capacity:   cfg.Inference.Capacity,
		Logger:     logger,
	})
	closeModels := func() {
		_ = classifier.Close()
		_ = detector.Close()
	}
	return pipeline, closeModels, nil
}

func runStdioMode(ctx context.Context, logger *slog.Logger, mcpServer *sdkmcp.Server) error {
	logger.Info("starting stdio transport", "auth", "disabled")

	// Run blocks until stdin closes or context is canceled
	if err := mcpServer.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}
	logger.Info("shutting down")
	return nil
}

func runHTTPMode(ctx context.Context, logger *slog.Logger, handler http.Handler, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	waitForShutdown(logger, httpServer)
	return nil
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func waitForShutdown(logger *slog.Logger, server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const (
	maxLogSizeBytes  = 6 * 1024 * 1024
	keepLogSizeBytes = 5 * 1024 * 1024
)

// logFileWriter appends to a file and keeps only its newest bytes once it grows past the cap.
type logFileWriter struct {
	file *os.File
	mu   sync.Mutex
}

func newLogFileWriter(path string) (*logFileWriter, *os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	writer := &logFileWriter{file: file}
	if err := writer.truncateIfNeeded(); err != nil {
		file.Close()
		return nil, nil, err
	}
	return writer, file, nil
}

func (w *logFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	if err != nil {
		return n, err
	}
	return n, w.truncateIfNeeded()
}

func (w *logFileWriter) truncateIfNeeded() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= maxLogSizeBytes {
		return nil
	}

	buf := make([]byte, keepLogSizeBytes)
	n, err := w.file.ReadAt(buf, size-keepLogSizeBytes)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	// O_APPEND writes land at the new end after truncation.
	_, err = w.file.Write(buf[:n])
	return err
}
