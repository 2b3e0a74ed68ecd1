package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/tab_sentry/internal/api"
	"github.com/dgnsrekt/tab_sentry/internal/audit"
	"github.com/dgnsrekt/tab_sentry/internal/authapi"
	"github.com/dgnsrekt/tab_sentry/internal/backend"
	"github.com/dgnsrekt/tab_sentry/internal/browser"
	"github.com/dgnsrekt/tab_sentry/internal/config"
	"github.com/dgnsrekt/tab_sentry/internal/netutil"
	"github.com/dgnsrekt/tab_sentry/internal/recoverystore"
	"github.com/dgnsrekt/tab_sentry/internal/relay"
	"github.com/dgnsrekt/tab_sentry/internal/sentry"
	"github.com/dgnsrekt/tab_sentry/internal/tabid"
	"github.com/dgnsrekt/tab_sentry/internal/tabwatch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("tab_sentry config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.CDPURL(),
		"tab_url_filter", cfg.TabURLFilter,
		"recovery_route", cfg.RecoveryRoute,
		"recovery_ttl", cfg.RecoveryTTL,
		"state_dir", cfg.StateDir,
		"log_level", cfg.LogLevel,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, nil, false)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			Binary:     cfg.BrowserBinary,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.ProfileDir,
		})
		if err := launcher.Launch(rootCtx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	store, err := recoverystore.NewFileStore(cfg.StateDir)
	if err != nil {
		slog.Error("failed to open state store", "dir", cfg.StateDir, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Debug("state store close failed", "error", err)
		}
	}()

	broker := relay.NewBroker()
	auth := authapi.NewClient(cfg.AuthBaseURL, store)
	credits := backend.NewClient(cfg.BackendBaseURL, store)

	auditWriter := audit.NewWriter(cfg.AuditDir, tabid.Current(), cfg.AuditBuffer, cfg.MaxFileSizeMB)
	defer func() {
		if err := auditWriter.Close(); err != nil {
			slog.Debug("audit writer close failed", "error", err)
		}
	}()

	svc := sentry.New(sentry.Deps{
		Cfg:     cfg,
		Store:   store,
		Auth:    auth,
		Credits: credits,
		Broker:  broker,
		Audit:   auditWriter,
	})

	go svc.Run(rootCtx)

	if cfg.AuthEventsURL != "" {
		stream := authapi.NewStream(cfg.AuthEventsURL, store, auth)
		stream.Subscribe(svc.HandleAuthEvent)
		go stream.Run(rootCtx)
	}

	registry := tabwatch.NewRegistry()
	watcher := tabwatch.NewWatcher(cfg.CDPURL(), cfg.TabURLFilter, cfg.RecoveryRoute, cfg.TokenStorageKey, registry, svc)
	if err := watcher.Connect(rootCtx); err != nil {
		slog.Error("failed to connect tab watcher", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Debug("tab watcher close failed", "error", err)
		}
	}()
	go watcher.WatchTargets(rootCtx, 2*time.Second)

	h := api.NewServer(svc, broker)
	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("tab_sentry listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("tab_sentry server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("tab_sentry shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
