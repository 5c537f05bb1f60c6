package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	debugpkg "runtime/debug"
	"strings"
	"syscall"
	"time"
)

func main() {
	// Capture unexpected panics with a stack trace for operators.
	defer func() {
		if r := recover(); r != nil {
			if f, err := os.OpenFile("panic.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				defer f.Close()
				ts := time.Now().UTC().Format(time.RFC3339)
				fmt.Fprintf(f, "[%s] panic: %v\nversion=%s\n%s\n\n", ts, r, resolveBuildVersion(), debugpkg.Stack())
			}
			panic(r)
		}
	}()

	configFlag := flag.String("config", "", "path to config.toml (default data/config.toml)")
	listenFlag := flag.String("listen", "", "override HTTP listen address (e.g. :8080)")
	dbFlag := flag.String("db", "", "override status database path")
	refreshFlag := flag.Duration("refresh-interval", -1, "override periodic refresh interval (0 disables, -1 keeps config)")
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	stdoutFlag := flag.Bool("stdout", false, "mirror file logs to stdout")
	versionFlag := flag.Bool("version", false, "print version and exit")
	writeExampleFlag := flag.Bool("write-example-config", false, "write config.toml.example next to the config and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(serviceName, resolveBuildVersion())
		return
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = defaultConfigPath()
	}
	if *writeExampleFlag {
		ensureExampleConfig(filepath.Dir(configPath))
		logger.Stop()
		return
	}

	cfg, loaded, err := loadConfig(configPath)
	if err != nil {
		fatal("config", err, "path", configPath)
	}
	if s := strings.TrimSpace(*listenFlag); s != "" {
		cfg.ListenAddr = s
	}
	if s := strings.TrimSpace(*dbFlag); s != "" {
		cfg.DatabasePath = s
	}
	if *refreshFlag >= 0 {
		cfg.RefreshInterval = *refreshFlag
	}
	if *debugFlag {
		cfg.LogLevel = "debug"
	}
	if *stdoutFlag {
		cfg.LogStdout = true
	}
	if err := validateConfig(cfg); err != nil {
		fatal("config", err)
	}
	if err := configureLogging(cfg); err != nil {
		fatal("logging", err)
	}
	if !loaded {
		logger.Info("config file not found, using defaults", "component", "startup", "path", configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStatusStore(cfg.DatabasePath)
	if err != nil {
		fatal("open status database", err, "path", cfg.DatabasePath)
	}

	cache := NewStatusCache(statusCacheOptions{
		Store:               store,
		Probe:               newMemoryProbe(),
		Retry:               cfg.retryPolicy(),
		QueryTimeout:        cfg.QueryTimeout,
		FilteredConcurrency: cfg.FilteredConcurrency,
	})
	logger.Info("starting", "component", "startup", "service", serviceName, "version", cache.Version(), "db", cfg.DatabasePath, "refresh_interval", cfg.RefreshInterval)

	scheduler := startRefreshScheduler(ctx, cache, nil, cfg.RefreshInterval)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewStatusServer(cache, cfg.DatasetRequestsPerMinute),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("status api listening", "component", "http", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested", "component", "startup")
	case err := <-serveErr:
		if err != nil {
			logger.Error("status server error", "component", "http", "error", err)
			exitCode = 1
		}
	}

	// Stop accepting requests, then join the scheduler before the store it
	// queries goes away.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("status http shutdown error", "component", "http", "error", err)
	}
	cancel()
	scheduler.Stop()
	if err := store.Close(); err != nil {
		logger.Error("close status database", "component", "startup", "error", err)
	}
	logger.Info("stopped", "component", "startup")
	logger.Stop()
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
