// Command pmcd is the process-supervisor daemon: it owns the Process
// Table, serves the Command Surface over a Unix domain socket and an
// optional HTTP/WebSocket API, and rehydrates the persisted table on
// startup, grounded on the teacher's cmd/provisr/main.go entrypoint shape.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/askucher/pmc/internal/applog"
	"github.com/askucher/pmc/internal/authgate"
	"github.com/askucher/pmc/internal/history/factory"
	"github.com/askucher/pmc/internal/metricsexp"
	"github.com/askucher/pmc/internal/pmcconfig"
	"github.com/askucher/pmc/internal/server"
	"github.com/askucher/pmc/internal/supervisor"
)

func main() {
	var (
		configPath string
		configDir  string
		daemonize_ bool
		pidFile    string
		foreground bool
	)

	root := &cobra.Command{
		Use:   "pmcd",
		Short: "process supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configDir == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				configDir = filepath.Join(home, ".pmc")
			}
			if err := os.MkdirAll(configDir, 0o750); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if configPath == "" {
				configPath = filepath.Join(configDir, "config.toml")
			}

			if daemonize_ {
				if pidFile == "" {
					pidFile = filepath.Join(configDir, "pmcd.pid")
				}
				if err := daemonize(pidFile); err != nil {
					return err
				}
			}

			return run(configDir, configPath, pidFile, !foreground)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to config.toml (default <config-dir>/config.toml)")
	root.Flags().StringVar(&configDir, "config-dir", "", "daemon state directory (default ~/.pmc)")
	root.Flags().BoolVar(&daemonize_, "daemonize", false, "detach into the background")
	root.Flags().StringVar(&pidFile, "pidfile", "", "pidfile path when daemonizing")
	root.Flags().BoolVar(&foreground, "foreground", false, "log to console in addition to the rotated file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pmcd:", err)
		os.Exit(3)
	}
}

func run(configDir, configPath, pidFile string, daemonized bool) error {
	cfg, err := pmcconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir, 0o750); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	logger, closer, err := applog.New(applog.Config{
		Path:    filepath.Join(configDir, "pmcd.log"),
		Console: !daemonized,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(logger)

	hist, err := factory.NewFromDSN(cfg.History.DSN)
	if err != nil {
		return fmt.Errorf("build history sink: %w", err)
	}
	defer func() { _ = hist.Close() }()

	var exp *metricsexp.Exporter
	if cfg.Metrics.IntervalMS > 0 {
		exp = metricsexp.New()
	}

	persistPath := filepath.Join(configDir, "process.dump")
	loop := supervisor.New(cfg.LogDir, persistPath, os.Environ(), hist, exp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	if _, err := os.Stat(persistPath); err == nil {
		res := loop.Submit(ctx, &supervisor.Command{Kind: supervisor.KindRestore})
		if res.Err != nil {
			slog.Warn("startup rehydrate failed", "error", res.Err)
		} else {
			for _, perErr := range res.PerRecord {
				slog.Warn("startup rehydrate skipped an entry", "error", perErr)
			}
		}
	}

	gate := authgate.New(cfg.Daemon.Token)

	sockPath := filepath.Join(configDir, "pmc.sock")
	_ = os.Remove(sockPath)
	unixLis, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("bind control socket %s: %w", sockPath, err)
	}

	handler := server.New(loop, gate, exp).Handler()
	unixSrv := &http.Server{Handler: handler}
	go func() {
		if err := unixSrv.Serve(unixLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ipc socket server stopped", "error", err)
		}
	}()

	var httpSrv *http.Server
	if cfg.Daemon.Port > 0 {
		addr := fmt.Sprintf("%s:%d", cfg.Daemon.Bind, cfg.Daemon.Port)
		httpSrv = server.NewHTTPServer(addr, loop, gate, exp)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server stopped", "error", err)
			}
		}()
		slog.Info("pmcd listening", "http", addr, "socket", sockPath)
	} else {
		slog.Info("pmcd listening", "socket", sockPath)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("pmcd shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	_ = unixSrv.Shutdown(shutdownCtx)
	loop.Shutdown()
	_ = removePidFile(pidFile)
	return nil
}
