package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ripforge/mm/internal/config"
	"github.com/ripforge/mm/internal/logging"
	"github.com/ripforge/mm/internal/metrics"
	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "ripmm",
		Short: "ripmm - a page-description interpreter's memory manager",
		Long:  "A standalone arena/pool/reserve memory manager for a PostScript/PDF-style page-description interpreter.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (optional, defaults override)")

	rootCmd.AddCommand(
		versionCmd(),
		demoCmd(),
		serveCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ripmm version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("ripmm dev")
			return nil
		},
	}
}

// demoCmd runs the one-shot demo workload to completion and exits,
// useful for smoke-testing a config file's arena/pool/GC tuning.
func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a single demo workload against a fresh memory manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.SetLevelFromString(cfg.Logging.Level)
			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)
			if cfg.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Metrics.Namespace, cfg.Metrics.GCMsBuckets)
			}

			mm, err := NewMemoryManager(cfg)
			if err != nil {
				return fmt.Errorf("wire memory manager: %w", err)
			}
			return runDemo(context.Background(), mm)
		},
	}
}

// serveCmd runs ripmm as a long-lived process: it wires a memory
// manager, optionally exposes the Prometheus metrics handler over HTTP,
// runs the demo workload on a status-ticker cadence, and shuts down
// cleanly on SIGINT/SIGTERM.
func serveCmd() *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run ripmm as a long-lived daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}

			logging.SetLevelFromString(cfg.Logging.Level)
			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)
			if cfg.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Metrics.Namespace, cfg.Metrics.GCMsBuckets)
			}

			mm, err := NewMemoryManager(cfg)
			if err != nil {
				return fmt.Errorf("wire memory manager: %w", err)
			}

			if cfg.Daemon.HTTPAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				mux.Handle("/stats", metrics.Global().JSONHandler())
				srv := &http.Server{Addr: cfg.Daemon.HTTPAddr, Handler: mux}
				go func() {
					logging.Op().Info("http server listening", "addr", cfg.Daemon.HTTPAddr)
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logging.Op().Error("http server failed", "err", err)
					}
				}()
				defer srv.Close()
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			logging.Op().Info("ripmm daemon started")
			for {
				select {
				case <-ctx.Done():
					logging.Op().Info("ripmm daemon shutting down")
					return nil
				case <-ticker.C:
					if err := runDemo(ctx, mm); err != nil {
						logging.Op().Error("demo workload failed", "err", err)
						continue
					}
					logging.Op().Info("status", "committed", mm.Arena.Committed())
				}
			}
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP address for metrics/stats (overrides config)")
	return cmd
}
