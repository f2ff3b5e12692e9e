package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/burrowdb/burrow/pkg/client"
	"github.com/burrowdb/burrow/pkg/config"
	"github.com/burrowdb/burrow/pkg/log"
	"github.com/burrowdb/burrow/pkg/metrics"
	"github.com/burrowdb/burrow/pkg/server"
	"github.com/burrowdb/burrow/pkg/tbm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - a small transactional SQL storage engine",
	Long: `Burrow is a single-node relational storage engine: MVCC reads,
write-ahead logging with crash recovery, and B+-tree indexes, speaking
a minimal SQL dialect over a TCP line protocol.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(clientCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var createCmd = &cobra.Command{
	Use:   "create <dbpath>",
	Short: "Initialize a new database",
	Long: `Create the data, log, transaction and boot files for a fresh
database at the given path prefix.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		memFlag, _ := cmd.Flags().GetString("mem")
		cfg := config.Default()
		cfg.Memory = memFlag

		mem, err := cfg.MemoryBytes()
		if err != nil {
			return err
		}
		mgr, err := tbm.CreateDB(args[0], mem)
		if err != nil {
			return err
		}
		if err := mgr.Close(); err != nil {
			return err
		}
		fmt.Printf("created database at %s\n", args[0])
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve <dbpath>",
	Short: "Open a database and serve it over TCP",
	Long: `Open an existing database (running crash recovery if the last
shutdown was unclean) and accept SQL sessions on the listen address.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadServeConfig(cmd)
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
		mem, err := cfg.MemoryBytes()
		if err != nil {
			return err
		}

		metrics.SetVersion(Version)
		metrics.RegisterComponent("engine", false, "opening")

		mgr, err := tbm.OpenDB(args[0], mem)
		if err != nil {
			log.Errorf("failed to open database", err)
			return err
		}
		metrics.UpdateComponent("engine", true, "open")

		srv := server.New(cfg.Listen, mgr)

		g, ctx := errgroup.WithContext(context.Background())
		g.Go(srv.ListenAndServe)

		var metricsSrv *http.Server
		if cfg.MetricsListen != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/health", metrics.HealthHandler())
			mux.HandleFunc("/ready", metrics.ReadyHandler())
			mux.HandleFunc("/live", metrics.LivenessHandler())
			metricsSrv = &http.Server{Addr: cfg.MetricsListen, Handler: mux}
			g.Go(func() error {
				if err := metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			log.Logger.Info().Str("addr", cfg.MetricsListen).Msg("metrics listening")
		}

		// Block until a signal or a listener failure, then shut down
		// cleanly so the close mark is written.
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-sig:
			log.Logger.Info().Str("signal", s.String()).Msg("shutting down")
		case <-ctx.Done():
		}

		srv.Close()
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			metricsSrv.Shutdown(shutdownCtx)
			cancel()
		}
		if err := g.Wait(); err != nil {
			log.Errorf("listener failed", err)
		}
		if err := mgr.Close(); err != nil {
			log.Errorf("failed to close database", err)
			return err
		}
		log.Info("database closed cleanly")
		return nil
	},
}

// loadServeConfig merges the optional config file with flags; a flag
// the user set wins over the file.
func loadServeConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return cfg, err
		}
	}
	if cmd.Flags().Changed("listen") {
		cfg.Listen, _ = cmd.Flags().GetString("listen")
	}
	if cmd.Flags().Changed("metrics-listen") {
		cfg.MetricsListen, _ = cmd.Flags().GetString("metrics-listen")
	}
	if cmd.Flags().Changed("mem") {
		cfg.Memory, _ = cmd.Flags().GetString("mem")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON, _ = cmd.Flags().GetBool("log-json")
	}
	return cfg, nil
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Open an interactive shell against a server",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return client.Run(addr)
	},
}

func init() {
	createCmd.Flags().String("mem", config.DefaultMemory, "Page cache memory budget (e.g. 64MB, 1GB)")

	serveCmd.Flags().String("listen", config.DefaultListen, "TCP address for the SQL protocol")
	serveCmd.Flags().String("metrics-listen", "", "HTTP address for /metrics and health endpoints (disabled if empty)")
	serveCmd.Flags().String("mem", config.DefaultMemory, "Page cache memory budget (e.g. 64MB, 1GB)")
	serveCmd.Flags().String("config", "", "YAML config file")

	clientCmd.Flags().String("addr", client.DefaultAddr, "Server address")
}
