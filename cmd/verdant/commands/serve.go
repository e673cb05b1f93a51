package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verdant-labs/verdant/collect"
	"github.com/verdant-labs/verdant/collectors/iothub"
	"github.com/verdant-labs/verdant/collectors/manualentry"
	"github.com/verdant-labs/verdant/collectors/photo"
	"github.com/verdant-labs/verdant/collectors/weather"
	"github.com/verdant-labs/verdant/config"
	"github.com/verdant-labs/verdant/db"
	"github.com/verdant-labs/verdant/enrich"
	"github.com/verdant-labs/verdant/enrich/budget"
	"github.com/verdant-labs/verdant/enrich/processors"
	"github.com/verdant-labs/verdant/errors"
	"github.com/verdant-labs/verdant/logger"
	"github.com/verdant-labs/verdant/manual"
	"github.com/verdant-labs/verdant/server"
	"github.com/verdant-labs/verdant/store"
	"github.com/verdant-labs/verdant/version"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd runs the collection daemon and status server in foreground.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collection daemon and status server",
	Long: `Run the verdant daemon in foreground mode.

The daemon will:
- Poll every enabled source on its configured frequency
- Enrich collected batches through the background job queue
- Resolve cross-device conflicts among manual entries each sync cycle
- Serve status, metrics, and a live event feed over HTTP
- Run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: runServe,
}

var (
	serveDBPath string
	servePort   int
)

func init() {
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Database path (overrides config)")
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "HTTP server port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	// Flags override the config file.
	dbPath := cfg.Database.Path
	if serveDBPath != "" {
		dbPath = serveDBPath
	}
	if servePort > 0 {
		cfg.Server.Port = &servePort
	}

	// Config-level logging settings apply unless the CLI asked for more.
	verbosity, _ := cmd.Flags().GetCount("verbose")
	jsonLogs, _ := cmd.Flags().GetBool("json-logs")
	if err := logger.Initialize(jsonLogs || cfg.Logging.JSON, verbosity > 0 || cfg.Logging.Debug); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	defer logger.Sync()
	log := logger.Logger

	conn, err := db.Open(dbPath, log)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer conn.Close()
	if err := db.Migrate(conn, log); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}

	st := store.New(conn, log)
	cache := store.NewCache(cfg.Cache.TTL())
	emitter := collect.NewEmitter()

	pipeline := enrich.NewPipeline(log)
	processors.RegisterBuiltins(pipeline, log)

	tracker := budget.NewTracker(budget.Config{
		DailyBudgetUSD:   cfg.Enrichment.DailyBudgetUSD,
		MonthlyBudgetUSD: cfg.Enrichment.MonthlyBudgetUSD,
	})

	queue := enrich.NewJobQueue(pipeline, st, tracker, emitter, enrich.QueueConfig{
		MaxConcurrentJobs: cfg.Enrichment.MaxConcurrentJobs,
		DefaultPriority:   cfg.Enrichment.DefaultJobPriority,
		RequestsPerMinute: cfg.Enrichment.RequestsPerMinute,
	}, log)

	scheduler := collect.NewScheduler(cfg.Collection, st, cache, queue, emitter, log)

	registered, err := registerSources(scheduler, emitter, st, cfg, log)
	if err != nil {
		return err
	}
	if registered == 0 {
		log.Warnw("No sources enabled, daemon will only serve status requests")
	}

	queue.Start()
	scheduler.Start()

	srv := server.New(scheduler, queue, st, tracker, cfg.Server, log)
	if err := srv.Start(); err != nil {
		scheduler.Stop()
		queue.Stop()
		return errors.Wrap(err, "failed to start server")
	}

	printServeBanner(cfg, dbPath, registered)

	// Wait for shutdown signal. A second Ctrl+C forces immediate exit.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

	shutdownDone := make(chan error, 1)
	go func() {
		scheduler.Stop()
		queue.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownDone <- srv.Shutdown(ctx)
	}()

	select {
	case err := <-shutdownDone:
		if err != nil {
			return errors.Wrap(err, "shutdown error")
		}
		pterm.Success.Println("Daemon stopped cleanly")
		return nil
	case <-sigChan:
		pterm.Warning.Println("\nForce shutdown - exiting immediately")
		os.Exit(1)
		return nil // unreachable
	}
}

// registerSources builds and registers a collector for every enabled source.
// Returns the number of sources registered.
func registerSources(scheduler *collect.Scheduler, emitter *collect.Emitter, st *store.Store, cfg *config.Config, log *zap.SugaredLogger) (int, error) {
	registered := 0
	for sourceType, src := range cfg.Sources {
		if !src.Enabled {
			continue
		}
		if !collect.IsValidSourceType(sourceType) {
			log.Warnw("Skipping unknown source type", "source_type", sourceType)
			continue
		}

		var c collect.Collector
		switch collect.SourceType(sourceType) {
		case collect.SourceIoT:
			c = iothub.New(log)
		case collect.SourceWeather:
			c = weather.New(log)
		case collect.SourcePhoto:
			c = photo.New(log)
		case collect.SourceManual:
			resolver := manual.NewResolver(cfg.Conflict.Window(), emitter, log)
			c = manualentry.New(resolver, cfg.Conflict.DevicePriority, st, log)
		}

		collectorCfg := collect.CollectorConfig{
			Enabled:   true,
			Frequency: cfg.Collection.Frequency(sourceType),
			Settings:  src.Settings,
		}
		if err := scheduler.RegisterCollector(collect.SourceType(sourceType), src.ID, c, collectorCfg); err != nil {
			return registered, errors.Wrapf(err, "failed to register %s source", sourceType)
		}
		registered++
	}
	return registered, nil
}

// printServeBanner prints the startup summary.
func printServeBanner(cfg *config.Config, dbPath string, sources int) {
	info := version.Get()

	pterm.DefaultSection.Println("Verdant daemon")
	pterm.Info.Printf("Version:   %s (commit %s)\n", info.Version, info.Short())
	pterm.Info.Printf("Database:  %s\n", dbPath)
	pterm.Info.Printf("Server:    http://localhost:%d\n", cfg.Server.ServerPort())
	pterm.Info.Printf("Sources:   %d enabled\n", sources)
	pterm.Info.Printf("Workers:   %d enrichment slots\n", cfg.Enrichment.MaxConcurrentJobs)
	if cfg.Enrichment.DailyBudgetUSD > 0 {
		pterm.Info.Printf("Budget:    $%.2f/day, $%.2f/month\n",
			cfg.Enrichment.DailyBudgetUSD, cfg.Enrichment.MonthlyBudgetUSD)
	}
	fmt.Println()
	pterm.Info.Println("Press Ctrl+C to stop")
	fmt.Println()
}

// loadConfig honors the persistent --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
