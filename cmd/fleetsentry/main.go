// Command fleetsentry runs the vehicle telemetry fault service: it ingests
// telemetry samples, classifies anomalies, drives the multi-stage advisory
// pipeline and serves the fault and fleet APIs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/harrier-data/fleetsentry/internal/anomaly"
	"github.com/harrier-data/fleetsentry/internal/api"
	"github.com/harrier-data/fleetsentry/internal/config"
	"github.com/harrier-data/fleetsentry/internal/faultdb"
	"github.com/harrier-data/fleetsentry/internal/llm"
	"github.com/harrier-data/fleetsentry/internal/monitoring"
	"github.com/harrier-data/fleetsentry/internal/pipeline"
	"github.com/harrier-data/fleetsentry/internal/version"
)

var (
	devMode       = flag.Bool("dev", false, "Run in dev mode with a canned text generator (no API key needed)")
	listen        = flag.String("listen", "", "Listen address (overrides config)")
	dbPath        = flag.String("db", "", "SQLite database path (overrides config)")
	configPath    = flag.String("config", "", "Path to JSON config file")
	migrationsDir = flag.String("migrations", "", "Migrations directory (overrides config)")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] [migrate up|down|status]\n\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	monitoring.Logf("fleetsentry %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg := config.Empty()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	listenAddr := cfg.GetListenAddr()
	if *listen != "" {
		listenAddr = *listen
	}
	databasePath := cfg.GetDBPath()
	if *dbPath != "" {
		databasePath = *dbPath
	}
	migrations := cfg.GetMigrationsDir()
	if *migrationsDir != "" {
		migrations = *migrationsDir
	}

	db, err := faultdb.Open(databasePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// Migration subcommand mode: run and exit.
	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		runMigrateCommand(db, migrations, args[1:])
		return
	}

	if err := db.MigrateUp(migrations); err != nil {
		monitoring.Logf("migrations unavailable (%v), falling back to inline schema", err)
		if serr := db.EnsureSchema(); serr != nil {
			log.Fatalf("failed to initialize schema: %v", serr)
		}
	}

	gen, err := buildGenerator(cfg)
	if err != nil {
		log.Fatalf("failed to build text generator: %v", err)
	}

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)

	store := faultdb.NewFaultStore(db.DB)
	orch := pipeline.NewOrchestrator(gen, store,
		pipeline.WithMetrics(metrics),
		pipeline.WithStageTimeout(cfg.GetGenerationTimeout()),
	)
	svc := pipeline.NewService(buildClassifier(cfg), orch, metrics)
	server := api.NewServer(svc, store, gen, registry)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()

		httpServer := &http.Server{
			Addr:    listenAddr,
			Handler: server.Handler(),
		}

		go func() {
			monitoring.Logf("listening on %s", listenAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		monitoring.Logf("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	monitoring.Logf("shutdown complete")
}

// buildGenerator selects the text generator: canned output in dev mode, the
// hosted API otherwise. The API key comes from the environment only.
func buildGenerator(cfg *config.Config) (pipeline.Generator, error) {
	if *devMode {
		monitoring.Logf("dev mode: using canned text generator")
		return llm.NewCannedGenerator(), nil
	}

	apiKey := os.Getenv(config.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%s is not set (use -dev for offline mode)", config.APIKeyEnv)
	}
	return llm.NewClient(llm.ClientConfig{
		APIKey:      apiKey,
		Model:       cfg.GetModel(),
		BaseURL:     cfg.GetBaseURL(),
		Temperature: cfg.GetTemperature(),
		MaxTokens:   cfg.GetMaxTokens(),
	})
}

// buildClassifier applies any configured severity distance overrides on top
// of the built-in table.
func buildClassifier(cfg *config.Config) *anomaly.Classifier {
	dt := anomaly.DefaultDistanceTable()
	dt.Default = cfg.GetDefaultIncrementKm()
	for severity, km := range cfg.GetSeverityIncrementsKm() {
		dt.Increments[anomaly.Severity(severity)] = km
	}
	return anomaly.NewClassifierWithDistances(dt)
}

func runMigrateCommand(db *faultdb.DB, migrationsDir string, args []string) {
	sub := "up"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "up":
		if err := db.MigrateUp(migrationsDir); err != nil {
			log.Fatalf("migrate up failed: %v", err)
		}
		fmt.Println("migrations applied")
	case "down":
		if err := db.MigrateDown(migrationsDir); err != nil {
			log.Fatalf("migrate down failed: %v", err)
		}
		fmt.Println("rolled back one migration")
	case "status":
		version, dirty, err := db.MigrateVersion(migrationsDir)
		if err != nil {
			log.Fatalf("migrate status failed: %v", err)
		}
		fmt.Printf("version=%d dirty=%v\n", version, dirty)
	default:
		log.Fatalf("unknown migrate subcommand %q (want up, down or status)", sub)
	}
}
