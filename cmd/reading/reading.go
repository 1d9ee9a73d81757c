package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/reading.report/internal/api"
	"github.com/banshee-data/reading.report/internal/config"
	"github.com/banshee-data/reading.report/internal/db"
	"github.com/banshee-data/reading.report/internal/ingest"
	"github.com/banshee-data/reading.report/internal/monitor"
	"github.com/banshee-data/reading.report/internal/monitoring"
	"github.com/banshee-data/reading.report/internal/scoring"
	"github.com/banshee-data/reading.report/internal/timeutil"
	"github.com/banshee-data/reading.report/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run in dev mode, replaying fixtures through a live session")
	listen      = flag.String("listen", ":8080", "Listen address")
	dbPath      = flag.String("db", "reading.db", "Path to the sqlite session database")
	configPath  = flag.String("config", "", "Path to a tuning JSON file (defaults apply when empty)")
	fixtures    = flag.String("fixtures", "fixtures.jsonl", "Observation fixtures replayed in dev mode (.jsonl or .csv)")
	fixtureRate = flag.Duration("fixture-rate", 500*time.Millisecond, "Interval between replayed fixture observations")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadScorerConfig(path string) (scoring.Config, error) {
	if path == "" {
		return scoring.DefaultConfig(), nil
	}
	tc, err := config.LoadTuningConfig(path)
	if err != nil {
		return scoring.Config{}, err
	}
	return tc.ScorerConfig()
}

func loadFixtures(path string) ([]scoring.Observation, error) {
	format, err := ingest.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixtures file: %w", err)
	}
	defer f.Close()
	dec, err := ingest.NewDecoder(f, format)
	if err != nil {
		return nil, err
	}
	obs, err := ingest.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("fixtures file %s is empty", path)
	}
	return obs, nil
}

// replayFixtures feeds obs into the running session, one per tick, looping
// until ctx is done. Fixture timestamps are replaced with the tick time so
// successive loops stay in order.
func replayFixtures(ctx context.Context, m *monitor.Monitor, ticker timeutil.Ticker, obs []scoring.Observation) {
	defer ticker.Stop()
	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			if _, err := m.Process(obs[i].WithTimestamp(now)); err != nil {
				if errors.Is(err, monitor.ErrNotRunning) {
					return
				}
				log.Printf("fixture %d rejected: %v", i, err)
			}
			i = (i + 1) % len(obs)
		}
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("reading %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadScorerConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load tuning config: %v", err)
	}

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	clock := timeutil.RealClock{}
	m, err := monitor.New(cfg,
		monitor.WithClock(clock),
		monitor.WithRecorder(store),
		monitor.WithMetadata(version.Metadata()),
	)
	if err != nil {
		log.Fatalf("Failed to create monitor: %v", err)
	}
	m.OnResult(func(r scoring.ScoreResult) {
		if r.Band == scoring.BandSignificant {
			monitoring.Logf("reading difficulty %.2f at %s", r.Score, r.Timestamp.Format(time.RFC3339))
		}
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *devMode {
		obs, err := loadFixtures(*fixtures)
		if err != nil {
			log.Fatalf("dev mode: %v", err)
		}
		if _, err := m.Start(map[string]string{"source": "fixtures", "fixtures": *fixtures}); err != nil {
			log.Fatalf("dev mode: %v", err)
		}
		log.Printf("dev mode: replaying %d fixtures every %s", len(obs), *fixtureRate)

		wg.Add(1)
		go func() {
			defer wg.Done()
			replayFixtures(ctx, m, clock.NewTicker(*fixtureRate), obs)
			log.Print("fixture routine terminated")
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(m, store).ServeMux()
		store.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("listening on %s", *listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	// Seal whatever is still open so the store has an end time and summary.
	if m.Running() {
		if _, err := m.Stop(); err != nil {
			log.Printf("failed to stop session: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
}
