package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/orefield/haulcore/engine"
	"github.com/orefield/haulcore/engine/internal/telemetry/logging"
)

func main() {
	var (
		configPath    string
		metricsAddr   string
		healthAddr    string
		snapshotEvery time.Duration
		showVersion   bool
	)
	flag.StringVar(&configPath, "config", "", "Optional YAML config file layered over defaults")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose metrics on address (e.g. :9090)")
	flag.StringVar(&healthAddr, "health", "", "Expose health endpoint on address (e.g. :9091)")
	flag.DurationVar(&snapshotEvery, "snapshot-interval", 0, "Interval between JSON status snapshots printed to stderr (0=disabled)")
	flag.BoolVar(&showVersion, "version", false, "Show version / build info")
	flag.Parse()

	if showVersion {
		fmt.Println("haulcore - mining-haulage truck control core")
		return
	}

	log := logging.For(logging.ModuleMain)

	cfg := engine.Defaults()
	if truckArg := flag.Arg(0); truckArg != "" {
		if _, err := strconv.Atoi(truckArg); err != nil {
			log.Warn(nil, "invalid truck id, falling back to default", "given", truckArg, "default", cfg.TruckID)
		} else {
			cfg.TruckID = truckArg
		}
	}

	if configPath != "" {
		merged, err := cfg.LoadOverlay(configPath)
		if err != nil {
			log.Crit(nil, "load config overlay failed", "path", configPath, "error", err)
			os.Exit(1)
		}
		cfg = merged
	}

	level, ok := logging.ParseLevel(os.Getenv("LOG_LEVEL"))
	if !ok {
		log.Warn(nil, "unrecognized LOG_LEVEL, defaulting to INFO", "given", os.Getenv("LOG_LEVEL"))
	}
	logging.Init(os.Stdout, level)

	eng, err := engine.New(cfg)
	if err != nil {
		log.Crit(nil, "construct engine failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Info(nil, "signal received; initiating graceful shutdown")
		cancel()
		<-sigCh
		log.Crit(nil, "second signal received; forcing exit")
		os.Exit(1)
	}()

	if err := eng.Start(ctx); err != nil {
		log.Crit(nil, "start engine failed", "error", err)
		os.Exit(1)
	}

	if metricsAddr != "" {
		if h := eng.MetricsHandler(); h != nil {
			mux := http.NewServeMux()
			mux.Handle("/metrics", h)
			srv := &http.Server{Addr: metricsAddr, Handler: mux}
			go func() { <-ctx.Done(); _ = srv.Shutdown(context.Background()) }()
			go func() {
				log.Info(nil, "metrics listening", "addr", metricsAddr)
				_ = srv.ListenAndServe()
			}()
		}
	}

	if healthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			snap := eng.HealthSnapshot()
			_ = json.NewEncoder(w).Encode(snap)
		})
		srv := &http.Server{Addr: healthAddr, Handler: mux}
		go func() { <-ctx.Done(); _ = srv.Shutdown(context.Background()) }()
		go func() {
			log.Info(nil, "health endpoint listening", "addr", healthAddr)
			_ = srv.ListenAndServe()
		}()
	}

	var ticker *time.Ticker
	if snapshotEvery > 0 {
		ticker = time.NewTicker(snapshotEvery)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ticker.C:
					b, _ := json.MarshalIndent(eng.Snapshot(), "", "  ")
					fmt.Fprintf(os.Stderr, "\n=== SNAPSHOT %s ===\n%s\n", time.Now().Format(time.RFC3339), string(b))
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	<-ctx.Done()
	eng.Stop()

	final, _ := json.MarshalIndent(eng.Snapshot(), "", "  ")
	fmt.Fprintf(os.Stderr, "\n=== FINAL SNAPSHOT %s ===\n%s\n", time.Now().Format(time.RFC3339), string(final))
}
