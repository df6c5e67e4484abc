// ledgerd is the consciousness ledger service: sqlite-backed ledger and
// interaction registry behind an HTTP API, with a live analysis monitor.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielpatrickdp/consciousness-ledger/internal/config"
	"github.com/danielpatrickdp/consciousness-ledger/internal/httpapi"
	"github.com/danielpatrickdp/consciousness-ledger/internal/ledger"
	"github.com/danielpatrickdp/consciousness-ledger/internal/monitor"
	"github.com/danielpatrickdp/consciousness-ledger/internal/reconstruct"
	"github.com/danielpatrickdp/consciousness-ledger/internal/registry"
)

// #region main

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("[LEDGERD] config: %v", err)
		}
	}

	db, err := ledger.OpenDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("[LEDGERD] open db: %v", err)
	}
	defer db.Close()

	led, err := ledger.New(db, cfg.Authority,
		ledger.WithMinRecordingInterval(cfg.MinRecordingInterval()))
	if err != nil {
		log.Fatalf("[LEDGERD] ledger: %v", err)
	}

	reg, err := registry.New(db, led.Bus(),
		registry.WithMinInteractionInterval(cfg.MinInteractionInterval()),
		registry.WithCorrelationWindow(cfg.CorrelationWindow()))
	if err != nil {
		log.Fatalf("[LEDGERD] registry: %v", err)
	}

	rec := reconstruct.New(led, led, reconstruct.Config{
		ChunkSize:   cfg.Replay.ChunkSize,
		MaxRetries:  cfg.Replay.MaxRetries,
		BackoffBase: cfg.BackoffBase(),
		BackoffMax:  cfg.BackoffMax(),
	})

	mon := monitor.Start(rec, led.Bus(), monitor.WithDebounce(cfg.MonitorDebounce()))
	defer mon.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           httpapi.New(led, reg, rec, mon).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("[LEDGERD] listening on %s (db=%s)", cfg.Listen, cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[LEDGERD] serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("[LEDGERD] shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[LEDGERD] shutdown: %v", err)
	}
}

// #endregion main
