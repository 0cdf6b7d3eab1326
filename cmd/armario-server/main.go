package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/Armario/internal/armario/hardware"
	"github.com/BrandonDHaskell/Armario/internal/armario/metrics"
	"github.com/BrandonDHaskell/Armario/internal/armario/sensor"
	"github.com/BrandonDHaskell/Armario/internal/armario/service"
	"github.com/BrandonDHaskell/Armario/internal/armario/store"
	"github.com/BrandonDHaskell/Armario/internal/armario/store/memory"
	"github.com/BrandonDHaskell/Armario/internal/armario/store/sqlite"
	"github.com/BrandonDHaskell/Armario/internal/armario/types"
	"github.com/BrandonDHaskell/Armario/internal/clock"
	"github.com/BrandonDHaskell/Armario/internal/config"
	"github.com/BrandonDHaskell/Armario/internal/db"
	"github.com/BrandonDHaskell/Armario/internal/httpapi"
)

func main() {
	logger := log.New(os.Stdout, "armario-server ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Record store
	kv, sqlDB, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("store: %v", err)
	}
	defer closeStore()
	records := store.NewRecordStore(kv)

	// Sensor and cabinet hardware are simulated; dev mode exposes the
	// simulated finger over HTTP.
	sim := sensor.NewSimulator(cfg.MaxSlots)
	hw := hardware.NewSimulator()

	if cfg.Env == "dev" {
		if err := seedDev(ctx, sqlDB, records, sim, hw); err != nil {
			logger.Fatalf("seed dev: %v", err)
		}
		logger.Printf("dev seed applied")
	}

	ctrl := service.NewController(service.Config{
		MaxSlots:     cfg.MaxSlots,
		TickInterval: cfg.TickInterval(),
		StatusGrace:  cfg.StatusGrace(),
		Actuator: service.ActuatorConfig{
			Window:      cfg.UnlockWindow(),
			AlertPeriod: cfg.AlertPeriod(),
			PulseGap:    cfg.AlertPulseGap(),
		},
	}, service.Dependencies{
		Sensor:   sim,
		Records:  records,
		Drawers:  hw,
		Presence: hw,
		Clock:    clock.Real(),
		Logger:   logger,
		Metrics:  metrics.New(prometheus.DefaultRegisterer),
	})

	// HTTP
	deps := httpapi.Dependencies{
		Logger:          logger,
		Addr:            cfg.HTTPAddr,
		Controller:      ctrl,
		EnrollPerSecond: cfg.HTTP.EnrollPerSecond,
		EnrollBurst:     cfg.HTTP.EnrollBurst,
	}
	if cfg.Env == "dev" {
		deps.Simulator = sim
	}
	srv := httpapi.NewServer(deps)

	g, gctx := errgroup.WithContext(ctx)

	ctrl.Start(gctx)

	g.Go(func() error {
		logger.Printf("listening on %s (env=%s, store=%s)", cfg.HTTPAddr, cfg.Env, cfg.Store)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Printf("server error: %v", err)
	}

	ctrl.Stop()
	logger.Printf("stopped")
}

// openStore returns the configured KV backend. sqlDB is nil for the memory
// backend.
func openStore(ctx context.Context, cfg config.Config) (kv store.KV, sqlDB *sql.DB, closeFn func(), err error) {
	if cfg.Store == "memory" {
		return memory.NewKV(), nil, func() {}, nil
	}

	sqlDB, err = db.Open(ctx, db.Config{Path: cfg.DBPath})
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.Migrate(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, nil, nil, err
	}

	writer := db.NewWorker(sqlDB)
	closeFn = func() {
		writer.Close()
		_ = sqlDB.Close()
	}
	return sqlite.NewKV(sqlDB, writer), sqlDB, closeFn, nil
}

type demoUser struct {
	slot   int
	finger string
	record types.UserRecord
}

var demoUsers = []demoUser{
	{1, "demo-a", types.UserRecord{Name: "Demo A", NationalID: "00000000001", RegistrationNumber: "DEV-0001", Drawer: types.DrawerA}},
	{2, "demo-b", types.UserRecord{Name: "Demo B", NationalID: "00000000002", RegistrationNumber: "DEV-0002", Drawer: types.DrawerB}},
}

// seedDev stores the demo records without overwriting existing ones, then
// enrolls a demo finger only in slots that still hold that demo's record.
func seedDev(ctx context.Context, sqlDB *sql.DB, records *store.RecordStore, sim *sensor.Simulator, hw *hardware.Simulator) error {
	if sqlDB != nil {
		blobs := make(map[string][]byte, len(demoUsers))
		for _, u := range demoUsers {
			b, err := store.EncodeRecord(u.record)
			if err != nil {
				return err
			}
			blobs[store.RecordKey(u.slot)] = b
		}
		if err := db.SeedDev(ctx, sqlDB, db.SeedDevOptions{Blobs: blobs}); err != nil {
			return err
		}
	} else {
		for _, u := range demoUsers {
			_, err := records.Load(ctx, u.slot)
			if !errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err := records.Save(ctx, u.slot, u.record); err != nil {
				return err
			}
		}
	}

	for _, u := range demoUsers {
		rec, err := records.Load(ctx, u.slot)
		if err != nil || rec != u.record {
			// Slot reused by a real enrollment.
			continue
		}
		sim.Enroll(u.slot, u.finger)
	}
	hw.SetItemPresent(types.DrawerA, true)
	return nil
}
