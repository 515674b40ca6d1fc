package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-roborock/internal/audit"
	"github.com/nerrad567/gray-logic-roborock/internal/bridges/roborock"
	"github.com/nerrad567/gray-logic-roborock/internal/device"
	"github.com/nerrad567/gray-logic-roborock/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-roborock/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-roborock/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-roborock/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-roborock/migrations"
)

// app holds the infrastructure shared by every command.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	db       *database.DB
	registry *device.Registry
	audit    *audit.SQLiteRepository
	influx   *influxdb.Client
	bridge   *roborock.Bridge
}

// openApp loads config, opens and migrates the database and seeds the
// device registry. oneShot routes logs to stderr so command output stays
// on stdout.
func openApp(ctx context.Context, oneShot bool) (*app, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if oneShot {
		cfg.Logging.Output = "stderr"
	}

	log := logging.New(cfg.Logging, version)
	log.Debug("configuration loaded", "path", path)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a := &app{cfg: cfg, log: log, db: db}

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if applied > 0 {
		log.Info("database migrations applied", "count", applied)
	}

	a.registry = device.NewRegistry(device.NewSQLiteRepository(db.DB))
	a.registry.SetLogger(log)
	if err := a.registry.Seed(ctx, cfg.Devices); err != nil {
		a.close()
		return nil, fmt.Errorf("seeding device registry: %w", err)
	}
	log.Info("device registry initialised", "devices", a.registry.GetDeviceCount())

	a.audit = audit.NewSQLiteRepository(db.DB)
	return a, nil
}

// startBridge connects telemetry (when enabled) and starts the bridge.
func (a *app) startBridge(ctx context.Context) error {
	influx, err := influxdb.Connect(a.cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		a.log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		influx.SetOnError(func(err error) {
			a.log.Error("InfluxDB write error", "error", err)
		})
		a.influx = influx
		a.log.Info("InfluxDB connected", "url", a.cfg.InfluxDB.URL, "bucket", a.cfg.InfluxDB.Bucket)
	}

	opts := roborock.BridgeOptions{
		Config:  a.cfg,
		Devices: a.registry,
		Audit:   a.audit,
		Logger:  a.log,
	}
	if a.influx != nil {
		opts.Telemetry = a.influx
	}

	bridge, err := roborock.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return fmt.Errorf("starting bridge: %w", err)
	}
	a.bridge = bridge
	return nil
}

// close releases everything in reverse order of acquisition.
func (a *app) close() {
	if a.bridge != nil {
		a.bridge.Stop()
	}
	if a.influx != nil {
		if err := a.influx.Close(); err != nil {
			a.log.Error("error closing InfluxDB", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.log.Error("error closing database", "error", err)
	}
}
