// Custody Core - regulatory device ledger.
//
// This is the main entry point for the Custody Core daemon. It tracks
// the physical possession of serialised medical devices through an
// append-only movement ledger and reports consumer deliveries to the
// national registry via delivery notifications.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/odyotek/custody-core/migrations"

	"github.com/odyotek/custody-core/internal/api"
	"github.com/odyotek/custody-core/internal/audit"
	"github.com/odyotek/custody-core/internal/custody"
	"github.com/odyotek/custody-core/internal/device"
	"github.com/odyotek/custody-core/internal/infrastructure/config"
	"github.com/odyotek/custody-core/internal/infrastructure/database"
	"github.com/odyotek/custody-core/internal/infrastructure/influxdb"
	"github.com/odyotek/custody-core/internal/infrastructure/logging"
	"github.com/odyotek/custody-core/internal/infrastructure/mqtt"
	"github.com/odyotek/custody-core/internal/notification"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear wiring of the component graph
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Custody Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "center", cfg.Center.ID)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to the MQTT event stream (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT event stream disabled")
	}

	// Connect to InfluxDB metrics (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Repositories and domain components
	deviceRepo := device.NewSQLiteRepository(db.DB)
	movementRepo := custody.NewSQLiteRepository(db.DB)
	notificationRepo := notification.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	machine := custody.NewMachine(deviceRepo, movementRepo)
	machine.SetLogger(log.With("component", "custody"))
	machine.SetBulkLimits(cfg.Bulk.Workers, cfg.Bulk.ConflictRetries)

	generator := notification.NewGenerator(notificationRepo, deviceRepo)
	generator.SetLogger(log.With("component", "notification"))

	// Corrections pull devices back from the consumer; the active
	// notification must fall with them.
	machine.SetNotificationCanceller(generator)

	// API server
	apiServer, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log.With("component", "api"),
		Devices:   deviceRepo,
		Machine:   machine,
		Generator: generator,
		Audit:     auditRepo,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Outbound event fan-out: WebSocket always, MQTT and InfluxDB when
	// configured.
	events := &eventFanout{
		hub:      apiServer.Hub(),
		mqtt:     mqttClient,
		influx:   influxClient,
		centerID: cfg.Center.ID,
		qos:      byte(cfg.MQTT.QoS),
		log:      log.With("component", "events"),
	}
	machine.SetEventPublisher(events)
	machine.SetMetricsRecorder(events)
	generator.SetEventPublisher(events)
	generator.SetMetricsRecorder(events)

	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Background ledger pruner (disabled by default: horizon 0 keeps the
	// audit trail unbounded)
	if cfg.Retention.MovementHorizonDays > 0 {
		go runPruner(ctx, cfg, movementRepo, log.With("component", "retention"))
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Database

	log.Info("Custody Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CUSTODY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CUSTODY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// runPruner deletes ledger rows older than the configured horizon at the
// configured interval. Errors are logged; the pruner never stops the
// daemon.
func runPruner(ctx context.Context, cfg *config.Config, movements custody.Repository, log *logging.Logger) {
	interval := cfg.PruneInterval()
	horizon := cfg.MovementHorizon()
	log.Info("ledger pruner running", "horizon", horizon, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := movements.PruneHistory(ctx, horizon)
			if err != nil {
				log.Error("ledger prune failed", "error", err)
				continue
			}
			if pruned > 0 {
				log.Info("ledger pruned", "rows", pruned)
			}
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// Optional clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
