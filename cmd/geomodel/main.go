// GeoModel Core - EMRiver hydraulic table service
//
// This is the main entry point for the GeoModel Core application. It owns the
// link to the table (pitch, roll, upper and lower pipe, pump), keeps the
// controller cache, and exposes it to:
//   - MQTT (state, commands, acks, bridge health)
//   - the HTTP API and WebSocket feed used by operator consoles
//   - SQLite response history and request log
//   - InfluxDB telemetry (optional)
//   - a timed command script runner
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/geomodel-core/migrations"

	"github.com/nerrad567/geomodel-core/internal/api"
	"github.com/nerrad567/geomodel-core/internal/bridges/emriver"
	"github.com/nerrad567/geomodel-core/internal/history"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/config"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/database"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/logging"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/geomodel-core/internal/script"
	"github.com/nerrad567/geomodel-core/internal/table"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is used when GEOMODEL_CONFIG is unset.
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service together and blocks until ctx is cancelled.
// Components are torn down by defers in reverse start order.
//
// Returns:
//   - error: nil on clean shutdown, or the first startup failure
func run(ctx context.Context) error {
	// Until the config names a format and level.
	log := logging.Default()
	log.Info("starting GeoModel Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, cfg.Database)
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Table link and controller cache
	ctrl, err := newController(cfg.Table, log)
	if err != nil {
		return fmt.Errorf("creating table controller: %w", err)
	}
	if cfg.Table.AutoConnect {
		// A table that is switched off is not fatal; operators connect
		// later through the API.
		if connErr := ctrl.Connect(); connErr != nil {
			log.Warn("table connect failed, continuing disconnected", "error", connErr)
		}
	}
	defer func() {
		log.Info("disconnecting table")
		ctrl.Disconnect()
	}()

	mqttClient, closeMQTT, err := connectMQTT(ctx, cfg.MQTT, log)
	if err != nil {
		return err
	}
	defer closeMQTT()

	influxClient, closeInflux, err := connectInflux(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeInflux()

	// WebSocket hub shared by the bridge (broadcasts) and the API (clients)
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	requestLog := history.NewSQLiteRequestLog(db.DB)
	var historyRepo history.Repository
	if cfg.History.Enabled {
		historyRepo = history.NewSQLiteRepository(db.DB)
	}

	bridge, err := startBridge(ctx, cfg, bridgeDeps{
		controller: ctrl,
		mqtt:       mqttClient,
		influx:     influxClient,
		history:    historyRepo,
		requests:   requestLog,
		hub:        hub,
		log:        log,
	})
	if err != nil {
		return fmt.Errorf("starting table bridge: %w", err)
	}
	defer func() {
		log.Info("stopping table bridge")
		bridge.Stop()
	}()

	// Command script runner
	runner := script.NewRunner(bridge.SenderFor(history.OriginScript), script.Options{
		Logger: log.Component("script"),
	})
	defer runner.Close()
	if err := loadScript(cfg.Script, runner, log); err != nil {
		return fmt.Errorf("loading script: %w", err)
	}

	// HTTP API
	apiDeps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.Component("api"),
		Controller: ctrl,
		Submitter:  bridge,
		Runner:     runner,
		History:    historyRepo,
		Requests:   requestLog,
		Bridge:     bridge,
		DB:         db.DB,
		Hub:        hub,
		Version:    version,
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	if influxClient != nil {
		apiDeps.Influx = influxClient
	}
	if cfg.API.Auth.JWTSecret == "" {
		log.Warn("API authentication disabled, set api.auth.jwt_secret to require tokens")
	}
	apiServer, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	log.Info("GeoModel Core stopped")
	return nil
}

// connectMQTT connects to the broker when mqtt.enabled is set. The returned
// close func is always safe to defer; the client is nil when disabled.
func connectMQTT(ctx context.Context, cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, func(), error) {
	if !cfg.Enabled {
		log.Info("MQTT disabled")
		return nil, func() {}, nil
	}

	client, err := mqtt.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() { log.Info("MQTT reconnected") })
	client.SetOnDisconnect(func(err error) { log.Warn("MQTT link lost", "error", err) })

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, func() {
		st := client.Stats()
		log.Info("disconnecting from MQTT", "published", st.Published, "received", st.Received)
		if err := client.Close(); err != nil {
			log.Error("MQTT close failed", "error", err)
		}
	}, nil
}

// connectInflux opens the telemetry client when influxdb.enabled is set,
// tagging every point with the site ID.
func connectInflux(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, func(), error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, func() {}, nil
	}

	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB batch write failed", "error", err)
	})

	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"bucket", cfg.InfluxDB.Bucket,
		"site", cfg.Site.ID,
	)
	return client, func() {
		st := client.Stats()
		log.Info("flushing InfluxDB", "points", st.Points, "write_errors", st.WriteErrors)
		if err := client.Close(); err != nil {
			log.Error("InfluxDB close failed", "error", err)
		}
	}, nil
}

// getConfigPath returns the configuration file path.
// Uses GEOMODEL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GEOMODEL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newController builds the configured transport and wraps it in a
// controller with the configured status policy.
func newController(cfg config.TableConfig, log *logging.Logger) (*table.Controller, error) {
	policy, err := table.ParseStatusPolicy(cfg.StatusPolicy)
	if err != nil {
		return nil, err
	}

	conn, err := table.NewConnection(cfg, log.Component("table-link"))
	if err != nil {
		return nil, err
	}

	log.Info("table controller created",
		"transport", cfg.Transport,
		"codec", cfg.Codec,
		"status_policy", policy.String(),
	)
	return table.NewController(conn, table.ControllerOptions{
		StatusPolicy: policy,
		Logger:       log.Component("table"),
	}), nil
}

// bridgeDeps collects the optional sinks for the table bridge. Nil clients
// stay out of emriver.Options so the bridge sees untyped nils.
type bridgeDeps struct {
	controller *table.Controller
	mqtt       *mqtt.Client
	influx     *influxdb.Client
	history    history.Repository
	requests   history.RequestLog
	hub        *api.Hub
	log        *logging.Logger
}

// startBridge creates and starts the table bridge.
//
// Parameters:
//   - ctx: Context for bridge loops
//   - cfg: Application configuration
//   - deps: Controller plus optional sinks
//
// Returns:
//   - *emriver.Bridge: Running bridge
//   - error: If the bridge cannot subscribe to table commands
func startBridge(ctx context.Context, cfg *config.Config, deps bridgeDeps) (*emriver.Bridge, error) {
	opts := emriver.Options{
		Controller:   deps.controller,
		History:      deps.history,
		RequestLog:   deps.requests,
		Broadcaster:  deps.hub,
		PollInterval: cfg.Table.PollInterval,
		Transport:    cfg.Table.Transport,
		Version:      version,
		Logger:       deps.log.Component("emriver"),
	}
	if deps.history != nil {
		opts.RetentionDays = cfg.History.RetentionDays
	}
	if deps.mqtt != nil {
		opts.MQTT = deps.mqtt
	}
	if deps.influx != nil {
		opts.Telemetry = deps.influx
	}

	bridge, err := emriver.NewBridge(opts)
	if err != nil {
		return nil, err
	}
	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return nil, err
	}
	deps.log.Info("table bridge started",
		"mqtt", deps.mqtt != nil,
		"influxdb", deps.influx != nil,
		"history", deps.history != nil,
	)
	return bridge, nil
}

// loadScript loads the configured script into the runner and starts it
// when autostart is set. An empty path leaves the runner idle.
func loadScript(cfg config.ScriptConfig, runner *script.Runner, log *logging.Logger) error {
	if cfg.File == "" {
		return nil
	}

	s, err := script.Load(cfg.File)
	if err != nil {
		return err
	}
	if err := runner.SetScript(s); err != nil {
		return err
	}
	log.Info("script loaded", "path", cfg.File, "name", s.Name, "steps", len(s.Steps))

	if cfg.Autostart {
		if err := runner.Start(); err != nil {
			return err
		}
		log.Info("script started", "name", s.Name)
	}
	return nil
}

// healthChecker is anything startup can ping.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type namedCheck struct {
	name    string
	checker healthChecker
}

// healthCheck pings the database and whichever optional clients are
// configured, stopping at the first failure. The table link is not
// checked: the service runs disconnected until the table is powered up.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	checks := []namedCheck{{"database", db}}
	if mqttClient != nil {
		checks = append(checks, namedCheck{"mqtt", mqttClient})
	}
	if influxClient != nil {
		checks = append(checks, namedCheck{"influxdb", influxClient})
	}

	for _, check := range checks {
		if err := check.checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", check.name, err)
		}
	}
	return nil
}
