package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/geomodel-core/internal/bridges/emriver"
	"github.com/nerrad567/geomodel-core/internal/history"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/config"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/logging"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/geomodel-core/internal/script"
	"github.com/nerrad567/geomodel-core/internal/table"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// TableController is the part of *table.Controller the API uses.
type TableController interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	CurrentValue(d table.Device) table.Response
	CurrentValues() []table.Response
	Stats() table.ControllerStats
}

// RequestSubmitter validates, sends and records a table request.
// *emriver.Bridge satisfies it.
type RequestSubmitter interface {
	Submit(ctx context.Context, req table.Request, origin string) error
}

// ScriptRunner controls the command script. *script.Runner satisfies it.
type ScriptRunner interface {
	SetScript(s *script.Script) error
	Start() error
	Pause() error
	Resume() error
	Reset()
	Status() script.Status
}

// BridgeStats exposes bridge counters for /metrics.
type BridgeStats interface {
	Stats() emriver.Statistics
}

// MQTTStatus exposes broker link counters. *mqtt.Client satisfies it.
type MQTTStatus interface {
	Stats() mqtt.Stats
}

// InfluxStatus exposes telemetry write counters. *influxdb.Client satisfies it.
type InfluxStatus interface {
	Stats() influxdb.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Controller TableController
	Submitter  RequestSubmitter
	Runner     ScriptRunner       // optional
	History    history.Repository // optional
	Requests   history.RequestLog // optional
	Bridge     BridgeStats        // optional
	MQTT       MQTTStatus         // optional
	Influx     InfluxStatus       // optional
	DB         *sql.DB            // optional, for pool metrics
	Hub        *Hub               // If set, the server uses this hub instead of creating its own
	Version    string
}

// Server is the HTTP API server for the table service.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	controller TableController
	submitter  RequestSubmitter
	runner     ScriptRunner
	history    history.Repository
	requests   history.RequestLog
	bridge     BridgeStats
	mqtt       MQTTStatus
	influx     InfluxStatus
	db         *sql.DB
	version    string
	startTime  time.Time
	server     *http.Server
	hub        *Hub
	ownHub     bool               // true if the hub was created here
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, controller, submitter)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("table controller is required")
	}
	if deps.Submitter == nil {
		return nil, fmt.Errorf("request submitter is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		controller: deps.Controller,
		submitter:  deps.Submitter,
		runner:     deps.Runner,
		history:    deps.History,
		requests:   deps.Requests,
		bridge:     deps.Bridge,
		mqtt:       deps.MQTT,
		influx:     deps.Influx,
		db:         deps.DB,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        deps.Hub,
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
		s.ownHub = true
	}

	return s, nil
}

// Hub returns the WebSocket hub so other components can broadcast.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (when owned), builds the router, and launches
// the HTTP listener in a background goroutine. Stop it with Close().
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.ownHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
