package emriver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/geomodel-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/geomodel-core/internal/table"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher is where health reports go. *mqtt.Client satisfies it.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// LinkChecker reports whether the table link is up.
type LinkChecker interface {
	IsConnected() bool
}

// HealthReporterConfig configures a HealthReporter. Interval defaults to
// 30 seconds; Stats is optional.
type HealthReporterConfig struct {
	Version   string
	Transport string
	Interval  time.Duration
	Publisher HealthPublisher
	Link      LinkChecker
	Stats     func() Statistics
}

// HealthReporter keeps a retained report on geomodel/health/table current.
type HealthReporter struct {
	cfg     HealthReporterConfig
	started time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	finished chan struct{}
	last     HealthStatus
	logger   Logger

	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. Nothing is published until Start or
// PublishNow.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{cfg: cfg, started: time.Now()}
}

// Start publishes a report now and then every interval until ctx ends or
// Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	finished := make(chan struct{})

	h.mu.Lock()
	h.cancel = cancel
	h.finished = finished
	h.mu.Unlock()

	go func() {
		defer close(finished)
		h.run(ctx)
	}()
}

// Stop ends the loop and leaves a retained "stopping" report behind.
// Safe to call more than once, and without Start.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		cancel, finished := h.cancel, h.finished
		h.mu.Unlock()

		if cancel != nil {
			cancel()
			<-finished
		}
		if err := h.publish(HealthStopping, ""); err != nil {
			h.warn("failed to publish stopping status", err)
		}
	})
}

// SetLogger sets the logger used for publish failures and status changes.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.mu.Lock()
	h.logger = logger
	h.mu.Unlock()
}

// PublishStarting announces that the bridge is coming up.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status without waiting for the ticker.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	h.noteTransition(status, reason)
	return h.publish(status, reason)
}

func (h *HealthReporter) run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := h.PublishNow(); err != nil {
			h.warn("failed to publish health", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// determineStatus checks the broker first: without it nobody sees the
// report anyway.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	switch {
	case h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected():
		return HealthDegraded, "MQTT disconnected"
	case !h.linkUp():
		return HealthDegraded, "table disconnected"
	default:
		return HealthHealthy, ""
	}
}

func (h *HealthReporter) linkUp() bool {
	return h.cfg.Link != nil && h.cfg.Link.IsConnected()
}

// noteTransition logs when the status differs from the previous report.
func (h *HealthReporter) noteTransition(status HealthStatus, reason string) {
	h.mu.Lock()
	prev := h.last
	h.last = status
	logger := h.logger
	h.mu.Unlock()

	if logger != nil && prev != "" && prev != status {
		logger.Info("table health changed", "from", prev, "to", status, "reason", reason)
	}
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	now := time.Now().UTC()

	link := ConnectionStatus{Status: "disconnected", Transport: h.cfg.Transport}
	if h.linkUp() {
		link.Status = "connected"
	}

	msg := HealthMessage{
		Bridge:         BridgeID,
		Timestamp:      now,
		Status:         status,
		Version:        h.cfg.Version,
		UptimeSeconds:  int64(now.Sub(h.started).Seconds()),
		DevicesManaged: len(table.Devices()),
		Reason:         reason,
		Connection:     &link,
	}
	if h.cfg.Stats != nil {
		stats := h.cfg.Stats()
		msg.Statistics = &stats
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(mqtt.Topics{}.TableHealth(), payload, 1, true)
}

func (h *HealthReporter) warn(msg string, err error) {
	h.mu.Lock()
	logger := h.logger
	h.mu.Unlock()

	if logger != nil {
		logger.Warn(msg, "error", err)
	}
}
