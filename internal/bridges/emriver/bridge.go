package emriver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/geomodel-core/internal/history"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/geomodel-core/internal/table"
)

// Bridge operation constants.
const (
	// DefaultPollInterval is used when Options.PollInterval is zero.
	DefaultPollInterval = 250 * time.Millisecond

	// ChannelStateChanged is the WebSocket channel carrying StateMessages.
	ChannelStateChanged = "table.state_changed"

	// storeTimeout bounds each history or request log write.
	storeTimeout = 5 * time.Second

	// pruneInterval is how often old history is removed.
	pruneInterval = time.Hour

	// linkStatsEvery is the number of polls between link telemetry points.
	linkStatsEvery = 40
)

// Controller is the part of *table.Controller the bridge uses.
type Controller interface {
	CurrentValues() []table.Response
	SendRequest(req table.Request)
	IsConnected() bool
	Stats() table.ControllerStats
}

// MQTTClient is the interface for MQTT operations. *mqtt.Client satisfies it.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// TelemetryWriter receives time-series points. *influxdb.Client satisfies it.
type TelemetryWriter interface {
	WriteDeviceResponse(device, status string, value float64, seconds int, ts time.Time)
	WriteRequest(device, verb, origin, outcome string, value float64)
	WriteLinkStats(transport string, sent, received, errors uint64)
}

// Broadcaster pushes events to WebSocket clients. *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds the collaborators for a bridge. Only Controller is required;
// every other sink is skipped when nil.
type Options struct {
	Controller  Controller
	MQTT        MQTTClient
	Telemetry   TelemetryWriter
	History     history.Repository
	RequestLog  history.RequestLog
	Broadcaster Broadcaster

	// PollInterval is how often the cache is sampled. Default: 250ms.
	PollInterval time.Duration

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// RetentionDays prunes history older than this many days. Zero keeps all.
	RetentionDays int

	// Transport and Version are reported in health messages.
	Transport string
	Version   string

	Logger Logger
}

// Bridge connects the table controller to the rest of the system.
// It samples the controller cache and fans every change out to MQTT,
// InfluxDB, SQLite history and WebSocket clients. It accepts commands
// from MQTT, the API and scripts through Submit.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	ctrl        Controller
	mqtt        MQTTClient
	telemetry   TelemetryWriter
	history     history.Repository
	requests    history.RequestLog
	broadcaster Broadcaster
	health      *HealthReporter
	topics      mqtt.Topics

	pollInterval time.Duration
	retention    time.Duration
	transport    string
	now          func() time.Time

	// State cache for change detection
	lastSeen   map[table.Device]table.Response
	lastSeenMu sync.Mutex
	polls      uint64

	stateChanges     atomic.Uint64
	commandsReceived atomic.Uint64
	requestsSent     atomic.Uint64
	requestsRejected atomic.Uint64
	requestsIgnored  atomic.Uint64

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger Logger
}

// NewBridge creates a bridge. Call Start to begin polling and command handling.
//
// Parameters:
//   - opts: Bridge collaborators and intervals
//
// Returns:
//   - *Bridge: Ready to start
//   - error: ErrMissingController if opts.Controller is nil
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Controller == nil {
		return nil, ErrMissingController
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		ctrl:         opts.Controller,
		mqtt:         opts.MQTT,
		telemetry:    opts.Telemetry,
		history:      opts.History,
		requests:     opts.RequestLog,
		broadcaster:  opts.Broadcaster,
		pollInterval: poll,
		retention:    time.Duration(opts.RetentionDays) * 24 * time.Hour,
		transport:    opts.Transport,
		now:          time.Now,
		lastSeen:     make(map[table.Device]table.Response),
		done:         make(chan struct{}),
		ctx:          ctx,
		ctxCancel:    cancel,
		logger:       opts.Logger,
	}
	for _, d := range table.Devices() {
		b.lastSeen[d] = table.Uninitialized(d)
	}

	var publisher HealthPublisher
	if opts.MQTT != nil {
		publisher = opts.MQTT
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Transport: opts.Transport,
		Interval:  opts.HealthInterval,
		Publisher: publisher,
		Link:      opts.Controller,
		Stats:     b.Stats,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to table commands and starts the poll, prune and
// health loops.
//
// Parameters:
//   - ctx: Context for cancellation (loops stop when cancelled)
//
// Returns:
//   - error: ErrSubscribeFailed if the command subscription fails
func (b *Bridge) Start(ctx context.Context) error {
	b.logInfo("starting table bridge", "poll_interval", b.pollInterval.String(), "transport", b.transport)

	if b.mqtt != nil {
		if err := b.health.PublishStarting(); err != nil {
			b.logError("failed to publish starting status", err)
		}
		if err := b.mqtt.Subscribe(b.topics.AllTableCommands(), 1, b.handleMQTTMessage); err != nil {
			return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
		}
		b.health.Start(ctx)
	}

	b.wg.Add(1)
	go b.pollLoop(ctx)

	if b.history != nil && b.retention > 0 {
		b.wg.Add(1)
		go b.pruneLoop(ctx)
	}

	b.logInfo("table bridge started")
	return nil
}

// Stop shuts the bridge down and waits for its loops to exit.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.logInfo("stopping table bridge")

		b.ctxCancel()
		close(b.done)
		b.wg.Wait()

		if b.mqtt != nil {
			b.health.Stop()
		}

		b.logInfo("table bridge stopped")
	})
}

// Submit validates a request and hands it to the controller. Every
// attempt is recorded in the request log and telemetry with its origin.
//
// Parameters:
//   - ctx: Context for the request log write
//   - req: Request to send
//   - origin: history.OriginMQTT, OriginAPI or OriginScript
//
// Returns:
//   - error: the validation error, or table.ErrNotConnected when the
//     controller is disconnected and the request was dropped
func (b *Bridge) Submit(ctx context.Context, req table.Request, origin string) error {
	if err := req.Validate(); err != nil {
		b.requestsRejected.Add(1)
		b.recordRequest(ctx, req, origin, history.OutcomeRejected, err.Error())
		b.logDebug("request rejected", "request", req.String(), "origin", origin, "error", err)
		return err
	}

	if !b.ctrl.IsConnected() {
		b.requestsIgnored.Add(1)
		b.recordRequest(ctx, req, origin, history.OutcomeIgnored, "table disconnected")
		return fmt.Errorf("%w: %s dropped", table.ErrNotConnected, req.Verb)
	}

	b.ctrl.SendRequest(req)
	b.requestsSent.Add(1)
	b.recordRequest(ctx, req, origin, history.OutcomeSent, "")
	return nil
}

// Sender adapts Submit to script.RequestSender for one origin.
type Sender struct {
	bridge *Bridge
	origin string
}

// SenderFor returns a RequestSender that submits with the given origin.
func (b *Bridge) SenderFor(origin string) *Sender {
	return &Sender{bridge: b, origin: origin}
}

// SendRequest submits the request. Failures are recorded, not returned.
func (s *Sender) SendRequest(req table.Request) {
	//nolint:errcheck // outcome is recorded in the request log
	s.bridge.Submit(s.bridge.ctx, req, s.origin)
}

// Stats returns a snapshot of bridge and controller counters.
func (b *Bridge) Stats() Statistics {
	cs := b.ctrl.Stats()
	return Statistics{
		StateChanges:     b.stateChanges.Load(),
		CommandsReceived: b.commandsReceived.Load(),
		RequestsSent:     b.requestsSent.Load(),
		RequestsRejected: b.requestsRejected.Load(),
		RequestsIgnored:  b.requestsIgnored.Load(),
		ResponsesCached:  cs.Updates,
		ResponsesDropped: cs.Dropped,
	}
}

func (b *Bridge) pollLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.poll()
		}
	}
}

// poll samples the controller cache once and publishes every change.
// It returns the number of changed devices.
func (b *Bridge) poll() int {
	now := b.now()
	changed := b.detectChanges(b.ctrl.CurrentValues())
	for _, resp := range changed {
		b.publishState(resp, now)
	}

	b.lastSeenMu.Lock()
	b.polls++
	due := b.polls%linkStatsEvery == 0
	b.lastSeenMu.Unlock()

	if due && b.telemetry != nil {
		s := b.Stats()
		b.telemetry.WriteLinkStats(b.transport, s.RequestsSent, s.ResponsesCached, s.ResponsesDropped)
	}
	return len(changed)
}

// detectChanges returns the responses that differ from the last poll and
// remembers them.
func (b *Bridge) detectChanges(values []table.Response) []table.Response {
	b.lastSeenMu.Lock()
	defer b.lastSeenMu.Unlock()

	var changed []table.Response
	for _, resp := range values {
		if prev, ok := b.lastSeen[resp.Device]; ok && sameResponse(prev, resp) {
			continue
		}
		b.lastSeen[resp.Device] = resp
		changed = append(changed, resp)
	}
	return changed
}

// sameResponse compares like ==, except that two NaN values are equal.
func sameResponse(a, b table.Response) bool {
	if math.IsNaN(a.Value) && math.IsNaN(b.Value) {
		a.Value, b.Value = 0, 0
	}
	return a == b
}

// publishState fans one changed response out to every configured sink.
// Seeded placeholders go to MQTT and WebSocket only.
func (b *Bridge) publishState(resp table.Response, ts time.Time) {
	b.stateChanges.Add(1)
	msg := NewStateMessage(resp, ts)

	if b.mqtt != nil && b.mqtt.IsConnected() {
		payload, err := json.Marshal(msg)
		if err != nil {
			b.logError("failed to marshal state", err, "device", msg.Device)
		} else if err := b.mqtt.Publish(b.topics.TableState(msg.Device), payload, 1, true); err != nil {
			b.logError("failed to publish state", err, "device", msg.Device)
		}
	}

	if b.broadcaster != nil {
		b.broadcaster.Broadcast(ChannelStateChanged, msg)
	}

	if resp.Status == table.StatusUninitialized {
		return
	}

	if b.telemetry != nil {
		b.telemetry.WriteDeviceResponse(msg.Device, string(resp.Status), resp.Value, resp.Seconds, ts)
	}

	if b.history != nil {
		entry := history.NewEntry(resp, history.SourcePoll)
		entry.RecordedAt = ts.UTC()

		ctx, cancel := context.WithTimeout(b.ctx, storeTimeout)
		if err := b.history.Record(ctx, entry); err != nil {
			b.logError("failed to record history", err, "device", msg.Device)
		}
		cancel()
	}
}

// handleMQTTMessage processes a command published on geomodel/command/table/{device}.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	b.commandsReceived.Add(1)

	var msg CommandMessage
	device, err := parseTopicDevice(topic)
	if err == nil {
		if jerr := json.Unmarshal(payload, &msg); jerr != nil {
			err = fmt.Errorf("%w: %w", ErrInvalidCommand, jerr)
		}
	}

	segment := topicSegment(topic)
	if err != nil {
		b.requestsRejected.Add(1)
		b.logDebug("invalid table command", "topic", topic, "error", err)
		b.publishAck(segment, msg, err)
		return
	}

	err = b.Submit(b.ctx, msg.Request(device), history.OriginMQTT)
	b.publishAck(deviceSegment(device), msg, err)
}

// publishAck publishes the outcome of a command. A nil err means accepted.
func (b *Bridge) publishAck(segment string, msg CommandMessage, err error) {
	if b.mqtt == nil {
		return
	}

	ack := AckMessage{
		CommandID: msg.ID,
		Timestamp: b.now().UTC(),
		Device:    segment,
		Command:   string(table.ParseVerb(msg.Command)),
		Status:    AckAccepted,
	}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = &AckError{Code: ackCode(err), Message: err.Error()}
	}

	payload, merr := json.Marshal(ack)
	if merr != nil {
		b.logError("failed to marshal ack", merr)
		return
	}
	if perr := b.mqtt.Publish(b.topics.TableAck(segment), payload, 1, false); perr != nil {
		b.logError("failed to publish ack", perr, "device", segment)
	}
}

// recordRequest writes one request outcome to telemetry and the request log.
func (b *Bridge) recordRequest(ctx context.Context, req table.Request, origin, outcome, detail string) {
	if b.telemetry != nil {
		b.telemetry.WriteRequest(deviceSegment(req.Device), string(req.Verb), origin, outcome, req.Value)
	}

	if b.requests == nil {
		return
	}
	if ctx == nil {
		ctx = b.ctx
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := b.requests.Create(ctx, history.NewRequestRecord(req, origin, outcome, detail)); err != nil {
		b.logError("failed to record request", err, "origin", origin, "outcome", outcome)
	}
}

func (b *Bridge) pruneLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	b.prune()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.prune()
		}
	}
}

func (b *Bridge) prune() {
	ctx, cancel := context.WithTimeout(b.ctx, storeTimeout)
	defer cancel()

	n, err := b.history.Prune(ctx, b.retention)
	if err != nil {
		b.logError("failed to prune history", err)
		return
	}
	if n > 0 {
		b.logInfo("pruned response history", "removed", n, "older_than", b.retention.String())
	}
}

// topicSegment returns the last topic level, or "unknown" when it is empty.
func topicSegment(topic string) string {
	seg := topic[strings.LastIndex(topic, "/")+1:]
	if seg == "" {
		return "unknown"
	}
	return seg
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *Bridge) logDebug(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}

func (b *Bridge) logError(msg string, err error, args ...any) {
	if b.logger != nil {
		b.logger.Error(msg, append([]any{"error", err}, args...)...)
	}
}
