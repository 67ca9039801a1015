package emriver

import (
	"errors"
	"strings"
	"time"

	"github.com/nerrad567/geomodel-core/internal/table"
)

// BridgeID identifies this bridge in health messages.
const BridgeID = "emriver-table"

// allDevicesSegment is the topic segment addressing the whole table.
const allDevicesSegment = "all"

// CommandMessage is a table command received over MQTT on
// geomodel/command/table/{device}. The device comes from the topic.
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. Optional.
	ID string `json:"id,omitempty"`

	// Timestamp is when the sender issued the command. Optional.
	Timestamp time.Time `json:"timestamp,omitempty"`

	// Command is SET, GET or STOP (case-insensitive).
	Command string `json:"command"`

	// Value is the SET target in the device unit.
	Value float64 `json:"value,omitempty"`

	// Seconds is the time the table should take to reach Value.
	Seconds int `json:"seconds,omitempty"`

	// Source names the sender (panel, script host, operator console).
	Source string `json:"source,omitempty"`
}

// Request converts the message to a table request for the given device.
// The result is not validated.
func (m CommandMessage) Request(device table.Device) table.Request {
	return table.Request{
		Verb:    table.ParseVerb(m.Command),
		Device:  device,
		Value:   m.Value,
		Seconds: m.Seconds,
	}
}

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	// AckAccepted means the request was validated and handed to the table.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the request was rejected before reaching the table.
	AckFailed AckStatus = "failed"
)

// Error codes carried in AckError.Code.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeUnknownDevice     = "UNKNOWN_DEVICE"
	ErrCodeOutOfRange        = "OUT_OF_RANGE"
	ErrCodeNotConnected      = "TABLE_DISCONNECTED"
)

// AckMessage acknowledges a command on geomodel/ack/table/{device}.
type AckMessage struct {
	CommandID string    `json:"command_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Device    string    `json:"device"`
	Command   string    `json:"command,omitempty"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes why a command failed.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ackCode maps a submit error to an acknowledgement code.
func ackCode(err error) string {
	switch {
	case errors.Is(err, table.ErrInvalidVerb), errors.Is(err, ErrInvalidCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, table.ErrUnknownDevice), errors.Is(err, ErrInvalidTopic):
		return ErrCodeUnknownDevice
	case errors.Is(err, table.ErrOutOfRange):
		return ErrCodeOutOfRange
	case errors.Is(err, table.ErrNotConnected):
		return ErrCodeNotConnected
	default:
		return ErrCodeInvalidParameters
	}
}

// StateMessage is the retained state published on
// geomodel/state/table/{device} and broadcast to WebSocket clients.
type StateMessage struct {
	Device    string       `json:"device"`
	Name      string       `json:"name"`
	Timestamp time.Time    `json:"timestamp"`
	Status    table.Status `json:"status"`
	Value     float64      `json:"value"`
	Seconds   int          `json:"seconds"`
	Unit      string       `json:"unit"`
}

// NewStateMessage builds a state message from a cached response.
func NewStateMessage(resp table.Response, ts time.Time) StateMessage {
	return StateMessage{
		Device:    resp.Device.Slug(),
		Name:      resp.Device.String(),
		Timestamp: ts.UTC(),
		Status:    resp.Status,
		Value:     resp.Value,
		Seconds:   resp.Seconds,
		Unit:      resp.Device.Range().Unit,
	}
}

// HealthStatus is the bridge health state.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained health report on geomodel/health/table.
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version,omitempty"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Statistics     *Statistics       `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// ConnectionStatus reports the table link.
type ConnectionStatus struct {
	Status    string `json:"status"`
	Transport string `json:"transport,omitempty"`
}

// Statistics is a snapshot of bridge counters.
type Statistics struct {
	StateChanges     uint64 `json:"state_changes"`
	CommandsReceived uint64 `json:"commands_received"`
	RequestsSent     uint64 `json:"requests_sent"`
	RequestsRejected uint64 `json:"requests_rejected"`
	RequestsIgnored  uint64 `json:"requests_ignored"`
	ResponsesCached  uint64 `json:"responses_cached"`
	ResponsesDropped uint64 `json:"responses_dropped"`
}

// deviceSegment is the topic segment for a device.
func deviceSegment(d table.Device) string {
	if d == table.Unknown {
		return allDevicesSegment
	}
	return d.Slug()
}

// parseTopicDevice extracts the device from a command topic
// (geomodel/command/table/{device}).
func parseTopicDevice(topic string) (table.Device, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[1] != "command" || parts[2] != "table" || parts[3] == "" {
		return table.Unknown, ErrInvalidTopic
	}
	if parts[3] == allDevicesSegment {
		return table.Unknown, nil
	}
	d, err := table.ParseDevice(parts[3])
	if err != nil {
		return table.Unknown, errors.Join(ErrInvalidTopic, err)
	}
	return d, nil
}
