package emriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/geomodel-core/internal/table"
)

func TestParseTopicDevice(t *testing.T) {
	tests := []struct {
		topic   string
		want    table.Device
		wantErr bool
	}{
		{"geomodel/command/table/pitch", table.Pitch, false},
		{"geomodel/command/table/lower", table.DownPipe, false},
		{"geomodel/command/table/4", table.Pump, false},
		{"geomodel/command/table/all", table.Unknown, false},
		{"geomodel/command/table/valve", table.Unknown, true},
		{"geomodel/command/table/", table.Unknown, true},
		{"geomodel/state/table/pitch", table.Unknown, true},
		{"geomodel/command/table/pitch/extra", table.Unknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := parseTopicDevice(tt.topic)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTopic) {
					t.Errorf("error = %v, want ErrInvalidTopic", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("device = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAckCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: x", table.ErrInvalidVerb), ErrCodeInvalidCommand},
		{ErrInvalidCommand, ErrCodeInvalidCommand},
		{errors.Join(ErrInvalidTopic, table.ErrUnknownDevice), ErrCodeUnknownDevice},
		{fmt.Errorf("%w: pitch 9", table.ErrOutOfRange), ErrCodeOutOfRange},
		{table.ErrNotConnected, ErrCodeNotConnected},
		{table.ErrInvalidSeconds, ErrCodeInvalidParameters},
	}

	for _, tt := range tests {
		if got := ackCode(tt.err); got != tt.want {
			t.Errorf("ackCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestCommandMessage_Request(t *testing.T) {
	var msg CommandMessage
	if err := json.Unmarshal([]byte(`{"id":"c9","command":" set ","value":450,"seconds":12}`), &msg); err != nil {
		t.Fatal(err)
	}

	req := msg.Request(table.Pump)
	want := table.NewSet(table.Pump, 450, 12)
	if req != want {
		t.Errorf("Request() = %+v, want %+v", req, want)
	}
}

func TestNewStateMessage(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	msg := NewStateMessage(table.Response{Device: table.UpPipe, Status: table.StatusOK, Value: 55, Seconds: 2}, ts)

	if msg.Device != "uppipe" || msg.Name != "Upper" || msg.Unit != "mm" {
		t.Errorf("identity = %s/%s/%s", msg.Device, msg.Name, msg.Unit)
	}
	if msg.Timestamp.Location() != time.UTC || msg.Timestamp.Hour() != 9 {
		t.Errorf("timestamp = %v, want 09:00 UTC", msg.Timestamp)
	}
}

type linkState bool

func (l linkState) IsConnected() bool { return bool(l) }

func TestHealthReporter_DetermineStatus(t *testing.T) {
	connected := newMockMQTTClient()
	offline := newMockMQTTClient()
	offline.connected = false

	tests := []struct {
		name       string
		publisher  HealthPublisher
		link       LinkChecker
		wantStatus HealthStatus
		wantReason string
	}{
		{"healthy", connected, linkState(true), HealthHealthy, ""},
		{"mqtt down", offline, linkState(true), HealthDegraded, "MQTT disconnected"},
		{"table down", connected, linkState(false), HealthDegraded, "table disconnected"},
		{"no link", connected, nil, HealthDegraded, "table disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthReporter(HealthReporterConfig{Publisher: tt.publisher, Link: tt.link})
			status, reason := h.determineStatus()
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("determineStatus() = %s/%q, want %s/%q", status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_PublishNow(t *testing.T) {
	pub := newMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		Version:   "1.2.3",
		Transport: "serial",
		Publisher: pub,
		Link:      linkState(true),
		Stats:     func() Statistics { return Statistics{RequestsSent: 3} },
	})

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	pubs := pub.onTopic("geomodel/health/table")
	if len(pubs) != 1 {
		t.Fatalf("health publishes = %d, want 1", len(pubs))
	}
	var msg HealthMessage
	if err := json.Unmarshal(pubs[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Bridge != BridgeID || msg.Status != HealthHealthy || msg.Version != "1.2.3" {
		t.Errorf("health = %+v", msg)
	}
	if msg.Connection == nil || msg.Connection.Status != "connected" || msg.Connection.Transport != "serial" {
		t.Errorf("connection = %+v", msg.Connection)
	}
	if msg.Statistics == nil || msg.Statistics.RequestsSent != 3 {
		t.Errorf("statistics = %+v", msg.Statistics)
	}
	if msg.DevicesManaged != len(table.Devices()) {
		t.Errorf("devices managed = %d", msg.DevicesManaged)
	}
}

func TestHealthReporter_NoPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher error = %v", err)
	}
	h.Stop()
}

func TestHealthReporter_StartStop(t *testing.T) {
	pub := newMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{Publisher: pub, Link: linkState(true), Interval: time.Hour})

	h.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for len(pub.onTopic("geomodel/health/table")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no initial health report")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.Stop()
	h.Stop()

	pubs := pub.onTopic("geomodel/health/table")
	var last HealthMessage
	if err := json.Unmarshal(pubs[len(pubs)-1].Payload, &last); err != nil {
		t.Fatal(err)
	}
	if last.Status != HealthStopping || !pubs[len(pubs)-1].Retained {
		t.Errorf("final report = %s (retained %v), want retained stopping", last.Status, pubs[len(pubs)-1].Retained)
	}
}

type transitionLogger struct {
	infos []string
}

func (l *transitionLogger) Debug(string, ...any)      {}
func (l *transitionLogger) Info(msg string, _ ...any) { l.infos = append(l.infos, msg) }
func (l *transitionLogger) Warn(string, ...any)       {}
func (l *transitionLogger) Error(string, ...any)      {}

func TestHealthReporter_LogsTransitions(t *testing.T) {
	pub := newMockMQTTClient()
	link := linkState(true)
	h := NewHealthReporter(HealthReporterConfig{Publisher: pub, Link: &link})
	logger := &transitionLogger{}
	h.SetLogger(logger)

	//nolint:errcheck // mock publisher never fails
	h.PublishNow()
	//nolint:errcheck // as above
	h.PublishNow()
	if len(logger.infos) != 0 {
		t.Fatalf("logged %v without a change", logger.infos)
	}

	link = false
	//nolint:errcheck // as above
	h.PublishNow()
	if len(logger.infos) != 1 {
		t.Errorf("logged %v, want one transition", logger.infos)
	}
}
