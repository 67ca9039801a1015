package influxdb

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/geomodel-core/internal/infrastructure/config"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "geomodel-dev-token",
		Org:           "emriver",
		Bucket:        "table",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test unless RUN_INTEGRATION is set and a
// server answers.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION to run against a local InfluxDB")
	}
	client, err := Connect(context.Background(), testConfig(), "test-lab")
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	client.Close() //nolint:errcheck // construction check only
}

func lineProtocol(p *write.Point) string {
	return write.PointToLineProtocol(p, time.Nanosecond)
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := Connect(context.Background(), cfg, "test-lab"); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	if _, err := Connect(context.Background(), cfg, "test-lab"); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Connect(ctx, testConfig(), ""); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Twice(t *testing.T) {
	c := &Client{}
	for i := 0; i < 2; i++ {
		if err := c.Close(); err != nil {
			t.Errorf("Close() #%d error = %v", i+1, err)
		}
	}
}

func TestDrainErrors_CountsAndReports(t *testing.T) {
	c := &Client{}
	var reported []error
	c.SetOnError(func(err error) { reported = append(reported, err) })

	errs := make(chan error, 2)
	errs <- errors.New("batch rejected")
	errs <- errors.New("timeout")
	close(errs)
	c.drainErrors(errs)

	if len(reported) != 2 {
		t.Errorf("reported %d errors, want 2", len(reported))
	}
	if n := c.Stats().WriteErrors; n != 2 {
		t.Errorf("Stats().WriteErrors = %d, want 2", n)
	}
}

func TestResponsePoint(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	line := lineProtocol(responsePoint("pitch", "OK", 1.5, 3, ts))

	for _, want := range []string{"table_response,", "device=pitch", "status=OK", "value=1.5", "seconds=3i"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if !strings.HasSuffix(strings.TrimSpace(line), "1772355600000000000") {
		t.Errorf("line %q has wrong timestamp", line)
	}
}

func TestRequestPoint(t *testing.T) {
	line := lineProtocol(requestPoint("unknown", "STOP", "mqtt", "sent", 0, time.Now()))
	for _, want := range []string{"table_request,", "device=unknown", "origin=mqtt", "outcome=sent", "verb=STOP"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestLinkPoint(t *testing.T) {
	line := lineProtocol(linkPoint("udp", 10, 9, 1, time.Now()))
	for _, want := range []string{"table_link,transport=udp", "sent=10u", "received=9u", "errors=1u"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestWrites_DisconnectedAreNoops(t *testing.T) {
	c := &Client{}
	c.WriteDeviceResponse("pitch", "OK", 1, 0, time.Now())
	c.WriteRequest("pitch", "SET", "api", "sent", 1)
	c.WriteLinkStats("udp", 1, 1, 0)
	c.Flush()

	if stats := c.Stats(); stats.Connected || stats.Points != 0 {
		t.Errorf("Stats() = %+v, want nothing written", stats)
	}

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestRoundTrip_LocalServer(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := Connect(context.Background(), testConfig(), "test-lab")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // test cleanup

	var writeErr error
	client.SetOnError(func(err error) { writeErr = err })
	client.WriteDeviceResponse("pump", "OK", 300, 0, time.Now())
	client.Flush()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if stats := client.Stats(); stats.Points != 1 {
		t.Errorf("Stats().Points = %d, want 1", stats.Points)
	}
	if writeErr != nil {
		t.Errorf("async write error = %v", writeErr)
	}
}
