package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/geomodel-core/internal/bridges/emriver"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/geomodel-core/internal/table"
)

// SystemMetrics is the /metrics body. Optional sections are omitted when
// the component is not configured.
type SystemMetrics struct {
	Timestamp     string                `json:"timestamp"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Runtime       RuntimeMetrics        `json:"runtime"`
	WebSocket     WSMetrics             `json:"websocket"`
	Table         table.ControllerStats `json:"table"`
	Bridge        *emriver.Statistics   `json:"bridge,omitempty"`
	MQTT          *mqtt.Stats           `json:"mqtt,omitempty"`
	InfluxDB      *influxdb.Stats       `json:"influxdb,omitempty"`
	Database      *DatabaseMetrics      `json:"database,omitempty"`
}

// RuntimeMetrics are Go runtime figures. Memory is in MiB.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics describes the WebSocket hub.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedMessages  uint64 `json:"dropped_messages"`
}

// DatabaseMetrics is the SQLite connection pool.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

const mib = 1 << 20

func readRuntimeMetrics() RuntimeMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(m.Alloc) / mib,
		MemoryTotalMB: float64(m.TotalAlloc) / mib,
		NumGC:         m.NumGC,
	}
}

func poolMetrics(db *sql.DB) *DatabaseMetrics {
	if db == nil {
		return nil
	}
	st := db.Stats()
	return &DatabaseMetrics{
		OpenConnections: st.OpenConnections,
		InUse:           st.InUse,
		Idle:            st.Idle,
		WaitCount:       st.WaitCount,
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	m := SystemMetrics{
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(now.Sub(s.startTime).Seconds()),
		Runtime:       readRuntimeMetrics(),
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			DroppedMessages:  s.hub.Dropped(),
		},
		Table:    s.controller.Stats(),
		Database: poolMetrics(s.db),
	}
	if s.bridge != nil {
		st := s.bridge.Stats()
		m.Bridge = &st
	}
	if s.mqtt != nil {
		st := s.mqtt.Stats()
		m.MQTT = &st
	}
	if s.influx != nil {
		st := s.influx.Stats()
		m.InfluxDB = &st
	}
	writeJSON(w, http.StatusOK, m)
}
