// Package emriver bridges the EMRiver table controller to the rest of GeoModel.
//
// The controller keeps the latest response per device in a cache that never
// notifies anyone. The bridge samples that cache on a fixed interval and
// publishes every change:
//
//	┌──────────────┐  poll   ┌──────────────┐  MQTT state / ack / health
//	│  Controller  │◄───────►│    Bridge    │──────────────────────────► broker
//	│   (cache)    │ request │  (this pkg)  │──► InfluxDB, SQLite history
//	└──────────────┘         └──────────────┘──► WebSocket hub
//
// # Topics
//
//   - geomodel/state/table/{device}    retained StateMessage per device
//   - geomodel/command/table/{device}  CommandMessage in ({device} may be "all")
//   - geomodel/ack/table/{device}      AckMessage out
//   - geomodel/health/table            retained HealthMessage
//
// # Commands
//
// MQTT commands, API calls and scripts all go through Submit, which validates
// the request, drops it when the table is disconnected, and records the
// outcome in the request log.
//
//	err := bridge.Submit(ctx, table.NewSet(table.Pump, 300, 5), history.OriginAPI)
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package emriver
