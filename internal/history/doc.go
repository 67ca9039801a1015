// Package history keeps a local record of table activity in SQLite.
//
// Two tables back it, both created by the embedded migrations:
//   - response_history: every device response the bridge saw change,
//     queryable per device newest first and pruned by retention age.
//   - request_log: every request submitted over MQTT, the HTTP API or a
//     script, with whether it was sent or rejected.
//
// The history survives InfluxDB outages, which is what the HTTP history
// endpoint reads from.
package history
