// Package api provides the HTTP REST API and WebSocket server for the
// GeoModel table service.
//
// It exposes the controller cache, request submission, response history,
// the request log and the command script to operator consoles and the
// classroom display. All routes live under /api/v1:
//
//	GET  /health                         liveness and table link state
//	GET  /metrics                        runtime, link and bridge counters
//	GET  /table                          link state and every cached device
//	POST /table/connect                  open the link (reseeds the cache)
//	POST /table/disconnect               close the link
//	GET  /table/devices[/{device}]       cached responses
//	GET  /table/devices/{device}/history recorded responses, newest first
//	GET  /table/requests                 request log (origin, outcome filters)
//	POST /table/requests                 submit SET/GET/STOP
//	GET  /script, PUT /script            runner status, load YAML script
//	POST /script/{start,pause,resume,reset}
//	GET  /ws                             WebSocket, channel table.state_changed
//
// When api.auth.jwt_secret is set, every route except /health needs an HS256
// bearer token (tablectl token mints one).
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
