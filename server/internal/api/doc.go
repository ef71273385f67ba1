// Package api implements the HTTP status API served next to the WebSocket
// endpoint.
//
// New(status) returns an http.Handler that serves:
//
//	GET /api/v1/health   liveness probe, {"status":"ok"}
//	GET /api/v1/status   resolved launch settings, client count, uptime and,
//	                     for wss:// listeners, the served certificate
//
// All endpoints respond with Content-Type: application/json and return 405
// for non-GET methods. No external HTTP framework is used.
package api
