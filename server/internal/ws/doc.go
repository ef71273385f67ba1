// Package ws implements the WebSocket server runtime.
//
// Runtime satisfies launch.Runtime: RunPlain serves ws://, RunSecure serves
// wss:// with a hot-reloaded key pair. Both block until ctx is cancelled,
// then shut the HTTP server down gracefully and close every connection.
//
// Routes on the listener:
//
//	<Path>         WebSocket relay hub (default "/")
//	/api/v1/*      status API (see package api)
//	<MetricsPath>  Prometheus metrics, when configured
//
// Hub relays every text or binary message a client sends to all other
// connected clients. Each client has a buffered send queue; clients that fall
// behind are disconnected. A non-zero compression level enables
// permessage-deflate negotiation and sets the per-connection deflate level;
// levels outside [-2, 9] are rejected by gorilla/websocket, logged, and the
// library default is used instead.
//
// The upgrader accepts all origins unless HubOptions.AllowedOrigins is set.
package ws
