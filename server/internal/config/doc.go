// Package config loads the optional server config file (`server:` section).
//
// Config fields:
//   - Address, Port, CompressionLevel, CertFile, KeyFile: launch parameters,
//     overridden by command-line flags when those are set
//   - LogLevel: debug | info | warn | error (default info)
//   - Path: WebSocket mount point (default "/")
//   - ReadLimit: max inbound message size (default 64 KiB)
//   - PingInterval: ping frame period (default 54s)
//   - SendBuffer: per-client queue depth (default 16)
//   - RateLimit: per-client messages/s, 0 = unlimited
//   - Metrics: Prometheus endpoint (enabled, "/metrics")
//   - Auth.Mode: "apikey" or "none"; key read from Auth.KeyEnv
//
// Load(path) applies defaults before unmarshalling, then validates the file.
// Validate(cfg) additionally requires address and port after flags are merged.
package config
