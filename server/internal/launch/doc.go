// Package launch turns the user-supplied launch parameters into a resolved
// startup configuration and hands control to the WebSocket runtime.
//
// Resolve(Params) validates and resolves the inputs:
//   - ResolveAddress: "<address>:<port>" bind endpoint
//   - ResolveCompressionLevel: supplied level, or DefaultCompressionLevel (1)
//   - ResolveTransportMode: Plain, Secure(cert, key), or *ConfigError when
//     only one half of the TLS material is given
//
// Launch(ctx, cfg, mode, rt, stdout) prints one startup line naming the scheme
// (ws:// or wss://) and endpoint, then calls exactly one Runtime entry point.
// It blocks until the runtime returns.
//
// Compression levels are forwarded as-is; range checks belong to the runtime.
package launch
