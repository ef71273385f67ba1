// Package certs serves the TLS key pair for wss:// listeners.
//
// Load(cert, key) reads the pair up front so bad material fails the launch.
// Reloader.GetCertificate plugs into tls.Config; Reloader.Watch uses fsnotify
// on the parent directories and swaps the pair when either file is written or
// replaced. A failed reload keeps the previous pair.
package certs
