// Package cli is the wsserver command line.
//
// Flags:
//
//	--address                      IPv4 bind address
//	--port                         bind port (0-65535)
//	--websocket-compression-level  deflate level, default 1, forwarded unchanged
//	--cert-file / --key-file       both serve wss://, neither serves ws://
//	--config                       optional YAML file (see package config)
//	--log-level                    debug|info|warn|error
//	--version                      print Version and exit
//
// Flags set on the command line override the config file. Exit codes are
// ExitOK on clean shutdown, ExitError for configuration and runtime errors,
// and ExitUsage for malformed flags.
package cli
