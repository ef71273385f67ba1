package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/obsidianstack/wsserver/server/internal/cli"
	"github.com/obsidianstack/wsserver/server/internal/config"
	"github.com/obsidianstack/wsserver/server/internal/launch"
	"github.com/obsidianstack/wsserver/server/internal/ws"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], newRuntime, os.Stdout, os.Stderr))
}

func newRuntime(cfg config.ServerConfig, logger *slog.Logger) launch.Runtime {
	return ws.New(runtimeOptions(cfg, logger))
}

// runtimeOptions maps the merged server config onto the WebSocket runtime.
// Compression level and TLS material are not here; the configurator passes
// them to RunPlain/RunSecure directly.
func runtimeOptions(cfg config.ServerConfig, logger *slog.Logger) ws.Options {
	opts := ws.Options{
		Path:       cfg.Path,
		AuthMode:   cfg.Auth.Mode,
		AuthHeader: cfg.Auth.EffectiveHeader(),
		AuthKey:    cfg.Auth.Key(),
		Logger:     logger,
		Hub: ws.HubOptions{
			ReadLimit:      cfg.ReadLimit,
			PingInterval:   cfg.PingInterval,
			SendBuffer:     cfg.SendBuffer,
			RateLimit:      cfg.RateLimit,
			RateBurst:      cfg.EffectiveBurst(),
			AllowedOrigins: cfg.AllowedOrigins,
		},
	}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
	}
	if opts.AuthMode == "apikey" && opts.AuthKey == "" {
		logger.Warn("auth.mode is apikey but no key is set; authentication disabled",
			"key_env", cfg.Auth.KeyEnv)
	}
	return opts
}
