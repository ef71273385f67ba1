package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/obsidianstack/wsserver/server/internal/config"
	"github.com/obsidianstack/wsserver/server/internal/launch"
)

// Exit codes returned by Execute.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// Flag names.
const (
	flagAddress          = "address"
	flagPort             = "port"
	flagCompressionLevel = "websocket-compression-level"
	flagCertFile         = "cert-file"
	flagKeyFile          = "key-file"
	flagConfig           = "config"
	flagLogLevel         = "log-level"
)

// Version is reported by --version. Release builds set it with
// -ldflags "-X github.com/obsidianstack/wsserver/server/internal/cli.Version=v1.2.3".
var Version = "dev"

// RuntimeFactory builds the server runtime from the merged configuration.
type RuntimeFactory func(cfg config.ServerConfig, logger *slog.Logger) launch.Runtime

// usageError marks flag parsing failures so Execute can map them to ExitUsage.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

type flags struct {
	address          string
	port             uint16
	compressionLevel int
	certFile         string
	keyFile          string
	configPath       string
	logLevel         string
}

// NewCommand returns the wsserver root command. newRuntime is called once,
// after the configuration has been resolved.
func NewCommand(newRuntime RuntimeFactory, stdout, stderr io.Writer) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "wsserver",
		Short: "Run the WebSocket relay server",
		Long: `Starts a WebSocket server on --address:--port. Supplying both --cert-file and
--key-file serves wss://; supplying neither serves ws://.`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := merge(cmd.Flags(), f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, newRuntime, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	fs := cmd.Flags()
	fs.StringVar(&f.address, flagAddress, "", "IPv4 address to bind (required unless set in --config)")
	fs.Uint16Var(&f.port, flagPort, 0, "port to bind (required unless set in --config)")
	fs.IntVar(&f.compressionLevel, flagCompressionLevel, launch.DefaultCompressionLevel, "permessage-deflate level forwarded to the server (0 disables)")
	fs.StringVar(&f.certFile, flagCertFile, "", "TLS certificate file; requires --key-file")
	fs.StringVar(&f.keyFile, flagKeyFile, "", "TLS private key file; requires --cert-file")
	fs.StringVar(&f.configPath, flagConfig, "", "optional YAML config file; flags take precedence")
	fs.StringVar(&f.logLevel, flagLogLevel, config.DefaultLogLevel, "log level: debug|info|warn|error")
	fs.SortFlags = false

	return cmd
}

// Execute runs the command with args and returns the process exit code.
// SIGINT and SIGTERM cancel the runtime's context.
func Execute(ctx context.Context, args []string, newRuntime RuntimeFactory, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if args == nil {
		// cobra falls back to os.Args when args is nil.
		args = []string{}
	}
	cmd := NewCommand(newRuntime, stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	fmt.Fprintf(stderr, "Error: %v\n", err) //nolint:errcheck
	var ue *usageError
	if errors.As(err, &ue) {
		fmt.Fprintln(stderr, cmd.UsageString()) //nolint:errcheck
		return ExitUsage
	}
	return ExitError
}

// merge loads the optional config file and overlays every flag that was set
// on the command line.
func merge(fs *pflag.FlagSet, f flags) (*config.Config, error) {
	cfg := config.Default()
	if fs.Changed(flagConfig) {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	s := &cfg.Server
	if fs.Changed(flagAddress) {
		s.Address = f.address
	}
	if fs.Changed(flagPort) {
		port := f.port
		s.Port = &port
	}
	if fs.Changed(flagCompressionLevel) {
		level := f.compressionLevel
		s.CompressionLevel = &level
	}
	if fs.Changed(flagCertFile) {
		cert := f.certFile
		s.CertFile = &cert
	}
	if fs.Changed(flagKeyFile) {
		key := f.keyFile
		s.KeyFile = &key
	}
	if fs.Changed(flagLogLevel) {
		s.LogLevel = f.logLevel
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run resolves the launch configuration and hands control to the runtime.
// Nothing is logged before resolution succeeds, so a configuration error is
// the only line on stderr.
func run(ctx context.Context, cfg *config.Config, newRuntime RuntimeFactory, stdout, stderr io.Writer) error {
	s := cfg.Server

	addr, err := s.BindAddress()
	if err != nil {
		return err
	}
	lc, mode, err := launch.Resolve(launch.Params{
		Address:          addr,
		Port:             *s.Port,
		CompressionLevel: s.CompressionLevel,
		CertFile:         s.CertFile,
		KeyFile:          s.KeyFile,
	})
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: s.Level()}))
	slog.SetDefault(logger)

	slog.Info("wsserver starting",
		"mode", mode.Mode.String(),
		"endpoint", lc.Endpoint(),
		"compression_level", lc.CompressionLevel,
		"path", s.Path,
		"auth_mode", s.Auth.Mode,
		"metrics", s.Metrics.Enabled,
	)

	rt := newRuntime(s, logger)
	if err := launch.Launch(ctx, lc, mode, rt, stdout); err != nil {
		slog.Error("websocket server stopped", "err", err)
		return err
	}
	slog.Info("wsserver stopped")
	return nil
}
