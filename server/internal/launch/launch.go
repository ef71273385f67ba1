package launch

import (
	"context"
	"fmt"
	"io"
	"net/netip"
)

// DefaultCompressionLevel is used when no compression level is supplied.
// 1 is the fastest deflate setting that still compresses.
const DefaultCompressionLevel = 1

// Runtime is the WebSocket server the configurator delegates to. Both entry
// points block until ctx is cancelled or the server fails, and own all
// socket, TLS and compression behaviour.
type Runtime interface {
	RunPlain(ctx context.Context, endpoint string, enableTracing bool, compressionLevel int) error
	RunSecure(ctx context.Context, endpoint string, enableTracing bool, compressionLevel int, certFile, keyFile string) error
}

// Params are the raw launch inputs. Nil pointers mean "not supplied".
type Params struct {
	Address          netip.Addr
	Port             uint16
	CompressionLevel *int
	CertFile         *string
	KeyFile          *string
}

// TLSMaterial is a certificate/key file pair.
type TLSMaterial struct {
	CertFile string
	KeyFile  string
}

// LaunchConfig is the fully resolved startup configuration.
type LaunchConfig struct {
	BindAddress      netip.Addr
	Port             uint16
	CompressionLevel int

	// TLS is nil in plain mode.
	TLS *TLSMaterial

	// EnableTracing is forwarded to the runtime to switch per-connection
	// event logging on. The configurator always sets it.
	EnableTracing bool
}

// Endpoint returns the "<address>:<port>" bind endpoint.
func (c LaunchConfig) Endpoint() string {
	return ResolveAddress(c.BindAddress, c.Port)
}

// Mode is the transport kind.
type Mode int

const (
	Plain Mode = iota
	Secure
)

func (m Mode) String() string {
	if m == Secure {
		return "secure"
	}
	return "plain"
}

// TransportMode selects the runtime entry point. CertFile and KeyFile are set
// only for Secure.
type TransportMode struct {
	Mode     Mode
	CertFile string
	KeyFile  string
}

// Scheme returns "wss" for Secure and "ws" for Plain.
func (t TransportMode) Scheme() string {
	if t.Mode == Secure {
		return "wss"
	}
	return "ws"
}

// ResolveAddress formats the bind endpoint as "<address>:<port>".
func ResolveAddress(address netip.Addr, port uint16) string {
	return fmt.Sprintf("%s:%d", address, port)
}

// ResolveCompressionLevel returns *level, or DefaultCompressionLevel when level
// is nil. Out-of-range values are returned unchanged.
func ResolveCompressionLevel(level *int) int {
	if level == nil {
		return DefaultCompressionLevel
	}
	return *level
}

// ResolveTransportMode derives the transport from the optional TLS material.
// Exactly one of certFile/keyFile being set is a *ConfigError.
func ResolveTransportMode(certFile, keyFile *string) (TransportMode, error) {
	switch {
	case certFile != nil && keyFile != nil:
		return TransportMode{Mode: Secure, CertFile: *certFile, KeyFile: *keyFile}, nil
	case certFile != nil:
		return TransportMode{}, &ConfigError{Missing: MissingKeyFile}
	case keyFile != nil:
		return TransportMode{}, &ConfigError{Missing: MissingCertFile}
	default:
		return TransportMode{Mode: Plain}, nil
	}
}

// Resolve validates p and produces the launch configuration and transport mode.
func Resolve(p Params) (LaunchConfig, TransportMode, error) {
	mode, err := ResolveTransportMode(p.CertFile, p.KeyFile)
	if err != nil {
		return LaunchConfig{}, TransportMode{}, err
	}

	cfg := LaunchConfig{
		BindAddress:      p.Address,
		Port:             p.Port,
		CompressionLevel: ResolveCompressionLevel(p.CompressionLevel),
		EnableTracing:    true,
	}
	if mode.Mode == Secure {
		cfg.TLS = &TLSMaterial{CertFile: mode.CertFile, KeyFile: mode.KeyFile}
	}
	return cfg, mode, nil
}

// Banner returns the startup line announcing scheme and endpoint.
func Banner(cfg LaunchConfig, mode TransportMode) string {
	if mode.Mode == Secure {
		return fmt.Sprintf("Running secure websocket server on %s://%s", mode.Scheme(), cfg.Endpoint())
	}
	return fmt.Sprintf("Running websocket server on %s://%s", mode.Scheme(), cfg.Endpoint())
}

// Launch writes the startup line to stdout and delegates to rt. It blocks for
// the lifetime of the runtime and returns its error, if any.
func Launch(ctx context.Context, cfg LaunchConfig, mode TransportMode, rt Runtime, stdout io.Writer) error {
	fmt.Fprintln(stdout, Banner(cfg, mode)) //nolint:errcheck

	var err error
	switch mode.Mode {
	case Secure:
		err = rt.RunSecure(ctx, cfg.Endpoint(), cfg.EnableTracing, cfg.CompressionLevel, mode.CertFile, mode.KeyFile)
	default:
		err = rt.RunPlain(ctx, cfg.Endpoint(), cfg.EnableTracing, cfg.CompressionLevel)
	}
	if err != nil {
		return fmt.Errorf("websocket server: %w", err)
	}
	return nil
}
