package cli_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/wsserver/server/internal/cli"
	"github.com/obsidianstack/wsserver/server/internal/config"
	"github.com/obsidianstack/wsserver/server/internal/launch"
	"github.com/obsidianstack/wsserver/server/internal/launch/launchtest"
)

// --- helpers ----------------------------------------------------------------

type result struct {
	code   int
	stdout string
	stderr string
	built  []config.ServerConfig
}

// execute runs the CLI against rt and records every runtime the factory built.
func execute(t *testing.T, rt launch.Runtime, args ...string) result {
	t.Helper()

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var res result
	var stdout, stderr bytes.Buffer
	factory := func(cfg config.ServerConfig, _ *slog.Logger) launch.Runtime {
		res.built = append(res.built, cfg)
		return rt
	}
	res.code = cli.Execute(context.Background(), args, factory, &stdout, &stderr)
	res.stdout = stdout.String()
	res.stderr = stderr.String()
	return res
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "wsserver.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

// --- plain / secure ---------------------------------------------------------

func TestExecute_Plain(t *testing.T) {
	rt := launchtest.NewRuntime(t)
	rt.On("RunPlain", mock.Anything, "0.0.0.0:8000", true, 1).Return(nil).Once()

	res := execute(t, rt, "--address", "0.0.0.0", "--port", "8000")

	assert.Equal(t, cli.ExitOK, res.code, "stderr: %s", res.stderr)
	assert.Equal(t, "Running websocket server on ws://0.0.0.0:8000\n", res.stdout)
	assert.Len(t, res.built, 1)
}

func TestExecute_Secure(t *testing.T) {
	rt := launchtest.NewRuntime(t)
	rt.On("RunSecure", mock.Anything, "127.0.0.1:9001", true, 3, "a.pem", "b.pem").Return(nil).Once()

	res := execute(t, rt,
		"--address", "127.0.0.1", "--port", "9001",
		"--websocket-compression-level", "3",
		"--cert-file", "a.pem", "--key-file", "b.pem")

	assert.Equal(t, cli.ExitOK, res.code, "stderr: %s", res.stderr)
	assert.Equal(t, "Running secure websocket server on wss://127.0.0.1:9001\n", res.stdout)
}

func TestExecute_CompressionLevelForwardedUnchanged(t *testing.T) {
	for _, level := range []int{0, -2, 9, 42, -100} {
		rt := launchtest.NewRuntime(t)
		rt.On("RunPlain", mock.Anything, "10.0.0.1:80", true, level).Return(nil).Once()

		res := execute(t, rt, "--address", "10.0.0.1", "--port", "80",
			"--websocket-compression-level="+strconv.Itoa(level))
		assert.Equal(t, cli.ExitOK, res.code, "level %d: %s", level, res.stderr)
	}
}

func TestExecute_PortZero(t *testing.T) {
	rt := launchtest.NewRuntime(t)
	rt.On("RunPlain", mock.Anything, "127.0.0.1:0", true, 1).Return(nil).Once()

	res := execute(t, rt, "--address", "127.0.0.1", "--port", "0")
	assert.Equal(t, cli.ExitOK, res.code)
	assert.Equal(t, "Running websocket server on ws://127.0.0.1:0\n", res.stdout)
}

// --- configuration errors ---------------------------------------------------

func TestExecute_IncompleteTLSMaterial(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "cert only",
			args: []string{"--address", "0.0.0.0", "--port", "8000", "--cert-file", "a.pem"},
			want: "Error: --cert-file specified but --key-file is missing",
		},
		{
			name: "key only",
			args: []string{"--address", "0.0.0.0", "--port", "8000", "--key-file", "b.pem"},
			want: "Error: --key-file specified but --cert-file is missing",
		},
		{
			name: "empty cert path still counts as present",
			args: []string{"--address", "0.0.0.0", "--port", "8000", "--cert-file="},
			want: "Error: --cert-file specified but --key-file is missing",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rt := launchtest.NewRuntime(t) // no expectations: any call fails the test

			res := execute(t, rt, tc.args...)

			assert.Equal(t, cli.ExitError, res.code)
			assert.Empty(t, res.stdout, "no startup line before a config error")
			assert.Equal(t, []string{tc.want}, lines(res.stderr))
			assert.Empty(t, res.built, "runtime must not be constructed")
		})
	}
}

func TestExecute_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"missing address", []string{"--port", "8000"}, cli.ExitError},
		{"missing port", []string{"--address", "0.0.0.0"}, cli.ExitError},
		{"ipv6 address", []string{"--address", "::1", "--port", "8000"}, cli.ExitError},
		{"hostname", []string{"--address", "localhost", "--port", "8000"}, cli.ExitError},
		{"bad log level", []string{"--address", "0.0.0.0", "--port", "8000", "--log-level", "loud"}, cli.ExitError},
		{"positional argument", []string{"--address", "0.0.0.0", "--port", "8000", "extra"}, cli.ExitError},
		{"port out of range", []string{"--address", "0.0.0.0", "--port", "70000"}, cli.ExitUsage},
		{"port not a number", []string{"--address", "0.0.0.0", "--port", "http"}, cli.ExitUsage},
		{"level not a number", []string{"--address", "0.0.0.0", "--port", "1", "--websocket-compression-level", "max"}, cli.ExitUsage},
		{"unknown flag", []string{"--address", "0.0.0.0", "--port", "8000", "--tls"}, cli.ExitUsage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rt := launchtest.NewRuntime(t)

			res := execute(t, rt, tc.args...)

			assert.Equal(t, tc.code, res.code, "stderr: %s", res.stderr)
			assert.Empty(t, res.stdout)
			assert.True(t, strings.HasPrefix(res.stderr, "Error: "), "stderr: %q", res.stderr)
			assert.Empty(t, res.built)
		})
	}
}

// --- runtime errors ---------------------------------------------------------

func TestExecute_RuntimeErrorPropagates(t *testing.T) {
	rt := launchtest.NewRuntime(t)
	rt.On("RunPlain", mock.Anything, "0.0.0.0:8000", true, 1).
		Return(errors.New("listen tcp 0.0.0.0:8000: bind: address already in use")).Once()

	res := execute(t, rt, "--address", "0.0.0.0", "--port", "8000")

	assert.Equal(t, cli.ExitError, res.code)
	assert.Equal(t, "Running websocket server on ws://0.0.0.0:8000\n", res.stdout,
		"startup line precedes the runtime call")
	assert.Contains(t, res.stderr, "Error: websocket server: listen tcp 0.0.0.0:8000: bind: address already in use")
}

func TestExecute_PassesCancellableContext(t *testing.T) {
	rt := launchtest.NewRuntime(t)
	rt.On("RunPlain", mock.Anything, "0.0.0.0:8000", true, 1).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			assert.NotNil(t, ctx.Done(), "runtime context must be cancellable")
		}).
		Return(nil).Once()

	res := execute(t, rt, "--address", "0.0.0.0", "--port", "8000")
	assert.Equal(t, cli.ExitOK, res.code)
}

// --- config file ------------------------------------------------------------

func TestExecute_ConfigFile(t *testing.T) {
	p := writeConfig(t, `
server:
  address: 127.0.0.1
  port: 7000
  websocket_compression_level: 5
  path: /ws
  rate_limit: 20
  metrics:
    enabled: false
`)

	rt := launchtest.NewRuntime(t)
	rt.On("RunPlain", mock.Anything, "127.0.0.1:7000", true, 5).Return(nil).Once()

	res := execute(t, rt, "--config", p)

	require.Equal(t, cli.ExitOK, res.code, "stderr: %s", res.stderr)
	require.Len(t, res.built, 1)
	assert.Equal(t, "/ws", res.built[0].Path)
	assert.Equal(t, 20.0, res.built[0].RateLimit)
	assert.False(t, res.built[0].Metrics.Enabled)
}

func TestExecute_FlagsOverrideConfigFile(t *testing.T) {
	p := writeConfig(t, `
server:
  address: 127.0.0.1
  port: 7000
  websocket_compression_level: 5
  cert_file: /etc/ws/cert.pem
  key_file: /etc/ws/key.pem
`)

	rt := launchtest.NewRuntime(t)
	rt.On("RunSecure", mock.Anything, "0.0.0.0:7443", true, 5, "/etc/ws/cert.pem", "override.key").Return(nil).Once()

	res := execute(t, rt, "--config", p, "--address", "0.0.0.0", "--port", "7443", "--key-file", "override.key")

	assert.Equal(t, cli.ExitOK, res.code, "stderr: %s", res.stderr)
	assert.Equal(t, "Running secure websocket server on wss://0.0.0.0:7443\n", res.stdout)
}

func TestExecute_ConfigFileIncompleteTLS(t *testing.T) {
	p := writeConfig(t, `
server:
  address: 127.0.0.1
  port: 7000
  key_file: /etc/ws/key.pem
`)

	rt := launchtest.NewRuntime(t)
	res := execute(t, rt, "--config", p)

	assert.Equal(t, cli.ExitError, res.code)
	assert.Equal(t, []string{"Error: --key-file specified but --cert-file is missing"}, lines(res.stderr))
	assert.Empty(t, res.built)
}

func TestExecute_ConfigFileErrors(t *testing.T) {
	rt := launchtest.NewRuntime(t)

	res := execute(t, rt, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--address", "0.0.0.0", "--port", "1")
	assert.Equal(t, cli.ExitError, res.code)
	assert.Contains(t, res.stderr, "server config:")

	res = execute(t, rt, "--config", writeConfig(t, "server: [\n"), "--address", "0.0.0.0", "--port", "1")
	assert.Equal(t, cli.ExitError, res.code)
	assert.Contains(t, res.stderr, "parse yaml")
}

func TestExecute_Version(t *testing.T) {
	prev := cli.Version
	cli.Version = "v1.4.0"
	t.Cleanup(func() { cli.Version = prev })

	rt := launchtest.NewRuntime(t)
	res := execute(t, rt, "--version")

	assert.Equal(t, cli.ExitOK, res.code)
	assert.Equal(t, "wsserver version v1.4.0\n", res.stdout)
	assert.Empty(t, res.built)
}

// --- help -------------------------------------------------------------------

func TestExecute_Help(t *testing.T) {
	rt := launchtest.NewRuntime(t)

	res := execute(t, rt, "--help")

	assert.Equal(t, cli.ExitOK, res.code)
	for _, flag := range []string{"--address", "--port", "--websocket-compression-level", "--cert-file", "--key-file", "--config", "--log-level"} {
		assert.Contains(t, res.stdout, flag)
	}
	assert.Empty(t, res.built)
}
