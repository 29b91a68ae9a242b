package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "text", cfg.Log.Format)
	require.Equal(t, DefaultListenHost, cfg.Listener.Host)
	require.Empty(t, cfg.Upstreams)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "debug"
format = "json"

[listener]
host = "127.0.0.1"

[[upstreams]]
name = "search"
transport = "streamable"
url = "http://127.0.0.1:9200/mcp"

[upstreams.headers]
Authorization = "Bearer token"

[[upstreams]]
name = "shell"
transport = "stdio"
command = "mcp-shell"
args = ["--readonly"]

[upstreams.env]
SHELL_MODE = "safe"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Format)
	require.Len(t, cfg.Upstreams, 2)

	search := cfg.Upstreams[0]
	require.Equal(t, "search", search.Name)
	require.Equal(t, "http://127.0.0.1:9200/mcp", search.URL)
	require.Equal(t, "Bearer token", search.Headers["Authorization"])

	shell := cfg.Upstreams[1]
	require.Equal(t, "mcp-shell", shell.Command)
	require.Equal(t, []string{"--readonly"}, shell.Args)
	require.Equal(t, "safe", shell.Env["SHELL_MODE"])
}

func TestLoadRejectsInvalidTransport(t *testing.T) {
	path := writeConfig(t, `
[[upstreams]]
name = "bad"
transport = "carrier-pigeon"
url = "http://127.0.0.1:9999/mcp"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRequiresURLForHTTPTransports(t *testing.T) {
	path := writeConfig(t, `
[[upstreams]]
name = "nourl"
transport = "sse"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRequiresCommandForStdio(t *testing.T) {
	path := writeConfig(t, `
[[upstreams]]
name = "nocmd"
transport = "stdio"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Config{Log: LogConfig{Level: "loud"}}
	require.Error(t, cfg.Validate())
}
