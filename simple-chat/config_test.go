package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func noFlags(string) bool { return false }

func flagsSet(names ...string) func(string) bool {
	return func(n string) bool {
		for _, s := range names {
			if s == n {
				return true
			}
		}
		return false
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())
	t.Setenv("RELAY", "")
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)

	cfg, err := loadConfig("", Config{}, noFlags)

	req.NoError(err)
	req.Equal(filepath.Join(home, "simple-chat"), cfg.DataPath)
	req.Equal(defaultConfig().ServerURL, cfg.ServerURL)
	req.Equal("User1", cfg.Name)
	req.Equal("web", cfg.UI)
	req.Equal("none", cfg.Echo)
	req.Empty(cfg.Portal.Relays)
}

func TestLoadConfig_Precedence(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("RELAY", "")
	path := writeFile(t, dir, "chat.yaml", `
server_url: ws://file.example/ws
name: from-file
port: 9000
history_limit: 50
portal:
  tags: [a, b]
`)
	t.Setenv("CHAT_NAME", "from-env")
	t.Setenv("CHAT_PORT", "9100")

	cfg, err := loadConfig(path, Config{Port: 9200, Name: "ignored"}, flagsSet("port"))

	req.NoError(err)
	req.Equal("ws://file.example/ws", cfg.ServerURL)
	req.Equal("from-env", cfg.Name)
	req.Equal(9200, cfg.Port)
	req.Equal(50, cfg.HistoryLimit)
	req.Equal([]string{"a", "b"}, cfg.Portal.Tags)
}

func TestLoadConfig_EmptyDataPathKeepsMemory(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())
	t.Setenv("RELAY", "")

	cfg, err := loadConfig("", Config{DataPath: ""}, flagsSet("data-path"))
	req.NoError(err)
	req.Empty(cfg.DataPath)

	t.Setenv("CHAT_DATA_PATH", "")
	cfg, err = loadConfig("", Config{}, noFlags)
	req.NoError(err)
	req.Empty(cfg.DataPath)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("RELAY", "")
	writeFile(t, dir, ".env", "CHAT_ECHO=echo\n")
	t.Cleanup(func() { _ = os.Unsetenv("CHAT_ECHO") })

	cfg, err := loadConfig("", Config{}, noFlags)

	req.NoError(err)
	req.Equal("echo", cfg.Echo)
}

func TestLoadConfig_RelayFallback(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())
	t.Setenv("RELAY", "wss://portal.a/relay, ,wss://portal.b/relay")

	cfg, err := loadConfig("", Config{}, noFlags)

	req.NoError(err)
	req.Equal([]string{"wss://portal.a/relay", "wss://portal.b/relay"}, cfg.Portal.Relays)
}

func TestLoadConfig_PortalFlagSplitsCommas(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())
	t.Setenv("RELAY", "wss://ignored/relay")

	cfg, err := loadConfig("", Config{Portal: PortalConfig{Relays: []string{"wss://a/relay,wss://b/relay"}}}, flagsSet("portal-url"))

	req.NoError(err)
	req.Equal([]string{"wss://a/relay", "wss://b/relay"}, cfg.Portal.Relays)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RELAY", "")
	cases := map[string]Config{
		"ui":     {UI: "gtk"},
		"echo":   {Echo: "sometimes"},
		"server": {ServerURL: "http://localhost:4000"},
		"port":   {Port: 70000},
		"cred":   {Portal: PortalConfig{CredKey: "not base64!"}},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			flag := map[string]string{"ui": "ui", "echo": "echo", "server": "server-url", "port": "port", "cred": "cred-key"}[name]
			_, err := loadConfig("", f, flagsSet(flag))
			require.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"), Config{}, noFlags)
	require.ErrorIs(t, err, os.ErrNotExist)
}
