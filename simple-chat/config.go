package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const envPrefix = "CHAT"

// Config is the resolved runtime configuration. Sources, lowest precedence
// first: defaults, the YAML file, the environment (.env included), then flags
// set explicitly on the command line.
//
// Environment keys are CHAT_ plus the split field name, e.g. CHAT_SERVER_URL
// or CHAT_PORTAL_CRED_KEY.
type Config struct {
	ServerURL    string `yaml:"server_url" split_words:"true" validate:"required,url,startswith=ws"`
	Name         string `yaml:"name" split_words:"true" validate:"required,max=64"`
	DataPath     string `yaml:"data_path" split_words:"true"`
	UI           string `yaml:"ui" split_words:"true" validate:"oneof=web terminal"`
	Port         int    `yaml:"port" split_words:"true" validate:"gte=-1,lte=65535"`
	Echo         string `yaml:"echo" split_words:"true" validate:"oneof=none echo"`
	HistoryLimit int    `yaml:"history_limit" split_words:"true" validate:"gte=0"`
	LogLevel     string `yaml:"log_level" split_words:"true" validate:"oneof=trace debug info warn error"`
	LogFile      string `yaml:"log_file" split_words:"true"`

	Portal PortalConfig `yaml:"portal" split_words:"true"`
}

// PortalConfig controls publication of the web view through portal relays.
type PortalConfig struct {
	Relays      []string `yaml:"relays" split_words:"true" validate:"dive,url"`
	Name        string   `yaml:"name" split_words:"true" validate:"max=64"`
	CredKey     string   `yaml:"cred_key" split_words:"true" validate:"omitempty,base64"`
	Description string   `yaml:"description" split_words:"true"`
	Owner       string   `yaml:"owner" split_words:"true"`
	Tags        []string `yaml:"tags" split_words:"true"`
	Hide        bool     `yaml:"hide" split_words:"true"`
}

func defaultConfig() Config {
	return Config{
		ServerURL: "ws://localhost:4000/ws",
		Name:      "User1",
		DataPath:  defaultDataPath(),
		UI:        "web",
		Port:      8091,
		Echo:      "none",
		LogLevel:  "info",
		Portal: PortalConfig{
			Name:        "simple-chat",
			Description: "Relay chat client",
			Owner:       "simple-chat",
			Tags:        []string{"chat"},
		},
	}
}

// defaultDataPath is simple-chat under the user config directory. An empty
// DataPath keeps history in memory only.
func defaultDataPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".simple-chat"
	}
	return filepath.Join(dir, "simple-chat")
}

var validate = validator.New()

// loadConfig layers the configuration sources. flags holds the command-line
// values; only those for which changed returns true override the rest.
func loadConfig(path string, flags Config, changed func(name string) bool) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if _, ok := os.LookupEnv(envPrefix + "_PORTAL_RELAYS"); !ok {
		if relay := splitList(os.Getenv("RELAY")); len(relay) > 0 {
			cfg.Portal.Relays = relay
		}
	}

	applyFlags(&cfg, flags, changed)
	cfg.Portal.Relays = splitList(strings.Join(cfg.Portal.Relays, ","))

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *Config, f Config, changed func(string) bool) {
	set := func(name string, apply func()) {
		if changed(name) {
			apply()
		}
	}
	set("server-url", func() { cfg.ServerURL = f.ServerURL })
	set("name", func() { cfg.Name = f.Name })
	set("data-path", func() { cfg.DataPath = f.DataPath })
	set("ui", func() { cfg.UI = f.UI })
	set("port", func() { cfg.Port = f.Port })
	set("echo", func() { cfg.Echo = f.Echo })
	set("history-limit", func() { cfg.HistoryLimit = f.HistoryLimit })
	set("log-level", func() { cfg.LogLevel = f.LogLevel })
	set("log-file", func() { cfg.LogFile = f.LogFile })
	set("portal-url", func() { cfg.Portal.Relays = f.Portal.Relays })
	set("portal-name", func() { cfg.Portal.Name = f.Portal.Name })
	set("cred-key", func() { cfg.Portal.CredKey = f.Portal.CredKey })
	set("portal-description", func() { cfg.Portal.Description = f.Portal.Description })
	set("portal-owner", func() { cfg.Portal.Owner = f.Portal.Owner })
	set("portal-tags", func() { cfg.Portal.Tags = f.Portal.Tags })
	set("portal-hide", func() { cfg.Portal.Hide = f.Portal.Hide })
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
