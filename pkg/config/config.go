// Copyright 2024-2026 Aiku AI

// Package config loads the bridge configuration from YAML and the environment.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/tavern-bridge/pkg/bridge"
	"github.com/aiku/tavern-bridge/pkg/tavern"
)

//go:embed example-config.yaml
var ExampleConfig string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TAVERN_BRIDGE_"

// Storage modes.
const (
	StorageRemote = "remote"
	StorageLocal  = "local"
	StorageHybrid = "hybrid"
)

// Source types.
const (
	SourceFChat      = "fchat"
	SourceMattermost = "mattermost"
)

const (
	defaultTimeout        = 30
	defaultReconnectDelay = 5
)

var ErrMissingValue = errors.New("missing required config value")

// Config is the whole bridge configuration.
type Config struct {
	Tavern     TavernConfig     `yaml:"tavern" envPrefix:"TAVERN_"`
	Storage    StorageConfig    `yaml:"storage" envPrefix:"STORAGE_"`
	Bridge     BridgeConfig     `yaml:"bridge" envPrefix:"BRIDGE_"`
	Source     SourceConfig     `yaml:"source" envPrefix:"SOURCE_"`
	FChat      FChatConfig      `yaml:"fchat" envPrefix:"FCHAT_"`
	Mattermost MattermostConfig `yaml:"mattermost" envPrefix:"MATTERMOST_"`

	Logging zeroconfig.Config `yaml:"logging"`
}

type TavernConfig struct {
	BaseURL   string      `yaml:"base_url" env:"BASE_URL"`
	APIFlavor string      `yaml:"api_flavor" env:"API_FLAVOR"`
	Timeout   int         `yaml:"timeout" env:"TIMEOUT"`
	Login     LoginConfig `yaml:"login" envPrefix:"LOGIN_"`
}

type LoginConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Handle   string `yaml:"handle" env:"HANDLE"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type StorageConfig struct {
	Mode    string `yaml:"mode" env:"MODE"`
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`
}

type BridgeConfig struct {
	NameStyle     string `yaml:"name_style" env:"NAME_STYLE"`
	ConvertBBCode bool   `yaml:"convert_bbcode" env:"CONVERT_BBCODE"`
	StatusAddr    string `yaml:"status_addr" env:"STATUS_ADDR"`
	Creator       string `yaml:"creator" env:"CREATOR"`
}

type SourceConfig struct {
	Type string `yaml:"type" env:"TYPE"`
}

type FChatConfig struct {
	TicketURL      string `yaml:"ticket_url" env:"TICKET_URL"`
	ServerURL      string `yaml:"server_url" env:"SERVER_URL"`
	Account        string `yaml:"account" env:"ACCOUNT"`
	Password       string `yaml:"password" env:"PASSWORD"`
	Character      string `yaml:"character" env:"CHARACTER"`
	ClientName     string `yaml:"client_name" env:"CLIENT_NAME"`
	ClientVersion  string `yaml:"client_version" env:"CLIENT_VERSION"`
	ReconnectDelay int    `yaml:"reconnect_delay" env:"RECONNECT_DELAY"`
}

type MattermostConfig struct {
	ServerURL string `yaml:"server_url" env:"SERVER_URL"`
	Token     string `yaml:"token" env:"TOKEN"`
	BotPrefix string `yaml:"bot_prefix" env:"BOT_PREFIX"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// ApplyEnv overrides values from environment variables. A nil environ reads
// the process environment.
func (c *Config) ApplyEnv(environ map[string]string) error {
	if err := env.Parse(c, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// PostProcess fills defaults and validates the configuration.
func (c *Config) PostProcess() error {
	if c.Tavern.Timeout <= 0 {
		c.Tavern.Timeout = defaultTimeout
	}
	if c.Tavern.APIFlavor == "" {
		c.Tavern.APIFlavor = string(tavern.FlavorModern)
	}
	switch tavern.Flavor(c.Tavern.APIFlavor) {
	case tavern.FlavorModern, tavern.FlavorLegacy:
	default:
		return fmt.Errorf("tavern.api_flavor: unknown flavor %q", c.Tavern.APIFlavor)
	}
	if c.Tavern.Login.Enabled && c.Tavern.Login.Handle == "" {
		return fmt.Errorf("%w: tavern.login.handle", ErrMissingValue)
	}

	if c.Storage.Mode == "" {
		c.Storage.Mode = StorageRemote
	}
	switch c.Storage.Mode {
	case StorageRemote:
	case StorageLocal, StorageHybrid:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("%w: storage.data_dir is required in %s mode", ErrMissingValue, c.Storage.Mode)
		}
	default:
		return fmt.Errorf("storage.mode: unknown mode %q", c.Storage.Mode)
	}
	if c.Storage.Mode != StorageLocal {
		if err := checkURL("tavern.base_url", c.Tavern.BaseURL); err != nil {
			return err
		}
	}

	style, err := bridge.ParseNameStyle(c.Bridge.NameStyle)
	if err != nil {
		return fmt.Errorf("bridge.name_style: %w", err)
	}
	c.Bridge.NameStyle = string(style)
	if c.Bridge.Creator == "" {
		c.Bridge.Creator = "tavern-bridge"
	}

	if c.Source.Type == "" {
		c.Source.Type = SourceFChat
	}
	switch c.Source.Type {
	case SourceFChat:
		if c.FChat.ReconnectDelay <= 0 {
			c.FChat.ReconnectDelay = defaultReconnectDelay
		}
		for key, val := range map[string]string{
			"fchat.ticket_url": c.FChat.TicketURL,
			"fchat.server_url": c.FChat.ServerURL,
			"fchat.account":    c.FChat.Account,
			"fchat.character":  c.FChat.Character,
		} {
			if val == "" {
				return fmt.Errorf("%w: %s", ErrMissingValue, key)
			}
		}
	case SourceMattermost:
		if err := checkURL("mattermost.server_url", c.Mattermost.ServerURL); err != nil {
			return err
		}
		if c.Mattermost.Token == "" {
			return fmt.Errorf("%w: mattermost.token", ErrMissingValue)
		}
	default:
		return fmt.Errorf("source.type: unknown source %q", c.Source.Type)
	}
	return nil
}

func checkURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: %s", ErrMissingValue, key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: unsupported scheme %q", key, u.Scheme)
	}
	return nil
}

// TavernTimeout returns the tavern HTTP timeout.
func (c *Config) TavernTimeout() time.Duration {
	return time.Duration(c.Tavern.Timeout) * time.Second
}

// FChatReconnectDelay returns the delay between chat session attempts.
func (c *Config) FChatReconnectDelay() time.Duration {
	return time.Duration(c.FChat.ReconnectDelay) * time.Second
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "tavern", "base_url")
	helper.Copy(up.Str, "tavern", "api_flavor")
	helper.Copy(up.Int, "tavern", "timeout")
	helper.Copy(up.Bool, "tavern", "login", "enabled")
	helper.Copy(up.Str, "tavern", "login", "handle")
	helper.Copy(up.Str, "tavern", "login", "password")

	helper.Copy(up.Str, "storage", "mode")
	helper.Copy(up.Str, "storage", "data_dir")

	helper.Copy(up.Str, "bridge", "name_style")
	helper.Copy(up.Bool, "bridge", "convert_bbcode")
	helper.Copy(up.Str, "bridge", "status_addr")
	helper.Copy(up.Str, "bridge", "creator")

	helper.Copy(up.Str, "source", "type")

	helper.Copy(up.Str, "fchat", "ticket_url")
	helper.Copy(up.Str, "fchat", "server_url")
	helper.Copy(up.Str, "fchat", "account")
	helper.Copy(up.Str, "fchat", "password")
	helper.Copy(up.Str, "fchat", "character")
	helper.Copy(up.Str, "fchat", "client_name")
	helper.Copy(up.Str, "fchat", "client_version")
	helper.Copy(up.Int, "fchat", "reconnect_delay")

	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "token")
	helper.Copy(up.Str, "mattermost", "bot_prefix")

	helper.Copy(up.Map, "logging")
}

// Upgrader returns the upgrader that merges a user config into the example.
func Upgrader() up.BaseUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"storage"},
			{"bridge"},
			{"source"},
			{"fchat"},
			{"mattermost"},
			{"logging"},
		},
		Base: ExampleConfig,
	}
}

// Parse decodes YAML config data without applying defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Load reads the config at path, fills keys missing from it with the example
// values, applies environment overrides and validates the result. With save
// set, a missing file is created from the example and an outdated one is
// rewritten.
func Load(path string, save bool, environ map[string]string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if !save {
			return nil, fmt.Errorf("config file %s does not exist", path)
		}
		if err := os.WriteFile(path, []byte(ExampleConfig), 0o600); err != nil {
			return nil, fmt.Errorf("write example config: %w", err)
		}
	}

	data, _, err := up.Do(path, save, Upgrader())
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(environ); err != nil {
		return nil, err
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return cfg, nil
}
