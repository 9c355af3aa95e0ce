// Package config provides dynamic configuration management for wgtally.
// It uses Viper to load settings from files, environment variables, and CLI flags.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for wgtally.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────────────
	ServerHost string `mapstructure:"server_host"`
	// ControlPort: JWT-protected browsing API (peers, history, annotate)
	ControlPort int `mapstructure:"control_port"`
	// DataPort: dump ingestion from collectors — Bearer token protected
	DataPort int    `mapstructure:"data_port"`
	DBPath   string `mapstructure:"db_path"`
	DBDriver string `mapstructure:"db_driver"` // only "sqlite" for now

	// HistoryLimit is the default window for peer history and totals.
	HistoryLimit int `mapstructure:"history_limit"`

	// ── Logging ──────────────────────────────────────────────────────────────
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // json | console

	// ── Security ──────────────────────────────────────────────────────────────
	// JWTSecret: HS256 signing key for control-plane tokens.
	JWTSecret string `mapstructure:"jwt_secret"`
	// AgentToken: pre-shared key collectors present on the data plane.
	// Format on wire: "Authorization: Bearer <agent_token>"
	AgentToken string `mapstructure:"agent_token"`
	AdminUser  string `mapstructure:"admin_user"`
	AdminPass  string `mapstructure:"admin_pass"`

	// ── Collector ────────────────────────────────────────────────────────────
	CollectJoinAddr string `mapstructure:"collect_join_addr"`
	CollectInterval int    `mapstructure:"collect_interval_seconds"`
	CollectToken    string `mapstructure:"collect_token"`
	// CollectCommand is run locally (or over SSH) to produce the dump.
	CollectCommand string `mapstructure:"collect_command"`

	// ── SSH source (routers that cannot run the collector) ───────────────────
	SSHHost       string `mapstructure:"ssh_host"`
	SSHUser       string `mapstructure:"ssh_user"`
	SSHPassword   string `mapstructure:"ssh_password"`
	SSHKeyPath    string `mapstructure:"ssh_key_path"`
	SSHKnownHosts string `mapstructure:"ssh_known_hosts"` // empty = skip host key check
}

// Load reads config from file (./config.yaml or ~/.wgtally/config.yaml)
// and falls back to smart defaults. Environment variables with prefix WGT_
// override file values.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// --- Config file ---
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.wgtally")
	if err := v.ReadInConfig(); err != nil {
		// config file is optional; ignore "not found" errors
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFile reads config from an explicit path instead of the search paths.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return unmarshal(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("control_port", 6680)
	v.SetDefault("data_port", 6681)
	v.SetDefault("db_path", "wgtally.db")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("history_limit", 100)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	// Security defaults — MUST be overridden in production via config.yaml or env vars.
	v.SetDefault("jwt_secret", "wgT4l!y-kQ9#vR2@pX7$mN5^cH8&eJ3")
	v.SetDefault("agent_token", "wgtally-secret-key-123")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass", "admin")

	v.SetDefault("collect_join_addr", "127.0.0.1:6681")
	v.SetDefault("collect_interval_seconds", 60)
	v.SetDefault("collect_token", "wgtally-secret-key-123")
	v.SetDefault("collect_command", "wg show all dump")

	v.SetDefault("ssh_host", "")
	v.SetDefault("ssh_user", "root")
	v.SetDefault("ssh_password", "")
	v.SetDefault("ssh_key_path", "~/.ssh/id_rsa")
	v.SetDefault("ssh_known_hosts", "")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	// --- Environment Variables ---
	v.SetEnvPrefix("WGT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}
