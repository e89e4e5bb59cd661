// Package config loads and validates the enumerated configuration of
// both binaries (spec.md §6) from a YAML file, environment variables,
// and flag overrides, the way the teacher's flag.FlagSet plus
// validateConfig validated a flat Config struct before doing any work.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Replication is the replication-side enumerated configuration.
type Replication struct {
	ServerID       uint32 `mapstructure:"server_id"`
	GTIDStart      string `mapstructure:"gtid_start"`
	StateDir       string `mapstructure:"statedir"`
	Match          string `mapstructure:"match"`
	Exclude        string `mapstructure:"exclude"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Cooperate      bool   `mapstructure:"cooperate"`

	Hosts    []string `mapstructure:"hosts"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
}

// Bridge is the per-service bridge-side enumerated configuration.
type Bridge struct {
	Listen              string `mapstructure:"listen"`
	AutoCreateTables    bool   `mapstructure:"auto_create_tables"`
	AutoCreateDatabases bool   `mapstructure:"auto_create_databases"`
	IDColumnLength      int    `mapstructure:"id_column_length"`
	LogInput            bool   `mapstructure:"log_input"`
	LogOutput           bool   `mapstructure:"log_output"`
	Authenticate        bool   `mapstructure:"authenticate"`
	Authorize           bool   `mapstructure:"authorize"`

	DownstreamDSN string `mapstructure:"downstream_dsn"`
}

// Logging is the ambient logging configuration shared by both
// binaries.
type Logging struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type Config struct {
	Replication Replication `mapstructure:"replication"`
	Bridge      Bridge      `mapstructure:"bridge"`
	Logging     Logging     `mapstructure:"logging"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("replication.gtid_start", "")
	v.SetDefault("replication.timeout_seconds", 30)
	v.SetDefault("replication.cooperate", false)
	v.SetDefault("bridge.listen", "127.0.0.1:27017")
	v.SetDefault("bridge.id_column_length", 255)
	v.SetDefault("bridge.authenticate", true)
	v.SetDefault("bridge.authorize", true)
	v.SetDefault("logging.level", "info")
}

// Load reads path (a YAML file, optional) into a Config, then applies
// NOSQLBRIDGE_-prefixed environment variable overrides (e.g.
// NOSQLBRIDGE_BRIDGE_LISTEN overrides bridge.listen), mirroring the
// teacher's flag-then-validate sequencing in parseFlags/validateConfig.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("NOSQLBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// ValidateReplication mirrors the teacher's validateConfig: every
// precondition is checked up front, before any connection or file is
// opened.
func ValidateReplication(cfg *Replication) error {
	if cfg.ServerID == 0 {
		return fmt.Errorf("replication.server_id is required and must be nonzero")
	}
	if cfg.StateDir == "" {
		return fmt.Errorf("replication.statedir is required")
	}
	switch cfg.GTIDStart {
	case "", "newest", "oldest":
	default:
		for _, part := range strings.Split(cfg.GTIDStart, ",") {
			if len(strings.Split(strings.TrimSpace(part), "-")) == 3 {
				continue
			}
			return fmt.Errorf("replication.gtid_start must be \"\", \"newest\", \"oldest\", or a comma-list of domain-server_id-sequence GTIDs, got %q", cfg.GTIDStart)
		}
	}
	if len(cfg.Hosts) == 0 {
		return fmt.Errorf("replication.hosts must name at least one candidate server")
	}
	if cfg.User == "" || cfg.Password == "" {
		return fmt.Errorf("replication.user and replication.password are required")
	}
	if cfg.TimeoutSeconds <= 0 {
		return fmt.Errorf("replication.timeout_seconds must be positive")
	}
	return nil
}

// ValidateBridge mirrors ValidateReplication for the bridge side.
func ValidateBridge(cfg *Bridge) error {
	if cfg.Listen == "" {
		return fmt.Errorf("bridge.listen is required")
	}
	if cfg.DownstreamDSN == "" {
		return fmt.Errorf("bridge.downstream_dsn is required")
	}
	if cfg.IDColumnLength <= 0 {
		return fmt.Errorf("bridge.id_column_length must be positive")
	}
	return nil
}
