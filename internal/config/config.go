package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"github.com/spf13/viper"
)

const EnvPrefix = "MBM"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Modbus   ModbusConfig   `mapstructure:"modbus"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Devices  DevicesConfig  `mapstructure:"device_profiles"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type StorageConfig struct {
	Backend      string `mapstructure:"backend"` // memory | postgres
	HistoryLimit int    `mapstructure:"history_limit"`
}

type ModbusConfig struct {
	DefaultPort          int           `mapstructure:"default_port"`
	DefaultUnitID        int           `mapstructure:"default_unit_id"`
	DefaultTimeout       time.Duration `mapstructure:"default_timeout"`
	DefaultRetries       int           `mapstructure:"default_retries"`
	DefaultPollInterval  time.Duration `mapstructure:"default_poll_interval"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`

	// AutoStart starts monitoring for every device configured at startup.
	AutoStart bool `mapstructure:"auto_start"`
}

type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            byte          `mapstructure:"qos"`
	Retain         bool          `mapstructure:"retain"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type DevicesConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

// SetDefaults registers every key with its default. Keys must be known to
// viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "modbus_monitor")
	v.SetDefault("database.user", "modbus")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.history_limit", 1000)

	v.SetDefault("modbus.default_port", 502)
	v.SetDefault("modbus.default_unit_id", 1)
	v.SetDefault("modbus.default_timeout", "3s")
	v.SetDefault("modbus.default_retries", 3)
	v.SetDefault("modbus.default_poll_interval", "2s")
	v.SetDefault("modbus.max_consecutive_errors", 5)
	v.SetDefault("modbus.auto_start", true)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "modbus-monitor")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "modbus")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", true)
	v.SetDefault("mqtt.publish_timeout", "5s")

	v.SetDefault("device_profiles.search_paths", []string{"./configs/devices"})
}

// Load reads the YAML file at path (optional when empty) on top of the
// defaults. Environment variables override both, e.g.
// MBM_MODBUS_DEFAULT_TIMEOUT=5s.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-provided viper instance, so command line
// flags bound to it take precedence.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	// Environment Variables automatisch binden
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("storage.backend must be memory or postgres, got %q", c.Storage.Backend)
	}
	if c.Storage.HistoryLimit <= 0 {
		return fmt.Errorf("storage.history_limit must be positive")
	}
	if c.Modbus.DefaultTimeout <= 0 || c.Modbus.DefaultPollInterval <= 0 {
		return fmt.Errorf("modbus timeout and poll interval must be positive")
	}
	if c.Modbus.DefaultRetries < 0 {
		return fmt.Errorf("modbus.default_retries must not be negative")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Defaults returns the values applied to device definitions that leave
// connection settings out.
func (m ModbusConfig) Defaults() types.DefinitionDefaults {
	return types.DefinitionDefaults{
		Port:         m.DefaultPort,
		UnitID:       m.DefaultUnitID,
		Timeout:      types.Duration(m.DefaultTimeout),
		Retries:      m.DefaultRetries,
		PollInterval: types.Duration(m.DefaultPollInterval),
	}
}
