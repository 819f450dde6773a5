package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Rig       RigConfig       `mapstructure:"rig"`
	Transport TransportConfig `mapstructure:"transport"`
	IO        IOConfig        `mapstructure:"io"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Profiles  ProfilesConfig  `mapstructure:"profiles"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RigConfig struct {
	Capacity     int           `mapstructure:"capacity"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Profile is applied once at startup when set.
	Profile string `mapstructure:"profile"`
}

type TransportConfig struct {
	Kind     string `mapstructure:"kind"` // stdio, serial or none
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
}

type IOConfig struct {
	Backend string       `mapstructure:"backend"` // sim or modbus
	Modbus  ModbusConfig `mapstructure:"modbus"`
}

type ModbusConfig struct {
	Address      string        `mapstructure:"address"`
	UnitID       int           `mapstructure:"unit_id"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	InputCount   int           `mapstructure:"input_count"`
	CoilCount    int           `mapstructure:"coil_count"`
}

type DatabaseConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Database       string        `mapstructure:"database"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	MaxConnections int           `mapstructure:"max_connections"`
	BatchSize      int           `mapstructure:"batch_size"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
}

type AuthConfig struct {
	// APIKeyHash is an argon2id hash of the API key. Empty disables auth.
	APIKeyHash     string        `mapstructure:"api_key_hash"`
	JWTSecretEnv   string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type ProfilesConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

// Load reads path (optional) on top of the defaults. Every key can be
// overridden from the environment as NOSEPORT_<SECTION>_<KEY>.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NOSEPORT")
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("rig.capacity", 32)
	v.SetDefault("rig.poll_interval", "500us")
	v.SetDefault("rig.profile", "")

	v.SetDefault("transport.kind", "stdio")
	v.SetDefault("transport.device", "")
	v.SetDefault("transport.baud_rate", 115200)

	v.SetDefault("io.backend", "sim")
	v.SetDefault("io.modbus.address", "127.0.0.1:502")
	v.SetDefault("io.modbus.unit_id", 1)
	v.SetDefault("io.modbus.timeout", "1s")
	v.SetDefault("io.modbus.poll_interval", "5ms")
	v.SetDefault("io.modbus.input_count", 16)
	v.SetDefault("io.modbus.coil_count", 16)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "noseport")
	v.SetDefault("database.user", "noseport")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 4)
	v.SetDefault("database.batch_size", 64)
	v.SetDefault("database.flush_interval", "1s")

	v.SetDefault("auth.api_key_hash", "")
	v.SetDefault("auth.jwt_secret_env", "NOSEPORT_JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")

	v.SetDefault("profiles.search_paths", []string{"profiles"})
}

func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case "stdio", "none":
	case "serial":
		if c.Transport.Device == "" {
			return fmt.Errorf("transport.device is required for serial transport")
		}
	default:
		return fmt.Errorf("unknown transport.kind %q", c.Transport.Kind)
	}

	switch c.IO.Backend {
	case "sim":
	case "modbus":
		m := c.IO.Modbus
		if m.UnitID < 0 || m.UnitID > 255 {
			return fmt.Errorf("io.modbus.unit_id out of range: %d", m.UnitID)
		}
		if m.InputCount < 0 || m.InputCount > 2000 || m.CoilCount < 0 || m.CoilCount > 2000 {
			return fmt.Errorf("io.modbus input/coil counts must be within 0..2000")
		}
	default:
		return fmt.Errorf("unknown io.backend %q", c.IO.Backend)
	}

	if c.Rig.Capacity <= 0 {
		return fmt.Errorf("rig.capacity must be positive")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// GetJWTSecret reads the signing secret from the configured environment
// variable, falling back to a development secret.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "NOSEPORT_JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devJWTSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}

// Enabled reports whether API authentication is configured.
func (a *AuthConfig) Enabled() bool {
	return a.APIKeyHash != ""
}
