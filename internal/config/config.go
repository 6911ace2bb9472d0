package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/KevinKickass/OpenRVCore/internal/can"
	"github.com/KevinKickass/OpenRVCore/internal/discovery"
	"github.com/KevinKickass/OpenRVCore/internal/encoder"
	"github.com/KevinKickass/OpenRVCore/internal/pubsub"
	"github.com/KevinKickass/OpenRVCore/internal/validator"
)

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Auth      AuthConfig       `mapstructure:"auth"`
	CAN       can.Config       `mapstructure:"can"`
	PubSub    pubsub.Config    `mapstructure:"pubsub"`
	Spec      SpecConfig       `mapstructure:"spec"`
	Decoder   DecoderConfig    `mapstructure:"decoder"`
	Entities  EntitiesConfig   `mapstructure:"entities"`
	Discovery discovery.Config `mapstructure:"discovery"`
	Validator validator.Config `mapstructure:"validator"`
	Encoder   encoder.Config   `mapstructure:"encoder"`
	Audit     AuditConfig      `mapstructure:"audit"`
	Log       LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	APIRateLimit    float64       `mapstructure:"api_rate_limit"`
	APIBurst        int           `mapstructure:"api_burst"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv           string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL         time.Duration `mapstructure:"access_token_ttl"`
	MaxFailedLoginAttempts int           `mapstructure:"max_failed_login_attempts"`
	Users                  []UserConfig  `mapstructure:"users"`
	APITokens              []TokenConfig `mapstructure:"api_tokens"`
}

// UserConfig is a statically configured account. PasswordHash is an
// argon2id hash as printed by "rvctool hash-password".
type UserConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// TokenConfig is a long-lived API token, stored as its SHA-256 hex digest.
type TokenConfig struct {
	Name        string   `mapstructure:"name"`
	TokenHash   string   `mapstructure:"token_hash"`
	Permissions []string `mapstructure:"permissions"`
}

type SpecConfig struct {
	File        string   `mapstructure:"file"`
	SearchPaths []string `mapstructure:"search_paths"`
}

type DecoderConfig struct {
	ParameterizedNames bool `mapstructure:"parameterized_names"`
}

type EntitiesConfig struct {
	MappingFile string `mapstructure:"mapping_file"`
}

type AuditConfig struct {
	File     string `mapstructure:"file"`
	Postgres bool   `mapstructure:"postgres"`
}

type LogConfig struct {
	DebugFrames bool `mapstructure:"debug_frames"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.api_rate_limit", 20)
	v.SetDefault("server.api_burst", 40)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "openrvcore")
	v.SetDefault("database.user", "openrvcore")
	v.SetDefault("database.max_connections", 10)

	// Auth Defaults
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.max_failed_login_attempts", 5)

	v.SetDefault("can.transport", can.TransportSLCAN)
	v.SetDefault("can.interface", "can0")
	v.SetDefault("can.bitrate", 250000)
	v.SetDefault("can.dial_timeout", "5s")
	v.SetDefault("can.receive_timeout", "30s")
	v.SetDefault("can.reconnect_delay", "60s")
	v.SetDefault("can.tx_retries", can.DefaultTxRetries)
	v.SetDefault("can.tx_retry_delay", can.DefaultTxRetryDelay.String())

	v.SetDefault("pubsub.backend", pubsub.BackendMQTT)
	v.SetDefault("pubsub.url", "tcp://localhost:1883")
	v.SetDefault("pubsub.client_id", "openrvcore")
	v.SetDefault("pubsub.namespace", "rv")
	v.SetDefault("pubsub.output_topic", "RVC")
	v.SetDefault("pubsub.retain", false)
	v.SetDefault("pubsub.encoding", pubsub.EncodingJSON)
	v.SetDefault("pubsub.qos", 1)
	v.SetDefault("pubsub.connect_timeout", "10s")

	v.SetDefault("spec.file", "rvc-spec.yml")
	v.SetDefault("spec.search_paths", []string{"./specs", "/etc/openrvcore"})
	v.SetDefault("decoder.parameterized_names", false)
	v.SetDefault("entities.mapping_file", "mappings/default.yaml")
	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.prefix", "homeassistant")

	vd := validator.DefaultConfig()
	v.SetDefault("validator.security.enabled", vd.Security.Enabled)
	v.SetDefault("validator.security.allowlist", []string{})
	v.SetDefault("validator.security.denylist", []string{})
	v.SetDefault("validator.security.allowed_types", vd.Security.AllowedTypes)
	v.SetDefault("validator.rate_limit.enabled", vd.RateLimit.Enabled)
	v.SetDefault("validator.rate_limit.global_per_second", vd.RateLimit.GlobalPerSecond)
	v.SetDefault("validator.rate_limit.entity_per_second", vd.RateLimit.EntityPerSecond)
	v.SetDefault("validator.rate_limit.cooldown", vd.RateLimit.Cooldown.String())

	ed := encoder.DefaultConfig()
	v.SetDefault("encoder.source_address", ed.SourceAddress)
	v.SetDefault("encoder.switch_source", ed.SwitchSource)
	v.SetDefault("encoder.vent_source", ed.VentSource)
	v.SetDefault("encoder.ceiling_fan_source", ed.CeilingFanSource)
	v.SetDefault("encoder.furnace_sync", ed.FurnaceSync)
	v.SetDefault("encoder.setpoint_offset_f", ed.SetpointOffsetF)

	v.SetDefault("audit.file", "logs/audit.jsonl")
	v.SetDefault("audit.postgres", false)
	v.SetDefault("log.debug_frames", false)
}

// Load reads the YAML file at path. Every key can be overridden from the
// environment as ORV_<SECTION>_<KEY>, e.g. ORV_CAN_ADDRESS.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("ORV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
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

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("config: built-in defaults do not decode: %v", err))
	}
	return &config
}

func (c *Config) Validate() error {
	if err := validPort("server.http_port", c.Server.HTTPPort); err != nil {
		return err
	}
	if err := validPort("server.grpc_port", c.Server.GRPCPort); err != nil {
		return err
	}
	if c.Database.Enabled {
		if err := validPort("database.port", c.Database.Port); err != nil {
			return err
		}
	}

	if c.CAN.TxRetries < 1 {
		return fmt.Errorf("can.tx_retries must be at least 1")
	}

	switch c.PubSub.Backend {
	case pubsub.BackendMQTT, pubsub.BackendNATS, pubsub.BackendMemory:
	default:
		return fmt.Errorf("pubsub.backend %q must be one of mqtt, nats, memory", c.PubSub.Backend)
	}
	if c.PubSub.Namespace == "" {
		return fmt.Errorf("pubsub.namespace must not be empty")
	}

	if rl := c.Validator.RateLimit; rl.Enabled {
		if rl.GlobalPerSecond < 1 {
			return fmt.Errorf("validator.rate_limit.global_per_second must be at least 1, got %d", rl.GlobalPerSecond)
		}
		if rl.EntityPerSecond < 1 {
			return fmt.Errorf("validator.rate_limit.entity_per_second must be at least 1, got %d", rl.EntityPerSecond)
		}
		if rl.Cooldown < 0 {
			return fmt.Errorf("validator.rate_limit.cooldown must not be negative")
		}
	}

	for _, sa := range []struct {
		key   string
		value int
	}{
		{"encoder.source_address", c.Encoder.SourceAddress},
		{"encoder.switch_source", c.Encoder.SwitchSource},
		{"encoder.vent_source", c.Encoder.VentSource},
		{"encoder.ceiling_fan_source", c.Encoder.CeilingFanSource},
	} {
		if sa.value < 0 || sa.value > 255 {
			return fmt.Errorf("%s %d out of range 0-255", sa.key, sa.value)
		}
	}

	if c.Audit.Postgres && !c.Database.Enabled {
		return fmt.Errorf("audit.postgres needs database.enabled")
	}
	return nil
}

func validPort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s %d out of range 1-65535", key, port)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// GetJWTSecret reads the signing secret from the configured environment
// variable.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// development fallback, see IsProductionReady
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != "dev-secret-change-in-production-min-32-chars" && len(secret) >= 32
}
