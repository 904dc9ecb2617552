package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"socket-service/internal/domain"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig             `mapstructure:"server"`
	Socket   SocketConfig             `mapstructure:"socket"`
	Redis    RedisConfig              `mapstructure:"redis"`
	Log      LogConfig                `mapstructure:"log"`
	Health   HealthConfig             `mapstructure:"health"`
	Instance InstanceConfig           `mapstructure:"instance"`
	Mongoose *domain.MongooseSettings `mapstructure:"mongoose"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	Host            string        `mapstructure:"host" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type SocketConfig struct {
	Path           string        `mapstructure:"path" validate:"required,startswith=/"`
	PingInterval   time.Duration `mapstructure:"ping_interval" validate:"gte=1s"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ReadLimit      int64         `mapstructure:"read_limit" validate:"gt=0"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
	Channel  string `mapstructure:"channel" validate:"required_if=Enabled true"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
}

type HealthConfig struct {
	Schedule string `mapstructure:"schedule" validate:"required"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("socket.path", "/socket")
	v.SetDefault("socket.ping_interval", 25*time.Second)
	v.SetDefault("socket.write_timeout", 10*time.Second)
	v.SetDefault("socket.read_limit", 1<<20)
	v.SetDefault("socket.allowed_origins", []string{})
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "socket_events")
	v.SetDefault("log.level", "info")
	v.SetDefault("health.schedule", "@every 1m")
	v.SetDefault("instance.id", "")
}

func bindEnv(v *viper.Viper) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.host", "SERVER_HOST")
	_ = v.BindEnv("socket.path", "SOCKET_PATH")
	_ = v.BindEnv("socket.ping_interval", "SOCKET_PING_INTERVAL")
	_ = v.BindEnv("redis.enabled", "REDIS_ENABLED")
	_ = v.BindEnv("redis.address", "REDIS_ADDRESS")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("instance.id", "INSTANCE_ID")
	_ = v.BindEnv("mongoose.url", "MONGOOSE_URL")
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Configuration file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/socket-service/")

	bindEnv(v)

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	if err := checkConnectionNames(v.ConfigFileUsed()); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := checkConnectionNames(v.ConfigFileUsed()); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

type rawConfigFile struct {
	Mongoose struct {
		URLs map[string]yaml.Node `yaml:"urls"`
	} `yaml:"mongoose"`
}

// checkConnectionNames rejects mongoose.urls keys that differ only by case.
// Viper lowercases map keys, so such entries would otherwise be merged.
func checkConnectionNames(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var raw rawConfigFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("mongoose: %w", err)
	}

	seen := make(map[string]string, len(raw.Mongoose.URLs))
	for name := range raw.Mongoose.URLs {
		key := strings.ToLower(name)
		if other, ok := seen[key]; ok {
			return fmt.Errorf("mongoose: %w: %q conflicts with %q", domain.ErrDuplicateConnection, name, other)
		}
		seen[key] = name
	}
	return nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Mongoose.IsEmpty() {
		config.Mongoose = nil
	}
	if config.Instance.ID == "" {
		config.Instance.ID = uuid.NewString()
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ConnectionPlan resolves the mongoose section.
func (c *Config) ConnectionPlan() (domain.ConnectionPlan, error) {
	return domain.ResolveConnectionPlan(c.Mongoose)
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	connections := "none"
	if plan, err := c.ConnectionPlan(); err == nil {
		if targets := plan.Targets(); len(targets) > 0 {
			names := make([]string, 0, len(targets))
			for _, t := range targets {
				names = append(names, t.Name)
			}
			connections = strings.Join(names, ",")
		}
	}

	return fmt.Sprintf(
		"Server: %s:%d, Socket: %s, Redis: %t(%s), Mongo: %s, Instance: %s",
		c.Server.Host,
		c.Server.Port,
		c.Socket.Path,
		c.Redis.Enabled,
		c.Redis.Address,
		connections,
		c.Instance.ID,
	)
}
