package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jogardn/delivery-tracker/pkg/models"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const EnvPrefix = "TRACKER"

const (
	SinkNone     = "none"
	SinkKafka    = "kafka"
	SinkPostgres = "postgres"
)

type Config struct {
	Role   string `mapstructure:"role"`
	UserID string `mapstructure:"user-id"`
	Token  string `mapstructure:"token"`

	APIURL    string `mapstructure:"api-url"`
	SocketURL string `mapstructure:"socket-url"`
	ORSKey    string `mapstructure:"ors-key"`
	ORSURL    string `mapstructure:"ors-url"`

	ListenAddr string `mapstructure:"listen-addr"`
	LogLevel   string `mapstructure:"log-level"`

	Tracking TrackingConfig `mapstructure:"tracking"`
	Location LocationConfig `mapstructure:"location"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Journal  JournalConfig  `mapstructure:"journal"`
}

type TrackingConfig struct {
	AcceptWindow     time.Duration `mapstructure:"accept-window"`
	CountdownTick    time.Duration `mapstructure:"countdown-tick"`
	LocationInterval time.Duration `mapstructure:"location-interval"`
	PollInterval     time.Duration `mapstructure:"poll-interval"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect-delay"`
}

// LocationConfig is the device position reported while online. A zero
// position behaves like a denied location permission.
type LocationConfig struct {
	Lat float64 `mapstructure:"lat"`
	Lng float64 `mapstructure:"lng"`
}

type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max-failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRequests int           `mapstructure:"max-requests"`
}

type JournalConfig struct {
	Sink         string `mapstructure:"sink"`
	KafkaBrokers string `mapstructure:"kafka-brokers"`
	PostgresDSN  string `mapstructure:"postgres-dsn"`
	Buffer       int    `mapstructure:"buffer"`
}

// SetDefaults registers every key so that environment variables are picked
// up by Unmarshal even without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("role", string(models.RoleCustomer))
	v.SetDefault("user-id", "")
	v.SetDefault("token", "")
	v.SetDefault("api-url", "http://localhost:8080")
	v.SetDefault("socket-url", "")
	v.SetDefault("ors-key", "")
	v.SetDefault("ors-url", "https://api.openrouteservice.org")
	v.SetDefault("listen-addr", ":8090")
	v.SetDefault("log-level", "info")

	v.SetDefault("tracking.accept-window", 25*time.Second)
	v.SetDefault("tracking.countdown-tick", time.Second)
	v.SetDefault("tracking.location-interval", 15*time.Second)
	v.SetDefault("tracking.poll-interval", 60*time.Second)
	v.SetDefault("tracking.reconnect-delay", 2*time.Second)

	v.SetDefault("location.lat", 0.0)
	v.SetDefault("location.lng", 0.0)

	v.SetDefault("breaker.max-failures", 5)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("breaker.max-requests", 1)

	v.SetDefault("journal.sink", SinkNone)
	v.SetDefault("journal.kafka-brokers", "localhost:9092")
	v.SetDefault("journal.postgres-dsn", "")
	v.SetDefault("journal.buffer", 256)
}

// Load reads an optional .env file, an optional config file and TRACKER_*
// environment variables into a Config.
func Load(v *viper.Viper, configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading env file: %w", err)
		}
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	decoderConfigOption := viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			dc.DecodeHook,
			mapstructure.StringToTimeDurationHookFunc(),
		)
	})
	if err := v.Unmarshal(&cfg, decoderConfigOption); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}

	if cfg.SocketURL == "" {
		socketURL, err := SocketURLFor(cfg.APIURL)
		if err != nil {
			return nil, err
		}
		cfg.SocketURL = socketURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch models.Role(c.Role) {
	case models.RoleCustomer, models.RoleRider:
	default:
		return fmt.Errorf("invalid role %q: must be %q or %q", c.Role, models.RoleCustomer, models.RoleRider)
	}
	if c.APIURL == "" {
		return errors.New("api-url is required")
	}
	if c.Tracking.PollInterval < 0 {
		return errors.New("tracking.poll-interval must not be negative")
	}

	switch c.Journal.Sink {
	case SinkNone, "":
	case SinkKafka:
		if c.Journal.KafkaBrokers == "" {
			return errors.New("journal.kafka-brokers is required for the kafka sink")
		}
	case SinkPostgres:
		if c.Journal.PostgresDSN == "" {
			return errors.New("journal.postgres-dsn is required for the postgres sink")
		}
	default:
		return fmt.Errorf("unknown journal sink %q", c.Journal.Sink)
	}
	return nil
}

func (c *Config) TrackerRole() models.Role {
	return models.Role(c.Role)
}

// SocketURLFor derives the push channel endpoint from the API base URL.
func SocketURLFor(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid api-url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}
