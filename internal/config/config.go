// Package config loads orchestrator settings. Environment variables override
// the config file, which overrides built-in defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MUSIC_BOT_SERVER_HTTP_ADDR.
const EnvPrefix = "MUSIC_BOT"

type Config struct {
	Server struct {
		HTTPAddr   string `mapstructure:"http_addr"`
		SocketPath string `mapstructure:"socket_path"`
	} `mapstructure:"server"`
	Player struct {
		DefaultVolume  int           `mapstructure:"default_volume"`
		CommandTimeout time.Duration `mapstructure:"command_timeout"`
	} `mapstructure:"player"`
	Events struct {
		PositionSampleInterval time.Duration `mapstructure:"position_sample_interval"`
		QueueSize              int           `mapstructure:"queue_size"`
	} `mapstructure:"events"`
	Backend struct {
		Kind           string        `mapstructure:"kind"`
		Format         string        `mapstructure:"format"`
		TickInterval   time.Duration `mapstructure:"tick_interval"`
		StuckThreshold time.Duration `mapstructure:"stuck_threshold"`
		SampleRate     int           `mapstructure:"sample_rate"`
		Channels       int           `mapstructure:"channels"`
	} `mapstructure:"backend"`
	History struct {
		Enabled bool   `mapstructure:"enabled"`
		DSN     string `mapstructure:"dsn"`
	} `mapstructure:"history"`
	YouTube struct {
		CookiesBrowser string `mapstructure:"cookies_browser"`
		CookiesFile    string `mapstructure:"cookies_file"`
	} `mapstructure:"youtube"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

var defaults = map[string]any{
	"server.http_addr":                ":8180",
	"server.socket_path":              "/tmp/music-playground.sock",
	"player.default_volume":           100,
	"player.command_timeout":          "10s",
	"events.position_sample_interval": "350ms",
	"events.queue_size":               64,
	"backend.kind":                    "ffmpeg",
	"backend.format":                  "web",
	"backend.tick_interval":           "250ms",
	"backend.stuck_threshold":         "10s",
	"backend.sample_rate":             48000,
	"backend.channels":                2,
	"history.enabled":                 true,
	"history.dsn":                     "history.db",
	"youtube.cookies_browser":         "",
	"youtube.cookies_file":            "",
	"log.level":                       "info",
	"log.format":                      "console",
}

// Load reads path, or config.yaml from the working directory or
// ~/.config/music-orchestrator when path is empty, applies environment
// overrides and validates.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "music-orchestrator"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.HTTPAddr == "" {
		errs = append(errs, errors.New("server.http_addr is required"))
	}
	if c.Player.DefaultVolume < 0 || c.Player.DefaultVolume > 150 {
		errs = append(errs, errors.Newf("player.default_volume %d out of range 0..150", c.Player.DefaultVolume))
	}
	if c.Player.CommandTimeout <= 0 {
		errs = append(errs, errors.New("player.command_timeout must be positive"))
	}
	if c.Events.QueueSize <= 0 {
		errs = append(errs, errors.New("events.queue_size must be positive"))
	}
	switch c.Backend.Kind {
	case "ffmpeg", "simulated":
	default:
		errs = append(errs, errors.Newf("backend.kind %q must be ffmpeg or simulated", c.Backend.Kind))
	}
	switch c.Backend.Format {
	case "pcm", "opus", "web":
	default:
		errs = append(errs, errors.Newf("backend.format %q must be pcm, opus or web", c.Backend.Format))
	}
	if c.Backend.TickInterval <= 0 {
		errs = append(errs, errors.New("backend.tick_interval must be positive"))
	}
	if c.History.Enabled && c.History.DSN == "" {
		errs = append(errs, errors.New("history.dsn is required when history is enabled"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, errors.Newf("log.format %q must be console or json", c.Log.Format))
	}
	return errors.Join(errs...)
}
