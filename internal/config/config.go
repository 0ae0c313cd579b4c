package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode      string `mapstructure:"mode"`
	Role      string `mapstructure:"role"`
	Port      int    `mapstructure:"port"`
	Secret    string `mapstructure:"secret"`
	LogLevel  string `mapstructure:"log_level"`
	SignalURL string `mapstructure:"signal_url"`

	ICEServers      []string      `mapstructure:"ice_servers"`
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"`

	PrimaryGrace time.Duration `mapstructure:"primary_grace"`
	ControlGrace time.Duration `mapstructure:"control_grace"`
	AudioGrace   time.Duration `mapstructure:"audio_grace"`

	Audio AudioConfig `mapstructure:"audio"`

	StatusCheckLimit    int           `mapstructure:"status_check_limit"`
	StatusCheckInterval time.Duration `mapstructure:"status_check_interval"`
}

type AudioConfig struct {
	Source string `mapstructure:"source"`
	File   string `mapstructure:"file"`
	Loop   bool   `mapstructure:"loop"`
}

// flagKeys maps command line flags to the config keys they override.
var flagKeys = map[string]string{
	"role":         "role",
	"port":         "port",
	"signal-url":   "signal_url",
	"audio-source": "audio.source",
	"audio-file":   "audio.file",
	"log-level":    "log_level",
}

func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("speakinturn", pflag.ContinueOnError)
	fs.String("role", "", "participant or moderator")
	fs.Int("port", 0, "control API port")
	fs.String("signal-url", "", "base URL of the signaling endpoint")
	fs.String("audio-source", "", "microphone or file")
	fs.String("audio-file", "", "Ogg/Opus file for the file source")
	fs.String("log-level", "", "zerolog level")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("role", "participant")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "speakinturn")
	v.SetDefault("log_level", "info")
	v.SetDefault("signal_url", "http://localhost:8000")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("exchange_timeout", "10s")
	v.SetDefault("primary_grace", "5s")
	v.SetDefault("control_grace", "500ms")
	v.SetDefault("audio_grace", "500ms")
	v.SetDefault("audio.source", "microphone")
	v.SetDefault("audio.file", "")
	v.SetDefault("audio.loop", true)
	v.SetDefault("status_check_limit", 3)
	v.SetDefault("status_check_interval", "10s")
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults and applies
// the flags that were set explicitly. The returned viper instance keeps
// watching the file.
func Load(flags *pflag.FlagSet) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	logger := log.With().Str("module", "config").Logger()
	if err := v.ReadInConfig(); err != nil {
		logger.Warn().Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		logger.Info().Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}
	logger.Info().
		Str("mode", cfg.Mode).
		Str("role", cfg.Role).
		Int("port", cfg.Port).
		Str("signal_url", cfg.SignalURL).
		Msg("config")
	return &cfg, v, nil
}

// WatchLogLevel re-applies log_level whenever the config file changes.
func WatchLogLevel(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level := v.GetString("log_level")
		if err := ApplyLogLevel(level); err != nil {
			log.Error().Err(err).Str("module", "config").Msg("reload log level")
			return
		}
		log.Info().Str("module", "config").Str("file", e.Name).Str("log_level", level).Msg("log level reloaded")
	})
	v.WatchConfig()
}

func ApplyLogLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
