// Package config loads runtime configuration from a YAML file and
// CLANKER_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	VoiceEnabled  bool   `mapstructure:"voice_enabled"`
	BotName       string `mapstructure:"bot_name"`
	CommandPrefix string `mapstructure:"command_prefix"`
	LogLevel      string `mapstructure:"log_level"`

	DiscordToken    string `mapstructure:"discord_token"`
	OpenAIKey       string `mapstructure:"openai_key"`
	XAIKey          string `mapstructure:"xai_key"`
	GeminiKey       string `mapstructure:"gemini_key"`
	ElevenLabsKey   string `mapstructure:"elevenlabs_key"`
	ElevenLabsAgent string `mapstructure:"elevenlabs_agent"`

	Mode         string `mapstructure:"mode"` // openai, grok, gemini, elevenlabs, pipeline
	Voice        string `mapstructure:"voice"`
	Instructions string `mapstructure:"instructions"`

	MaxSessionMinutes   int `mapstructure:"max_session_minutes"` // clamped 1-120
	InactivitySeconds   int `mapstructure:"inactivity_seconds"`  // clamped 20-3600
	DisconnectGraceSecs int `mapstructure:"disconnect_grace_seconds"`
	CaptureIdleMillis   int `mapstructure:"capture_idle_ms"`
	CaptureMaxSeconds   int `mapstructure:"capture_max_seconds"`
	EchoSuppressMillis  int `mapstructure:"echo_suppress_ms"`
	SilenceTimeoutSecs  int `mapstructure:"silence_timeout_seconds"`
	DoneGraceMillis     int `mapstructure:"done_grace_ms"`
	MaxResponseRetries  int `mapstructure:"max_response_retries"`
	SupersedeMinAgeSecs int `mapstructure:"supersede_min_age_seconds"`
	FocusWindowSecs     int `mapstructure:"focus_window_seconds"`
	ClassifierRetries   int `mapstructure:"classifier_retries"`

	MaxConcurrentSessions int      `mapstructure:"max_concurrent_sessions"`
	MaxDailySessions      int      `mapstructure:"max_daily_sessions"`
	BlockedGuilds         []string `mapstructure:"blocked_guilds"`
	AllowedGuilds         []string `mapstructure:"allowed_guilds"`
	BlockedUsers          []string `mapstructure:"blocked_users"`
	BlockedChannels       []string `mapstructure:"blocked_channels"`
	AllowedChannels       []string `mapstructure:"allowed_channels"`
}

// Load reads the config file at path (optional) and the environment.
// Environment variables use the CLANKER_ prefix, e.g. CLANKER_DISCORD_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CLANKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("voice_enabled", true)
	v.SetDefault("bot_name", "clanker conk")
	v.SetDefault("command_prefix", "!conk")
	v.SetDefault("log_level", "info")
	v.SetDefault("mode", "openai")
	v.SetDefault("voice", "alloy")
	v.SetDefault("max_session_minutes", 45)
	v.SetDefault("inactivity_seconds", 300)
	v.SetDefault("disconnect_grace_seconds", 15)
	v.SetDefault("capture_idle_ms", 1200)
	v.SetDefault("capture_max_seconds", 25)
	v.SetDefault("echo_suppress_ms", 800)
	v.SetDefault("silence_timeout_seconds", 6)
	v.SetDefault("done_grace_ms", 1500)
	v.SetDefault("max_response_retries", 2)
	v.SetDefault("supersede_min_age_seconds", 2)
	v.SetDefault("focus_window_seconds", 30)
	v.SetDefault("classifier_retries", 2)
	v.SetDefault("max_concurrent_sessions", 0)
	v.SetDefault("max_daily_sessions", 0)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.clamp()
	return &cfg, nil
}

// clamp keeps lifecycle knobs inside operational bounds. Bad values are
// pulled to the nearest bound rather than rejected.
func (c *Config) clamp() {
	clampInt := func(v *int, lo, hi int) {
		if *v < lo {
			*v = lo
		}
		if *v > hi {
			*v = hi
		}
	}
	clampInt(&c.MaxSessionMinutes, 1, 120)
	clampInt(&c.InactivitySeconds, 20, 3600)
	if c.MaxResponseRetries < 0 {
		c.MaxResponseRetries = 0
	}
	if c.ClassifierRetries < 0 {
		c.ClassifierRetries = 0
	}
}

// Validate checks the fields without which the process cannot start.
func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("config: discord_token is required")
	}
	switch c.Mode {
	case "openai", "grok", "gemini", "elevenlabs", "pipeline":
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	if key := c.backendKey(); key == "" {
		return fmt.Errorf("config: mode %q needs its API key", c.Mode)
	}
	if c.Mode == "elevenlabs" && c.ElevenLabsAgent == "" {
		return fmt.Errorf("config: elevenlabs mode needs elevenlabs_agent")
	}
	return nil
}

func (c *Config) backendKey() string {
	switch c.Mode {
	case "grok":
		return c.XAIKey
	case "gemini":
		return c.GeminiKey
	case "elevenlabs":
		return c.ElevenLabsKey
	default:
		return c.OpenAIKey
	}
}

// BackendKey returns the API key for the configured mode.
func (c *Config) BackendKey() string { return c.backendKey() }

// KeyFor returns the API key for an arbitrary backend mode.
func (c *Config) KeyFor(mode string) string {
	switch mode {
	case "grok":
		return c.XAIKey
	case "gemini":
		return c.GeminiKey
	case "elevenlabs":
		return c.ElevenLabsKey
	default:
		return c.OpenAIKey
	}
}

// Durations derived from the integer knobs.

func (c *Config) MaxSessionDuration() time.Duration {
	return time.Duration(c.MaxSessionMinutes) * time.Minute
}

func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivitySeconds) * time.Second
}

func (c *Config) DisconnectGrace() time.Duration {
	return time.Duration(c.DisconnectGraceSecs) * time.Second
}

func (c *Config) CaptureIdle() time.Duration {
	return time.Duration(c.CaptureIdleMillis) * time.Millisecond
}

func (c *Config) CaptureMax() time.Duration {
	return time.Duration(c.CaptureMaxSeconds) * time.Second
}

func (c *Config) EchoSuppressWindow() time.Duration {
	return time.Duration(c.EchoSuppressMillis) * time.Millisecond
}

func (c *Config) SilenceTimeout() time.Duration {
	return time.Duration(c.SilenceTimeoutSecs) * time.Second
}

func (c *Config) DoneGrace() time.Duration {
	return time.Duration(c.DoneGraceMillis) * time.Millisecond
}

func (c *Config) SupersedeMinAge() time.Duration {
	return time.Duration(c.SupersedeMinAgeSecs) * time.Second
}

func (c *Config) FocusWindowTTL() time.Duration {
	return time.Duration(c.FocusWindowSecs) * time.Second
}
