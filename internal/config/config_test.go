package config

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestLoadDefaults(t *testing.T) {
	is := is.New(t)

	cfg, err := Load("")
	is.NoErr(err)
	is.Equal(cfg.BotName, "clanker conk")
	is.Equal(cfg.CommandPrefix, "!conk")
	is.Equal(cfg.Mode, "openai")
	is.True(cfg.VoiceEnabled)
	is.Equal(cfg.MaxSessionDuration(), 45*time.Minute)
	is.Equal(cfg.SilenceTimeout(), 6*time.Second)
	is.Equal(cfg.DoneGrace(), 1500*time.Millisecond)
	is.Equal(cfg.MaxResponseRetries, 2)
	is.Equal(cfg.SupersedeMinAge(), 2*time.Second)
	is.Equal(cfg.FocusWindowTTL(), 30*time.Second)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	is := is.New(t)
	t.Setenv("CLANKER_MODE", "gemini")
	t.Setenv("CLANKER_SILENCE_TIMEOUT_SECONDS", "9")

	cfg, err := Load("")
	is.NoErr(err)
	is.Equal(cfg.Mode, "gemini")
	is.Equal(cfg.SilenceTimeout(), 9*time.Second)
}

func TestClampPullsToBounds(t *testing.T) {
	is := is.New(t)

	cfg := &Config{MaxSessionMinutes: 999, InactivitySeconds: 1, MaxResponseRetries: -3}
	cfg.clamp()
	is.Equal(cfg.MaxSessionMinutes, 120)
	is.Equal(cfg.InactivitySeconds, 20)
	is.Equal(cfg.MaxResponseRetries, 0)
}

func TestValidate(t *testing.T) {
	is := is.New(t)

	cfg, err := Load("")
	is.NoErr(err)
	is.True(cfg.Validate() != nil) // no discord token

	cfg.DiscordToken = "token"
	is.True(cfg.Validate() != nil) // openai mode without key

	cfg.OpenAIKey = "sk-test"
	is.NoErr(cfg.Validate())

	cfg.Mode = "elevenlabs"
	cfg.ElevenLabsKey = "xi-test"
	is.True(cfg.Validate() != nil) // agent id required

	cfg.ElevenLabsAgent = "agent-1"
	is.NoErr(cfg.Validate())

	cfg.Mode = "teleport"
	is.True(cfg.Validate() != nil)
}

func TestKeyFor(t *testing.T) {
	is := is.New(t)

	cfg := &Config{OpenAIKey: "oa", XAIKey: "xa", GeminiKey: "ge", ElevenLabsKey: "el"}
	is.Equal(cfg.KeyFor("openai"), "oa")
	is.Equal(cfg.KeyFor("grok"), "xa")
	is.Equal(cfg.KeyFor("gemini"), "ge")
	is.Equal(cfg.KeyFor("elevenlabs"), "el")
}
