package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/Volpestyle/clanker-conk-sub003/internal/bot"
	"github.com/Volpestyle/clanker-conk-sub003/internal/config"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/addressing"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/gateway/discord"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/llm"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/notify"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/pipeline"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/realtime"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/store"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/version"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/voice"
)

var rootCmd = &cobra.Command{
	Use:          "clanker",
	Short:        "clanker conk - a multi-party voice channel agent",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and serve voice sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger := setupLogger(cfg.LogLevel)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return run(ctx, cfg, logger)
	},
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting",
		slog.String("service", "clanker"),
		slog.String("version", version.Version),
		slog.String("commit", version.GitCommit),
		slog.String("mode", cfg.Mode))

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent
	session.State.TrackVoice = true
	if err := session.Open(); err != nil {
		return fmt.Errorf("opening discord gateway: %w", err)
	}
	defer session.Close()

	gw := discord.New(session, logger)

	composer := llm.NewOpenAIClient(cfg.OpenAIKey, "", logger)
	engine := addressing.NewEngine(addressing.EngineConfig{
		BotName:              cfg.BotName,
		Classifier:           composer,
		MaxClassifierRetries: cfg.ClassifierRetries,
		FocusWindowTTL:       cfg.FocusWindowTTL(),
		Logger:               logger,
	})
	notifier := notify.NewComposed(composer, gw, logger)
	actions := store.NewMemory()

	var transcriber voice.Transcriber
	var responder voice.Responder
	var pipelineReady func(context.Context) error
	if cfg.OpenAIKey != "" {
		pl := pipeline.New(pipeline.Config{
			Client:   openai.NewClient(cfg.OpenAIKey),
			Composer: composer,
			Voice:    cfg.Voice,
			Persona:  cfg.Instructions,
			Logger:   logger,
		})
		if cfg.Mode == voice.ModePipeline {
			probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := pl.Ready(probeCtx)
			cancel()
			if err != nil {
				return err
			}
		}
		transcriber = pl
		responder = pl
		pipelineReady = pl.Ready
	}

	var factory voice.BackendFactory
	if cfg.Mode != voice.ModePipeline {
		factory = func(mode string) (realtime.Client, error) {
			return realtime.New(mode, realtime.Config{
				APIKey:  cfg.KeyFor(mode),
				AgentID: cfg.ElevenLabsAgent,
				Logger:  logger,
			})
		}
	}

	manager := voice.NewManager(voice.ManagerConfig{
		Gateway:       gw,
		Engine:        engine,
		Transcriber:   transcriber,
		Responder:     responder,
		Notifier:      notifier,
		Actions:       actions,
		NewBackend:    factory,
		PipelineReady: pipelineReady,

		DefaultMode:  cfg.Mode,
		Voice:        cfg.Voice,
		Instructions: cfg.Instructions,

		Disabled:        !cfg.VoiceEnabled,
		MaxConcurrent:   cfg.MaxConcurrentSessions,
		MaxDaily:        cfg.MaxDailySessions,
		BlockedGuilds:   cfg.BlockedGuilds,
		AllowedGuilds:   cfg.AllowedGuilds,
		BlockedUsers:    cfg.BlockedUsers,
		BlockedChannels: cfg.BlockedChannels,
		AllowedChannels: cfg.AllowedChannels,

		Session: voice.Options{
			BotName:            cfg.BotName,
			MaxSessionDuration: cfg.MaxSessionDuration(),
			InactivityTimeout:  cfg.InactivityTimeout(),
			DisconnectGrace:    cfg.DisconnectGrace(),
			CaptureIdle:        cfg.CaptureIdle(),
			CaptureMax:         cfg.CaptureMax(),
			EchoSuppressWindow: cfg.EchoSuppressWindow(),
			SilenceTimeout:     cfg.SilenceTimeout(),
			DoneGrace:          cfg.DoneGrace(),
			MaxResponseRetries: cfg.MaxResponseRetries,
			SupersedeMinAge:    cfg.SupersedeMinAge(),
			FocusWindowTTL:     cfg.FocusWindowTTL(),
		},
		Logger: logger,
	})

	commands := bot.New(session, manager, notifier, cfg.CommandPrefix, logger)
	commands.Start()
	defer commands.Stop()

	logger.Info("ready",
		slog.String("prefix", cfg.CommandPrefix),
		slog.String("bot_name", cfg.BotName))

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.Shutdown(shutdownCtx)
	return nil
}

func setupLogger(level string) *slog.Logger {
	opts := &slog.HandlerOptions{}
	switch level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if os.Getenv("CLANKER_LOG_FORMAT") == "console" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func main() {
	runCmd.Flags().String("config", "", "Path to YAML config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
