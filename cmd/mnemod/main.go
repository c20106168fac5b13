// Command mnemod runs the mnemo engine's background worker pool as a
// standalone daemon: no HTTP surface, just the five workers draining
// the job queue until signaled to stop.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/brunobiangulo/mnemo"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := mnemo.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	applyEnvOverrides(&cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := mnemo.New(ctx, cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	engine.Start(ctx)
	slog.Info("mnemod: worker pool started", "shadow_mode", cfg.Pipeline.ShadowMode, "maintenance_mode", cfg.Pipeline.MaintenanceMode)

	<-ctx.Done()
	slog.Info("mnemod: signal received, stopping workers")
	engine.Stop()
	slog.Info("mnemod: stopped cleanly")
}

// applyEnvOverrides layers MNEMO_* environment variables on top of the
// config file, then falls back to each provider's well-known API key
// env var if one wasn't set explicitly.
func applyEnvOverrides(cfg *mnemo.Config) {
	if v := os.Getenv("MNEMO_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MNEMO_CHAT_PROVIDER"); v != "" {
		cfg.Chat.Provider = v
	}
	if v := os.Getenv("MNEMO_CHAT_MODEL"); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv("MNEMO_CHAT_BASE_URL"); v != "" {
		cfg.Chat.BaseURL = v
	}
	if v := os.Getenv("MNEMO_CHAT_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv("MNEMO_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("MNEMO_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("MNEMO_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("MNEMO_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("MNEMO_SHADOW_MODE"); v != "" {
		cfg.Pipeline.ShadowMode = v == "true" || v == "1"
	}
	if v := os.Getenv("MNEMO_MAINTENANCE_MODE"); v != "" {
		cfg.Pipeline.MaintenanceMode = v
	}

	fallbackKey(&cfg.Chat.APIKey, cfg.Chat.Provider)
	fallbackKey(&cfg.Embedding.APIKey, cfg.Embedding.Provider)
	fallbackKey(&cfg.Vision.APIKey, cfg.Vision.Provider)
}

func fallbackKey(key *string, provider string) {
	if *key != "" {
		return
	}
	switch provider {
	case "openai":
		*key = os.Getenv("OPENAI_API_KEY")
	case "groq":
		*key = os.Getenv("GROQ_API_KEY")
	case "openrouter":
		*key = os.Getenv("OPENROUTER_API_KEY")
	case "xai":
		*key = os.Getenv("XAI_API_KEY")
	case "gemini":
		*key = os.Getenv("GEMINI_API_KEY")
	}
}
