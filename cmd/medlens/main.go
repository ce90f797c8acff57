package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vbonduro/medlens/internal/audiostore/local"
	"github.com/vbonduro/medlens/internal/config"
	"github.com/vbonduro/medlens/internal/db"
	"github.com/vbonduro/medlens/internal/domain"
	"github.com/vbonduro/medlens/internal/logging"
	"github.com/vbonduro/medlens/internal/media"
	"github.com/vbonduro/medlens/internal/model"
	"github.com/vbonduro/medlens/internal/model/claude"
	"github.com/vbonduro/medlens/internal/model/gemini"
	"github.com/vbonduro/medlens/internal/model/groq"
	"github.com/vbonduro/medlens/internal/model/ollama"
	"github.com/vbonduro/medlens/internal/service"
	"github.com/vbonduro/medlens/internal/speech"
	"github.com/vbonduro/medlens/internal/store"
	"github.com/vbonduro/medlens/internal/web"
	"github.com/vbonduro/medlens/internal/web/templates"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	cfg := config.Load()

	logger, cleanup, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return
	}

	lang, err := domain.ParseLanguage(cfg.DefaultLanguage)
	if err != nil {
		logger.Error("invalid DEFAULT_LANGUAGE", "error", err)
		return
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	audioStg, err := local.NewLocalAudioStore(cfg.AudioPath)
	if err != nil {
		logger.Error("failed to initialize audio store", "error", err)
		return
	}
	synth := speech.NewGoogleSynthesizer(audioStg, speech.WithGoogleBaseURL(cfg.TTSURL))

	opts := []service.Option{service.WithIdleTimeout(cfg.SessionIdle)}
	if cfg.DBPath == db.MemoryPath {
		opts = append(opts, service.WithPurgeOnEnd())
	}
	sessions := service.NewSessions(
		newModelClient(cfg, logger),
		synth,
		media.NewEncoder(cfg.MaxImageDim),
		store.NewEventStore(database),
		lang,
		logger,
		opts...,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sessions.Run(ctx, time.Minute)

	server := web.NewServer(sessions, templates.FS, logger)
	if err := server.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		logger.Error("server error", "error", err)
	}

	// Release every audio artifact still held by a live session.
	sessions.EndAll(context.Background())
}

func newModelClient(cfg *config.Config, logger *slog.Logger) model.Client {
	switch cfg.ModelBackend {
	case config.BackendGroq:
		logger.Info("using Groq model backend", "model", cfg.GroqModel)
		return groq.NewGroqClient(cfg.GroqAPIKey, cfg.GroqModel)
	case config.BackendClaude:
		logger.Info("using Claude model backend", "model", cfg.ClaudeModel)
		return claude.NewClaudeClient(cfg.ClaudeAPIKey, cfg.ClaudeModel, "")
	case config.BackendOllama:
		logger.Info("using Ollama model backend", "model", cfg.OllamaModel)
		return ollama.NewOllamaClient(cfg.OllamaHost, cfg.OllamaModel)
	default:
		logger.Info("using Gemini model backend", "model", cfg.GeminiModel)
		return gemini.NewGeminiClient(cfg.GoogleAPIKey, cfg.GeminiModel)
	}
}
