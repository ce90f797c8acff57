package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	BackendGemini = "gemini"
	BackendGroq   = "groq"
	BackendClaude = "claude"
	BackendOllama = "ollama"
)

type Config struct {
	ListenAddr      string
	DBPath          string
	ModelBackend    string
	GoogleAPIKey    string
	GeminiModel     string
	GroqAPIKey      string
	GroqModel       string
	ClaudeAPIKey    string
	ClaudeModel     string
	OllamaHost      string
	OllamaModel     string
	TTSURL          string
	AudioPath       string
	MaxImageDim     int
	SessionIdle     time.Duration
	DefaultLanguage string
	LogLevel        string
	LogFormat       string
	LogFile         string
}

func Load() *Config {
	return &Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		DBPath:          getEnv("DB_PATH", ":memory:"),
		ModelBackend:    getEnv("MODEL_BACKEND", BackendGemini),
		GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GroqAPIKey:      getEnv("GROQ_API_KEY", ""),
		GroqModel:       getEnv("GROQ_MODEL", "meta-llama/llama-4-scout-17b-16e-instruct"),
		ClaudeAPIKey:    getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:     getEnv("CLAUDE_MODEL", "claude-sonnet-4-5"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:     getEnv("OLLAMA_MODEL", "llava"),
		TTSURL:          getEnv("TTS_URL", "https://translate.google.com/translate_tts"),
		AudioPath:       getEnv("AUDIO_PATH", filepath.Join(os.TempDir(), "medlens-audio")),
		MaxImageDim:     getEnvInt("MAX_IMAGE_DIM", 1568),
		SessionIdle:     getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "English"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		LogFile:         getEnv("LOG_FILE", ""),
	}
}

// Validate checks that the selected model backend has what it needs.
func (c *Config) Validate() error {
	switch c.ModelBackend {
	case BackendGemini:
		if c.GoogleAPIKey == "" {
			return fmt.Errorf("GOOGLE_API_KEY is required when MODEL_BACKEND=%s", c.ModelBackend)
		}
	case BackendGroq:
		if c.GroqAPIKey == "" {
			return fmt.Errorf("GROQ_API_KEY is required when MODEL_BACKEND=%s", c.ModelBackend)
		}
	case BackendClaude:
		if c.ClaudeAPIKey == "" {
			return fmt.Errorf("CLAUDE_API_KEY is required when MODEL_BACKEND=%s", c.ModelBackend)
		}
	case BackendOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("OLLAMA_HOST is required when MODEL_BACKEND=%s", c.ModelBackend)
		}
	default:
		return fmt.Errorf("unknown MODEL_BACKEND %q", c.ModelBackend)
	}
	if c.MaxImageDim < 0 {
		return fmt.Errorf("MAX_IMAGE_DIM must not be negative")
	}
	if c.SessionIdle < 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must not be negative")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
