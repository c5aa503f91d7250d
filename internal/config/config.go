package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents runtime configuration for the service.
// It is built once at startup and passed explicitly to every component.
type Config struct {
	BasicConfig BasicConfig    `toml:"basic_config"`
	Log         LogConfig      `toml:"log"`
	Database    DatabaseConfig `toml:"database"`
	LLM         LLMConfig      `toml:"llm"`
	Voice       VoiceConfig    `toml:"voice"`
	Redis       RedisConfig    `toml:"redis"`
	Queue       QueueConfig    `toml:"queue"`
	Audio       AudioConfig    `toml:"audio"`
}

type BasicConfig struct {
	ServerAddress string `toml:"server_address"`
	GinMode       string `toml:"gin_mode"`
	QueueSize     int    `toml:"queue_size"`
	// SessionIdleTimeout in minutes; idle session workers are retired after it.
	SessionIdleTimeout int `toml:"session_idle_timeout"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type DatabaseConfig struct {
	URL                  string   `toml:"url"`
	SQLitePath           string   `toml:"sqlite_path"`
	ProbeTimeoutSeconds  int      `toml:"probe_timeout_seconds"`
	InternalHostSuffixes []string `toml:"internal_host_suffixes"`
}

type LLMConfig struct {
	Provider       string  `toml:"provider"`
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	FallbackModel  string  `toml:"fallback_model"`
	Temperature    float32 `toml:"temperature"`
	MaxTokens      int     `toml:"max_tokens"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

type VoiceConfig struct {
	BaseURL            string `toml:"base_url"`
	APIKey             string `toml:"api_key"`
	TranscribeModel    string `toml:"transcribe_model"`
	SpeechModel        string `toml:"speech_model"`
	Voice              string `toml:"voice"`
	Language           string `toml:"language"`
	AutoSpeak          bool   `toml:"auto_speak"`
	SynthesisMaxLength int    `toml:"synthesis_max_length"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
}

type RedisConfig struct {
	Addr              string `toml:"addr"`
	Username          string `toml:"username"`
	Password          string `toml:"password"`
	DB                int    `toml:"db"`
	SessionTTLMinutes int    `toml:"session_ttl_minutes"`
}

type QueueConfig struct {
	AMQPURL      string `toml:"amqp_url"`
	PersistQueue string `toml:"persist_queue"`
	Buffer       int    `toml:"buffer"`
}

type AudioConfig struct {
	Dir                    string `toml:"dir"`
	TTLMinutes             int    `toml:"ttl_minutes"`
	CleanupIntervalMinutes int    `toml:"cleanup_interval_minutes"`
	MinioEndpoint          string `toml:"minio_endpoint"`
	MinioAccessKey         string `toml:"minio_access_key"`
	MinioSecretKey         string `toml:"minio_secret_key"`
	MinioBucket            string `toml:"minio_bucket"`
	MinioUseSSL            bool   `toml:"minio_use_ssl"`
}

// Load reads configuration from the provided path (defaults to config.toml).
// A missing file is not an error; environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getEnv("GAMI_CONFIG", "config.toml")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if _, err := os.Stat(absPath); err == nil {
		if _, err := toml.DecodeFile(absPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", absPath, err)
		}
		if cfg.Database.SQLitePath != "" && !filepath.IsAbs(cfg.Database.SQLitePath) {
			cfg.Database.SQLitePath = filepath.Join(filepath.Dir(absPath), cfg.Database.SQLitePath)
		}
	}

	overrideByEnv(cfg)
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:      ":8000",
			GinMode:            "release",
			QueueSize:          16,
			SessionIdleTimeout: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Database: DatabaseConfig{
			SQLitePath:           "gami.db",
			ProbeTimeoutSeconds:  2,
			InternalHostSuffixes: []string{"railway.internal", ".internal"},
		},
		LLM: LLMConfig{
			Provider:       "openai",
			BaseURL:        "https://api.openai.com/v1",
			Model:          "anthropic/claude-3.5-sonnet",
			Temperature:    0.7,
			MaxTokens:      2000,
			TimeoutSeconds: 60,
		},
		Voice: VoiceConfig{
			TranscribeModel:    "whisper-1",
			SpeechModel:        "tts-1",
			Voice:              "onyx",
			Language:           "pt",
			AutoSpeak:          true,
			SynthesisMaxLength: 800,
			TimeoutSeconds:     60,
		},
		Redis: RedisConfig{
			SessionTTLMinutes: 24 * 60,
		},
		Queue: QueueConfig{
			PersistQueue: "gami.turn.persist",
			Buffer:       256,
		},
		Audio: AudioConfig{
			Dir:                    "audio",
			TTLMinutes:             24 * 60,
			CleanupIntervalMinutes: 60,
			MinioBucket:            "gami-audio",
		},
	}
}

// ProbeTimeout is the connect timeout used when probing an internal database host.
func (c *Config) ProbeTimeout() time.Duration {
	if c.Database.ProbeTimeoutSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Database.ProbeTimeoutSeconds) * time.Second
}

// LLMTimeout bounds one generation request.
func (c *Config) LLMTimeout() time.Duration {
	if c.LLM.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// VoiceTimeout bounds one transcription or synthesis request.
func (c *Config) VoiceTimeout() time.Duration {
	if c.Voice.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Voice.TimeoutSeconds) * time.Second
}

// inheritVoiceCredential lets the voice service share the LLM account when
// that account is OpenAI-compatible and nothing voice-specific is set.
func inheritVoiceCredential(cfg *Config) {
	openAICompatible := strings.EqualFold(cfg.LLM.Provider, "openai") || cfg.LLM.Provider == ""
	if cfg.Voice.BaseURL == "" {
		if openAICompatible && cfg.LLM.BaseURL != "" {
			cfg.Voice.BaseURL = cfg.LLM.BaseURL
		} else {
			cfg.Voice.BaseURL = getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1")
		}
	}
	if cfg.Voice.APIKey == "" {
		if openAICompatible && cfg.LLM.APIKey != "" {
			cfg.Voice.APIKey = cfg.LLM.APIKey
		} else {
			cfg.Voice.APIKey = getEnv("OPENAI_API_KEY", "")
		}
	}
}

func overrideByEnv(cfg *Config) {
	cfg.BasicConfig.ServerAddress = getEnv("SERVER_ADDRESS", cfg.BasicConfig.ServerAddress)
	cfg.BasicConfig.GinMode = getEnv("GIN_MODE", cfg.BasicConfig.GinMode)
	cfg.BasicConfig.QueueSize = getEnvAsInt("SESSION_QUEUE_SIZE", cfg.BasicConfig.QueueSize)
	cfg.BasicConfig.SessionIdleTimeout = getEnvAsInt("SESSION_IDLE_TIMEOUT_MINUTES", cfg.BasicConfig.SessionIdleTimeout)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.SQLitePath = getEnv("SQLITE_PATH", cfg.Database.SQLitePath)
	cfg.Database.ProbeTimeoutSeconds = getEnvAsInt("DB_PROBE_TIMEOUT_SECONDS", cfg.Database.ProbeTimeoutSeconds)
	cfg.Database.InternalHostSuffixes = getEnvAsList("DB_INTERNAL_HOST_SUFFIXES", cfg.Database.InternalHostSuffixes)

	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.BaseURL = getEnv("OPENAI_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = getEnv("OPENAI_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.FallbackModel = getEnv("LLM_FALLBACK_MODEL", cfg.LLM.FallbackModel)
	cfg.LLM.TimeoutSeconds = getEnvAsInt("LLM_TIMEOUT_SECONDS", cfg.LLM.TimeoutSeconds)

	cfg.Voice.BaseURL = getEnv("VOICE_BASE_URL", cfg.Voice.BaseURL)
	cfg.Voice.APIKey = getEnv("VOICE_API_KEY", cfg.Voice.APIKey)
	cfg.Voice.Voice = getEnv("VOICE_NAME", cfg.Voice.Voice)
	cfg.Voice.Language = getEnv("VOICE_LANGUAGE", cfg.Voice.Language)
	cfg.Voice.AutoSpeak = getEnvAsBool("VOICE_AUTO_SPEAK", cfg.Voice.AutoSpeak)
	cfg.Voice.SynthesisMaxLength = getEnvAsInt("VOICE_SYNTHESIS_MAX_LENGTH", cfg.Voice.SynthesisMaxLength)
	inheritVoiceCredential(cfg)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Username = getEnv("REDIS_USERNAME", cfg.Redis.Username)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.SessionTTLMinutes = getEnvAsInt("REDIS_SESSION_TTL_MINUTES", cfg.Redis.SessionTTLMinutes)

	cfg.Queue.AMQPURL = getEnv("AMQP_URL", cfg.Queue.AMQPURL)
	cfg.Queue.PersistQueue = getEnv("AMQP_PERSIST_QUEUE", cfg.Queue.PersistQueue)
	cfg.Queue.Buffer = getEnvAsInt("PERSIST_BUFFER", cfg.Queue.Buffer)

	cfg.Audio.Dir = getEnv("AUDIO_DIR", cfg.Audio.Dir)
	cfg.Audio.TTLMinutes = getEnvAsInt("AUDIO_TTL_MINUTES", cfg.Audio.TTLMinutes)
	cfg.Audio.MinioEndpoint = getEnv("MINIO_ENDPOINT", cfg.Audio.MinioEndpoint)
	cfg.Audio.MinioAccessKey = getEnv("MINIO_ACCESS_KEY", cfg.Audio.MinioAccessKey)
	cfg.Audio.MinioSecretKey = getEnv("MINIO_SECRET_KEY", cfg.Audio.MinioSecretKey)
	cfg.Audio.MinioBucket = getEnv("MINIO_BUCKET", cfg.Audio.MinioBucket)
	cfg.Audio.MinioUseSSL = getEnvAsBool("MINIO_USE_SSL", cfg.Audio.MinioUseSSL)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
