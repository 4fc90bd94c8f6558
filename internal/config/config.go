package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL         string
	DatabaseAutoMigrate bool

	// Redis
	RedisURL string

	// Scene generation
	SceneProvider string // "openai" or "gemini"
	OpenAIKey     string
	OpenAIModel   string
	GeminiKey     string
	GeminiModel   string

	// Stock footage
	PexelsKey          string
	PixabayKey         string
	DefaultMediaSource string

	// ElevenLabs (preferred TTS provider)
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// Cartesia (used when ElevenLabs key is not set)
	CartesiaKey     string
	CartesiaURL     string
	CartesiaVoiceID string

	// Shotstack render provider
	ShotstackKey       string
	ShotstackEnv       string // "stage" (sandbox) or "v1" (production)
	RenderResolution   string
	RenderAspectRatio  string
	RenderPollInterval time.Duration
	RenderPollTimeout  time.Duration

	// Object storage for narration audio and caption files
	StorageBackend        string // "supabase" or "minio"
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string
	MinIOEndpoint         string
	MinIOAccessKey        string
	MinIOSecretKey        string
	MinIOBucket           string
	MinIOUseSSL           bool

	// Worker
	MaxConcurrentJobs int
	NotifyWorkers     int
}

func Load() (*Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the configuration without validating it. Diagnostic tools
// use it to inspect whatever providers happen to be configured.
func FromEnv() *Config {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	return &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		WorkerEnabled:         getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		DatabaseAutoMigrate:   getEnvBool("DATABASE_AUTO_MIGRATE", false),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		SceneProvider:         getEnv("SCENE_PROVIDER", "openai"),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		GeminiKey:             getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		PexelsKey:             getEnv("PEXELS_API_KEY", ""),
		PixabayKey:            getEnv("PIXABAY_API_KEY", ""),
		DefaultMediaSource:    getEnv("DEFAULT_MEDIA_SOURCE", "pexels"),
		ElevenLabsKey:         getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:     getEnv("ELEVENLABS_VOICE_ID", ""),
		CartesiaKey:           getEnv("CARTESIA_API_KEY", ""),
		CartesiaURL:           getEnv("CARTESIA_API_URL", "https://api.cartesia.ai"),
		CartesiaVoiceID:       getEnv("CARTESIA_VOICE_ID", ""),
		ShotstackKey:          getEnv("SHOTSTACK_API_KEY", ""),
		ShotstackEnv:          getEnv("SHOTSTACK_ENV", "stage"),
		RenderResolution:      getEnv("RENDER_RESOLUTION", "hd"),
		RenderAspectRatio:     getEnv("RENDER_ASPECT_RATIO", "16:9"),
		RenderPollInterval:    getEnvDuration("RENDER_POLL_INTERVAL", 5*time.Second),
		RenderPollTimeout:     getEnvDuration("RENDER_POLL_TIMEOUT", 30*time.Minute),
		StorageBackend:        getEnv("STORAGE_BACKEND", "supabase"),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "narration"),
		MinIOEndpoint:         getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:        getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:        getEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:           getEnv("MINIO_BUCKET", "narration"),
		MinIOUseSSL:           getEnvBool("MINIO_USE_SSL", true),
		MaxConcurrentJobs:     getEnvInt("MAX_CONCURRENT_JOBS", 5),
		NotifyWorkers:         getEnvInt("NOTIFY_WORKERS", 2),
	}
}

// Validate checks that every provider the pipeline needs is configured.
func (cfg *Config) Validate() error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch cfg.SceneProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when SCENE_PROVIDER=openai")
		}
	case "gemini":
		if cfg.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when SCENE_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("unknown SCENE_PROVIDER %q (allowed: openai, gemini)", cfg.SceneProvider)
	}

	// At least one footage provider must be configured
	if cfg.PexelsKey == "" && cfg.PixabayKey == "" {
		return fmt.Errorf("either PEXELS_API_KEY or PIXABAY_API_KEY is required for stock footage")
	}

	if cfg.ShotstackKey == "" {
		return fmt.Errorf("SHOTSTACK_API_KEY is required")
	}

	if cfg.RenderPollInterval <= 0 {
		return fmt.Errorf("RENDER_POLL_INTERVAL must be positive")
	}

	switch cfg.StorageBackend {
	case "supabase":
		if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required when STORAGE_BACKEND=supabase")
		}
	case "minio":
		if cfg.MinIOEndpoint == "" || cfg.MinIOAccessKey == "" || cfg.MinIOSecretKey == "" {
			return fmt.Errorf("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when STORAGE_BACKEND=minio")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (allowed: supabase, minio)", cfg.StorageBackend)
	}

	return nil
}

// NarrationEnabled reports whether any TTS provider is configured. Without
// one, every project renders without audio.
func (cfg *Config) NarrationEnabled() bool {
	return cfg.ElevenLabsKey != "" || cfg.CartesiaKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("5s", "30m") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
