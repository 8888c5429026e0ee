package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server reads from the environment
type Config struct {
	MongoURI  string
	MongoDB   string
	RedisAddr string
	HTTPPort  string

	HostUsername string
	HostPassword string
	JWTSecret    string

	// SessionTTL is how long a live voice session stays visible to the host
	SessionTTL time.Duration

	AI    *AIConfig
	Voice VoiceConfig
}

// VoiceConfig configures speech providers and conversation pacing
type VoiceConfig struct {
	OpenAIKey     string
	STTModel      string
	STTLanguage   string
	TTSModel      string
	TTSVoice      string
	RedirectDelay time.Duration
	LevelInterval time.Duration
}

// SpeechEnabled reports whether real STT/TTS providers can be used
func (v VoiceConfig) SpeechEnabled() bool {
	return v.OpenAIKey != ""
}

// Load reads .env (if present) and the environment
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not read .env: %v", err)
	}

	cfg := &Config{
		MongoURI:     getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:      getEnv("MONGO_DB", "voicesurvey"),
		RedisAddr:    strings.TrimPrefix(getEnv("REDIS_URI", "localhost:6379"), "redis://"),
		HTTPPort:     getEnv("PORT", "8080"),
		HostUsername: getEnv("HOST_USERNAME", "admin"),
		HostPassword: getEnv("HOST_PASSWORD", "password123"),
		JWTSecret:    getEnv("JWT_SECRET", "super-secret-key-change-in-production"),
		SessionTTL:   getDuration("SESSION_TTL", 2*time.Hour),
		AI:           DefaultAIConfig(),
		Voice: VoiceConfig{
			OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
			STTModel:      getEnv("STT_MODEL", "whisper-1"),
			STTLanguage:   getEnv("STT_LANGUAGE", "en"),
			TTSModel:      getEnv("TTS_MODEL", "tts-1"),
			TTSVoice:      getEnv("TTS_VOICE", "alloy"),
			RedirectDelay: getDuration("REDIRECT_DELAY", 3*time.Second),
			LevelInterval: getDuration("LEVEL_INTERVAL", 16*time.Millisecond),
		},
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getDuration accepts Go durations ("3s") or plain milliseconds ("3000")
func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	log.Printf("Warning: invalid %s=%q, using %s", key, val, defaultVal)
	return defaultVal
}
