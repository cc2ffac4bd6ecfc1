package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

type Config struct {
	Env                string
	ServerURL          string
	StorageBackend     string
	DatabaseURL        string
	RedisURL           string
	ProfileCacheTTL    time.Duration
	AttachmentBackend  string
	FirebaseBucket     string
	S3Endpoint         string
	S3Region           string
	S3AccessKeyID      string
	S3SecretAccessKey  string
	S3Bucket           string
	S3PublicURL        string
	ReadBatchSize      int
	MaxAttachmentBytes int64
}

// Load reads the .env file (if any), the environment, then command-line flags.
func Load(args []string) (Config, error) {
	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	envFile := flags.String("env-file", ".env", "dotenv file to load before reading the environment")
	addr := flags.String("addr", "", "listen address, overrides SERVER_URL")
	backend := flags.String("storage", "", "conversation storage backend (firestore|memory), overrides STORAGE_BACKEND")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	if err := godotenv.Load(*envFile); err != nil {
		log.Debug().Str("file", *envFile).Msg("no dotenv file loaded")
	}

	cfg := Config{
		Env:                getenv("APP_ENV", "development"),
		ServerURL:          getenv("SERVER_URL", "localhost:3003"),
		StorageBackend:     getenv("STORAGE_BACKEND", "firestore"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		ProfileCacheTTL:    getDuration("PROFILE_CACHE_TTL", 10*time.Minute),
		AttachmentBackend:  getenv("ATTACHMENT_BACKEND", "firebase"),
		FirebaseBucket:     os.Getenv("FIREBASE_STORAGE_BUCKET"),
		S3Endpoint:         os.Getenv("S3_ENDPOINT"),
		S3Region:           getenv("S3_REGION", "auto"),
		S3AccessKeyID:      os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:  os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3PublicURL:        os.Getenv("S3_PUBLIC_URL"),
		ReadBatchSize:      getInt("READ_BATCH_SIZE", 100),
		MaxAttachmentBytes: int64(getInt("MAX_ATTACHMENT_BYTES", 10<<20)),
	}
	if *addr != "" {
		cfg.ServerURL = *addr
	}
	if *backend != "" {
		cfg.StorageBackend = *backend
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring invalid integer setting")
		return fallback
	}
	return i
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring invalid duration setting")
		return fallback
	}
	return d
}
