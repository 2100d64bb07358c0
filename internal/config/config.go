package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Audio     AudioConfig
	Upload    UploadConfig
	Jobs      JobsConfig
	Media     MediaConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	ExtendPerHour int
	UploadPerHour int
}

type AudioConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

type UploadConfig struct {
	MaxBytes   int64
	StagingDir string
}

type JobsConfig struct {
	SweepIntervalMin int
	RetentionMin     int
}

type MediaConfig struct {
	Root string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("audio.service_url", "AUDIO_SERVICE_URL")
	_ = viper.BindEnv("audio.timeout", "AUDIO_SERVICE_TIMEOUT")
	_ = viper.BindEnv("upload.max_bytes", "UPLOAD_MAX_BYTES")
	_ = viper.BindEnv("upload.staging_dir", "UPLOAD_STAGING_DIR")
	_ = viper.BindEnv("jobs.sweep_interval_min", "JOBS_SWEEP_INTERVAL_MIN")
	_ = viper.BindEnv("jobs.retention_min", "JOBS_RETENTION_MIN")
	_ = viper.BindEnv("media.root", "MEDIA_ROOT")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.extend_per_hour", 10)
	viper.SetDefault("ratelimit.upload_per_hour", 50)
	viper.SetDefault("audio.service_url", "")
	viper.SetDefault("audio.timeout", 600)
	viper.SetDefault("upload.max_bytes", 50*1024*1024)
	viper.SetDefault("upload.staging_dir", "/var/lib/extendamix/uploads")
	viper.SetDefault("jobs.sweep_interval_min", 30)
	viper.SetDefault("jobs.retention_min", 60)
	viper.SetDefault("media.root", "/var/lib/extendamix/media")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			ExtendPerHour: viper.GetInt("ratelimit.extend_per_hour"),
			UploadPerHour: viper.GetInt("ratelimit.upload_per_hour"),
		},
		Audio: AudioConfig{
			ServiceURL: viper.GetString("audio.service_url"),
			Timeout:    viper.GetInt("audio.timeout"),
		},
		Upload: UploadConfig{
			MaxBytes:   viper.GetInt64("upload.max_bytes"),
			StagingDir: viper.GetString("upload.staging_dir"),
		},
		Jobs: JobsConfig{
			SweepIntervalMin: viper.GetInt("jobs.sweep_interval_min"),
			RetentionMin:     viper.GetInt("jobs.retention_min"),
		},
		Media: MediaConfig{
			Root: viper.GetString("media.root"),
		},
	}

	return cfg, nil
}
