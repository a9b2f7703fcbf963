package config

import (
	"os"
	"strings"
	"time"

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
	Server     ServerConfig
	Storage    StorageConfig
	Transcoder TranscoderConfig
	Generation GenerationConfig
	Export     ExportConfig
	Dispatch   DispatchConfig
	Redis      RedisConfig
	R2         R2Config
}

type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	RoutePrefix string
	BodyLimitMB int
}

type StorageConfig struct {
	Root        string
	UploadMaxMB int
}

type TranscoderConfig struct {
	FFmpegPath string
	SampleRate int
	Channels   int
}

type GenerationConfig struct {
	Backend         string // mock, command or http
	Command         string
	Script          string
	Checkpoint      string
	WorkingDir      string
	ServiceURL      string
	Timeout         int // seconds, 0 means no limit
	EstimateSeconds int
	ProgressTickMS  int
}

// EstimateDuration is how long the model phase is expected to take.
func (c GenerationConfig) EstimateDuration() time.Duration {
	return time.Duration(c.EstimateSeconds) * time.Second
}

// ProgressTick is the interval between estimated progress writes.
func (c GenerationConfig) ProgressTick() time.Duration {
	return time.Duration(c.ProgressTickMS) * time.Millisecond
}

type ExportConfig struct {
	Enabled    bool
	Command    string
	Script     string
	FBXSource  string
	WorkingDir string
}

type DispatchConfig struct {
	Mode        string // local or asynq
	Concurrency int
	Instance    string // asynq queue suffix, defaults to the hostname
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	EventsEnabled bool
	EventsChannel string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// Enabled reports whether enough credentials are present to mirror artifacts.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "PORT", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.route_prefix", "ROUTE_PREFIX")
	_ = v.BindEnv("server.body_limit_mb", "BODY_LIMIT_MB")
	_ = v.BindEnv("storage.root", "STORAGE_ROOT")
	_ = v.BindEnv("storage.upload_max_mb", "UPLOAD_MAX_MB")
	_ = v.BindEnv("transcoder.ffmpeg_path", "FFMPEG_PATH")
	_ = v.BindEnv("transcoder.sample_rate", "TRANSCODER_SAMPLE_RATE")
	_ = v.BindEnv("transcoder.channels", "TRANSCODER_CHANNELS")
	_ = v.BindEnv("generation.backend", "GENERATION_BACKEND")
	_ = v.BindEnv("generation.command", "GENERATION_COMMAND")
	_ = v.BindEnv("generation.script", "GENERATION_SCRIPT")
	_ = v.BindEnv("generation.checkpoint", "GENERATION_CHECKPOINT")
	_ = v.BindEnv("generation.working_dir", "GENERATION_WORKING_DIR")
	_ = v.BindEnv("generation.service_url", "GENERATION_SERVICE_URL")
	_ = v.BindEnv("generation.timeout", "GENERATION_TIMEOUT")
	_ = v.BindEnv("generation.estimate_seconds", "GENERATION_ESTIMATE_SECONDS")
	_ = v.BindEnv("generation.progress_tick_ms", "GENERATION_PROGRESS_TICK_MS")
	_ = v.BindEnv("export.enabled", "EXPORT_ENABLED")
	_ = v.BindEnv("export.command", "EXPORT_COMMAND")
	_ = v.BindEnv("export.script", "EXPORT_SCRIPT")
	_ = v.BindEnv("export.fbx_source", "EXPORT_FBX_SOURCE")
	_ = v.BindEnv("export.working_dir", "EXPORT_WORKING_DIR")
	_ = v.BindEnv("dispatch.mode", "DISPATCH_MODE")
	_ = v.BindEnv("dispatch.concurrency", "DISPATCH_CONCURRENCY")
	_ = v.BindEnv("dispatch.instance", "DISPATCH_INSTANCE")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("redis.events_enabled", "REDIS_EVENTS_ENABLED")
	_ = v.BindEnv("redis.events_channel", "REDIS_EVENTS_CHANNEL")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	setDefaults(v)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	instance := v.GetString("dispatch.instance")
	if instance == "" {
		instance, _ = os.Hostname()
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetString("server.port"),
			Env:         v.GetString("server.env"),
			LogLevel:    v.GetString("server.log_level"),
			RoutePrefix: strings.TrimRight(v.GetString("server.route_prefix"), "/"),
			BodyLimitMB: v.GetInt("server.body_limit_mb"),
		},
		Storage: StorageConfig{
			Root:        v.GetString("storage.root"),
			UploadMaxMB: v.GetInt("storage.upload_max_mb"),
		},
		Transcoder: TranscoderConfig{
			FFmpegPath: v.GetString("transcoder.ffmpeg_path"),
			SampleRate: v.GetInt("transcoder.sample_rate"),
			Channels:   v.GetInt("transcoder.channels"),
		},
		Generation: GenerationConfig{
			Backend:         strings.ToLower(v.GetString("generation.backend")),
			Command:         v.GetString("generation.command"),
			Script:          v.GetString("generation.script"),
			Checkpoint:      v.GetString("generation.checkpoint"),
			WorkingDir:      v.GetString("generation.working_dir"),
			ServiceURL:      v.GetString("generation.service_url"),
			Timeout:         v.GetInt("generation.timeout"),
			EstimateSeconds: v.GetInt("generation.estimate_seconds"),
			ProgressTickMS:  v.GetInt("generation.progress_tick_ms"),
		},
		Export: ExportConfig{
			Enabled:    v.GetBool("export.enabled"),
			Command:    v.GetString("export.command"),
			Script:     v.GetString("export.script"),
			FBXSource:  v.GetString("export.fbx_source"),
			WorkingDir: v.GetString("export.working_dir"),
		},
		Dispatch: DispatchConfig{
			Mode:        strings.ToLower(v.GetString("dispatch.mode")),
			Concurrency: v.GetInt("dispatch.concurrency"),
			Instance:    instance,
		},
		Redis: RedisConfig{
			Addr:          v.GetString("redis.addr"),
			Password:      v.GetString("redis.password"),
			DB:            v.GetInt("redis.db"),
			EventsEnabled: v.GetBool("redis.events_enabled"),
			EventsChannel: v.GetString("redis.events_channel"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "5001")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.route_prefix", "")
	v.SetDefault("server.body_limit_mb", 100)

	// Storage defaults
	v.SetDefault("storage.root", "./data")
	v.SetDefault("storage.upload_max_mb", 100)

	// Transcoder defaults
	v.SetDefault("transcoder.ffmpeg_path", "ffmpeg")
	v.SetDefault("transcoder.sample_rate", 44100)
	v.SetDefault("transcoder.channels", 2)

	// Generation defaults
	v.SetDefault("generation.backend", "mock")
	v.SetDefault("generation.command", "python3")
	v.SetDefault("generation.script", "external/single_music_generator.py")
	v.SetDefault("generation.checkpoint", "external/checkpoint.pt")
	v.SetDefault("generation.working_dir", "external")
	v.SetDefault("generation.service_url", "http://localhost:8090")
	v.SetDefault("generation.timeout", 0)
	v.SetDefault("generation.estimate_seconds", 120)
	v.SetDefault("generation.progress_tick_ms", 2000)

	// Export defaults
	v.SetDefault("export.enabled", false)
	v.SetDefault("export.command", "python3")
	v.SetDefault("export.script", "external/SMPL-to-FBX/Convert.py")
	v.SetDefault("export.fbx_source", "external/SMPL-to-FBX/ybot.fbx")
	v.SetDefault("export.working_dir", "external")

	// Dispatch defaults
	v.SetDefault("dispatch.mode", "local")
	v.SetDefault("dispatch.concurrency", 2)
	v.SetDefault("dispatch.instance", "")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.events_enabled", false)
	v.SetDefault("redis.events_channel", "dance:jobs")
}
