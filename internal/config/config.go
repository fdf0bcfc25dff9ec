package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageLocal      = "local"
	StorageMinio      = "minio"
	StorageCloudinary = "cloudinary"

	EventsMemory = "memory"
	EventsKafka  = "kafka"

	DBPostgres = "postgres"
	DBMemory   = "memory"
)

type Config struct {
	App struct {
		Port string `mapstructure:"port"`
		Env  string `mapstructure:"env"`
	} `mapstructure:"app"`
	DB struct {
		Driver      string `mapstructure:"driver"`
		DSN         string `mapstructure:"dsn"`
		AutoMigrate bool   `mapstructure:"auto_migrate"`
		Migrations  string `mapstructure:"migrations"`
	} `mapstructure:"db"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers     []string `mapstructure:"brokers"`
		TopicPrefix string   `mapstructure:"topic_prefix"`
		GroupID     string   `mapstructure:"group_id"`
	} `mapstructure:"kafka"`
	Events struct {
		Driver string `mapstructure:"driver"`
		Buffer int    `mapstructure:"buffer"`
	} `mapstructure:"events"`
	Auth struct {
		JWTSecret     string        `mapstructure:"jwt_secret"`
		TokenLifespan time.Duration `mapstructure:"token_lifespan"`
	} `mapstructure:"auth"`
	Storage struct {
		Driver        string `mapstructure:"driver"`
		LocalRoot     string `mapstructure:"local_root"`
		PublicBaseURL string `mapstructure:"public_base_url"`
	} `mapstructure:"storage"`
	Minio struct {
		Endpoint  string `mapstructure:"endpoint"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		Bucket    string `mapstructure:"bucket"`
		UseSSL    bool   `mapstructure:"use_ssl"`
	} `mapstructure:"minio"`
	Cloudinary struct {
		CloudName string `mapstructure:"cloud_name"`
		ApiKey    string `mapstructure:"api_key"`
		ApiSecret string `mapstructure:"api_secret"`
	} `mapstructure:"cloudinary"`
	Queue struct {
		Stream      string        `mapstructure:"stream"`
		Group       string        `mapstructure:"group"`
		Consumer    string        `mapstructure:"consumer"`
		Concurrency int           `mapstructure:"concurrency"`
		MaxRetries  int           `mapstructure:"max_retries"`
		RetryDelay  time.Duration `mapstructure:"retry_delay"`
		ClaimIdle   time.Duration `mapstructure:"claim_idle"`
	} `mapstructure:"queue"`
	Worker struct {
		Embedded   bool          `mapstructure:"embedded"`
		TempDir    string        `mapstructure:"temp_dir"`
		JobTimeout time.Duration `mapstructure:"job_timeout"`
	} `mapstructure:"worker"`
	Transcoder struct {
		FFmpegPath          string `mapstructure:"ffmpeg_path"`
		FFprobePath         string `mapstructure:"ffprobe_path"`
		Preset              string `mapstructure:"preset"`
		ImageThumbnailWidth int    `mapstructure:"image_thumbnail_width"`
		VideoThumbnailWidth int    `mapstructure:"video_thumbnail_width"`
	} `mapstructure:"transcoder"`
	Upload struct {
		MaxBytes int64 `mapstructure:"max_bytes"`
	} `mapstructure:"upload"`
	Sweep struct {
		Schedule   string        `mapstructure:"schedule"`
		StaleAfter time.Duration `mapstructure:"stale_after"`
		BatchSize  int           `mapstructure:"batch_size"`
	} `mapstructure:"sweep"`
	Jaeger struct {
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	} `mapstructure:"jaeger"`
}

// LoadConfig reads .env, an optional config.yaml from paths (default "."),
// and environment overrides.
func LoadConfig(paths ...string) (cfg Config, err error) {
	if err := godotenv.Load(); err != nil {
		log.Println("warning: .env file not found, use default.")
	}

	v := viper.New()
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		log.Printf("note: config.yaml not found, read env only. Error: %v", err)
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"app.port":                         "APP_PORT",
		"app.env":                          "APP_ENV",
		"db.driver":                        "DB_DRIVER",
		"db.dsn":                           "DB_DSN",
		"db.auto_migrate":                  "DB_AUTO_MIGRATE",
		"redis.addr":                       "REDIS_ADDR",
		"redis.password":                   "REDIS_PASSWORD",
		"kafka.brokers":                    "KAFKA_BROKERS",
		"events.driver":                    "EVENTS_DRIVER",
		"auth.jwt_secret":                  "JWT_SECRET",
		"auth.token_lifespan":              "TOKEN_LIFESPAN",
		"storage.driver":                   "STORAGE_DRIVER",
		"storage.local_root":               "STORAGE_LOCAL_ROOT",
		"storage.public_base_url":          "STORAGE_PUBLIC_BASE_URL",
		"minio.endpoint":                   "MINIO_ENDPOINT",
		"minio.access_key":                 "MINIO_ACCESS_KEY",
		"minio.secret_key":                 "MINIO_SECRET_KEY",
		"minio.bucket":                     "MINIO_BUCKET",
		"minio.use_ssl":                    "MINIO_USE_SSL",
		"cloudinary.cloud_name":            "CLOUDINARY_CLOUD_NAME",
		"cloudinary.api_key":               "CLOUDINARY_API_KEY",
		"cloudinary.api_secret":            "CLOUDINARY_API_SECRET",
		"queue.stream":                     "QUEUE_STREAM",
		"queue.concurrency":                "QUEUE_CONCURRENCY",
		"queue.max_retries":                "QUEUE_MAX_RETRIES",
		"queue.retry_delay":                "QUEUE_RETRY_DELAY",
		"worker.embedded":                  "WORKER_EMBEDDED",
		"worker.temp_dir":                  "WORKER_TEMP_DIR",
		"worker.job_timeout":               "WORKER_JOB_TIMEOUT",
		"transcoder.ffmpeg_path":           "FFMPEG_PATH",
		"transcoder.ffprobe_path":          "FFPROBE_PATH",
		"upload.max_bytes":                 "UPLOAD_MAX_BYTES",
		"sweep.schedule":                   "SWEEP_SCHEDULE",
		"sweep.stale_after":                "SWEEP_STALE_AFTER",
		"jaeger.otlp_endpoint":             "OTLP_ENDPOINT",
		"transcoder.image_thumbnail_width": "IMAGE_THUMBNAIL_WIDTH",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	if err = v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "development")
	v.SetDefault("db.driver", DBPostgres)
	v.SetDefault("db.migrations", "file://migrations")
	v.SetDefault("events.driver", EventsMemory)
	v.SetDefault("events.buffer", 256)
	v.SetDefault("kafka.topic_prefix", "chat.")
	v.SetDefault("kafka.group_id", "chatmedia")
	v.SetDefault("auth.token_lifespan", 24*time.Hour)
	v.SetDefault("storage.driver", StorageLocal)
	v.SetDefault("storage.local_root", "uploads/multimedia")
	v.SetDefault("storage.public_base_url", "/uploads/multimedia")
	v.SetDefault("minio.bucket", "multimedia")
	v.SetDefault("queue.stream", "multimedia:jobs")
	v.SetDefault("queue.group", "transcoders")
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_delay", 2*time.Second)
	v.SetDefault("queue.claim_idle", 15*time.Minute)
	v.SetDefault("worker.job_timeout", 10*time.Minute)
	v.SetDefault("transcoder.preset", "fast")
	v.SetDefault("transcoder.image_thumbnail_width", 200)
	v.SetDefault("transcoder.video_thumbnail_width", 320)
	v.SetDefault("upload.max_bytes", int64(10<<20))
	v.SetDefault("sweep.schedule", "@every 5m")
	v.SetDefault("sweep.stale_after", time.Hour)
	v.SetDefault("sweep.batch_size", 100)
}

// Validate checks that every selected driver has what it needs.
func (c Config) Validate() error {
	var errs []error
	switch c.DB.Driver {
	case DBPostgres:
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("config: db.dsn is required for the postgres driver"))
		}
	case DBMemory:
	default:
		errs = append(errs, fmt.Errorf("config: unknown db.driver %q", c.DB.Driver))
	}
	switch c.Storage.Driver {
	case StorageLocal:
		if c.Storage.LocalRoot == "" {
			errs = append(errs, errors.New("config: storage.local_root is required for the local driver"))
		}
	case StorageMinio:
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			errs = append(errs, errors.New("config: minio.endpoint and minio.bucket are required for the minio driver"))
		}
	case StorageCloudinary:
		if c.Cloudinary.CloudName == "" {
			errs = append(errs, errors.New("config: cloudinary.cloud_name is required for the cloudinary driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver))
	}
	switch c.Events.Driver {
	case EventsMemory:
	case EventsKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("config: kafka.brokers is required for the kafka event driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown events.driver %q", c.Events.Driver))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("config: redis.addr is required for the job queue"))
	}
	if c.Queue.Concurrency <= 0 {
		errs = append(errs, errors.New("config: queue.concurrency must be positive"))
	}
	if c.Worker.JobTimeout <= 0 {
		errs = append(errs, errors.New("config: worker.job_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// splitList accepts both YAML lists and a comma separated env value.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
