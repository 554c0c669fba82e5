// Package config loads process configuration from an optional YAML file
// and the environment.
package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Book     BookConfig     `yaml:"book"`
	WAL      WALConfig      `yaml:"wal"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	NATS     NATSConfig     `yaml:"nats"`
	Redis    RedisConfig    `yaml:"redis"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

type BookConfig struct {
	Symbol     string `yaml:"symbol" env:"BOOK_SYMBOL" env-default:"BTC-USD"`
	DepthSize  int    `yaml:"depth_size" env:"BOOK_DEPTH_SIZE" env-default:"5"`
	MaxCascade int    `yaml:"max_cascade" env:"BOOK_MAX_CASCADE" env-default:"0"`
	// PriceScale is the number of decimal places one tick represents.
	PriceScale int32  `yaml:"price_scale" env:"BOOK_PRICE_SCALE" env-default:"2"`
	RetireRing uint64 `yaml:"retire_ring" env:"BOOK_RETIRE_RING" env-default:"4096"`

	// MaxDepthLevels bounds the levels a depth query may request.
	MaxDepthLevels int `yaml:"max_depth_levels" env:"BOOK_MAX_DEPTH_LEVELS" env-default:"1000"`
}

type WALConfig struct {
	Dir             string        `yaml:"dir" env:"WAL_DIR" env-default:"./data/wal_entry"`
	SegmentSize     int64         `yaml:"segment_size" env:"WAL_SEGMENT_SIZE" env-default:"67108864"`
	SegmentDuration time.Duration `yaml:"segment_duration" env:"WAL_SEGMENT_DURATION" env-default:"10m"`
	SyncEveryWrite  bool          `yaml:"sync_every_write" env:"WAL_SYNC_EVERY_WRITE" env-default:"true"`
}

type OutboxConfig struct {
	Dir        string        `yaml:"dir" env:"OUTBOX_DIR" env-default:"./data/wal_exit"`
	Interval   time.Duration `yaml:"interval" env:"OUTBOX_INTERVAL" env-default:"250ms"`
	BatchSize  int           `yaml:"batch_size" env:"OUTBOX_BATCH_SIZE" env-default:"512"`
	MaxRetries uint32        `yaml:"max_retries" env:"OUTBOX_MAX_RETRIES" env-default:"10"`
	// Format is the event encoding: "proto" or "json".
	Format string `yaml:"format" env:"OUTBOX_FORMAT" env-default:"proto"`
	// BreakerFailures consecutive publish failures pause delivery for
	// BreakerTimeout.
	BreakerFailures uint32        `yaml:"breaker_failures" env:"OUTBOX_BREAKER_FAILURES" env-default:"5"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" env:"OUTBOX_BREAKER_TIMEOUT" env-default:"30s"`
}

type SnapshotConfig struct {
	Dir      string        `yaml:"dir" env:"SNAPSHOT_DIR" env-default:"./data/snapshots"`
	Interval time.Duration `yaml:"interval" env:"SNAPSHOT_INTERVAL" env-default:"1m"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" env:"KAFKA_ENABLED" env-default:"false"`
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"depthbook.events"`
	// Client selects the producer implementation: "sarama" or "kafka-go".
	Client   string `yaml:"client" env:"KAFKA_CLIENT" env-default:"sarama"`
	ClientID string `yaml:"client_id" env:"KAFKA_CLIENT_ID" env-default:"depthbook"`
}

// NATSConfig is used when Kafka is disabled.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled" env:"NATS_ENABLED" env-default:"false"`
	URL     string `yaml:"url" env:"NATS_URL" env-default:"nats://127.0.0.1:4222"`
	Subject string `yaml:"subject" env:"NATS_SUBJECT" env-default:"depthbook.events"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// TTL is how long the depth key outlives the engine; it is refreshed
	// every TTL/2. Zero stores it without expiry.
	TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"30s"`
}

type ServerConfig struct {
	GRPCAddress     string        `yaml:"grpc_address" env:"GRPC_ADDRESS" env-default:":50051"`
	HTTPAddress     string        `yaml:"http_address" env:"HTTP_ADDRESS" env-default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	// RateLimit is requests per second per HTTP client; 0 disables it.
	RateLimit float64 `yaml:"rate_limit" env:"HTTP_RATE_LIMIT" env-default:"0"`
	RateBurst int     `yaml:"rate_burst" env:"HTTP_RATE_BURST" env-default:"20"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	JSON  bool   `yaml:"json" env:"LOG_JSON" env-default:"true"`
}

// Load reads path when it is non-empty, otherwise the environment. A .env
// file in the working directory seeds variables that are not already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg := &Config{}
	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
