package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type NatsConfig struct {
	Servers       []string      `yaml:"servers"`
	Stream        string        `yaml:"stream"`
	Subject       string        `yaml:"subject"`
	Durable       string        `yaml:"durable"`
	Queue         string        `yaml:"queue"`
	AckWait       time.Duration `yaml:"ack_wait"`
	MaxAckPending int           `yaml:"max_ack_pending"`
}

type GatewayConfig struct {
	NodeID         string        `yaml:"node_id"`
	Port           int           `yaml:"port"`
	JWTSecret      string        `yaml:"jwt_secret"`
	SendBuffer     int           `yaml:"send_buffer"`
	FanoutWorkers  int           `yaml:"fanout_workers"`
	FanoutQueue    int           `yaml:"fanout_queue"`
	QueueWorkers   int           `yaml:"queue_workers"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	SnowflakeNode  int64         `yaml:"snowflake_node"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type AppConfig struct {
	LogLevel string        `yaml:"log_level"`
	Redis    RedisConfig   `yaml:"redis"`
	Mongo    MongoConfig   `yaml:"mongo"`
	Nats     NatsConfig    `yaml:"nats"`
	Gateway  GatewayConfig `yaml:"gateway"`
}

// Default returns the single-node development configuration. Every field can
// be overridden by the YAML file and the env vars below.
func Default() AppConfig {
	return AppConfig{
		LogLevel: "info",
		Redis:    RedisConfig{Addr: "127.0.0.1:6379", PoolSize: 64},
		Mongo:    MongoConfig{URI: "mongodb://127.0.0.1:27017", Database: "campuschat"},
		Nats: NatsConfig{
			Servers:       []string{"nats://127.0.0.1:4222"},
			Stream:        "CHAT_PERSIST",
			Subject:       "chat.persist",
			Durable:       "chat-persist-worker",
			Queue:         "chat-persist",
			AckWait:       30 * time.Second,
			MaxAckPending: 1024,
		},
		Gateway: GatewayConfig{
			NodeID:        "gateway_01",
			Port:          8080,
			JWTSecret:     "dev-secret",
			SendBuffer:    256,
			FanoutWorkers: 8,
			FanoutQueue:   4096,
			QueueWorkers:  4,
			WriteTimeout:  10 * time.Second,
			PingInterval:  30 * time.Second,
			SnowflakeNode: 1,
		},
	}
}

// Load reads path (optional) over the defaults, then applies env overrides.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("CHAT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CHAT_MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("CHAT_NATS_URL"); v != "" {
		cfg.Nats.Servers = []string{v}
	}
	if v := os.Getenv("CHAT_NODE_ID"); v != "" {
		cfg.Gateway.NodeID = v
	}
	if v := os.Getenv("CHAT_JWT_SECRET"); v != "" {
		cfg.Gateway.JWTSecret = v
	}
	if v := os.Getenv("CHAT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
