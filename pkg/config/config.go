package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sakashimaa/payment-recon/pkg/utils"
)

type Config struct {
	Env        string     `yaml:"env" env:"ENV" env-default:"local"`
	HTTP       HTTP       `yaml:"http"`
	Postgres   PG         `yaml:"postgres"`
	Redis      Redis      `yaml:"redis"`
	Kafka      Kafka      `yaml:"kafka"`
	Gateway    Gateway    `yaml:"gateway"`
	Outbox     Outbox     `yaml:"outbox"`
	Dispatcher Dispatcher `yaml:"dispatcher"`
	SMTP       SMTP       `yaml:"smtp"`
	Push       Push       `yaml:"push"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":8080"`
	Timeout time.Duration `yaml:"timeout" env-default:"10s"`
}

type PG struct {
	URL string `yaml:"url" env:"DB_URL"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	CacheTTL time.Duration `yaml:"cache_ttl" env-default:"5m"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"notification_events"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"notification-dispatcher-group"`
}

type Gateway struct {
	// Shared secret for webhook HMAC verification. Must match the value
	// configured at the payment gateway.
	Secret          string `yaml:"secret" env:"GATEWAY_WEBHOOK_SECRET"`
	SignatureHeader string `yaml:"signature_header" env:"GATEWAY_SIGNATURE_HEADER" env-default:"X-Gateway-Signature"`
}

type Outbox struct {
	BatchSize int           `yaml:"batch_size" env-default:"50"`
	Interval  time.Duration `yaml:"interval" env-default:"500ms"`
}

type Dispatcher struct {
	MaxAttempts     uint          `yaml:"max_attempts" env-default:"5"`
	InitialInterval time.Duration `yaml:"initial_interval" env-default:"200ms"`
	MaxInterval     time.Duration `yaml:"max_interval" env-default:"10s"`
}

type SMTP struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User     string `yaml:"user" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SMTP_FROM" env-default:"orders@payment-recon.local"`
}

type Push struct {
	URL     string        `yaml:"url" env:"PUSH_PROVIDER_URL"`
	Timeout time.Duration `yaml:"timeout" env-default:"3s"`
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exist: %v\n", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return &cfg
}
