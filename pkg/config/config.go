package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Protocol selects the ingress wire format.
type Protocol string

const (
	// ProtocolBinary is the length-prefixed framed binary protocol.
	ProtocolBinary Protocol = "binary"
	// ProtocolText is the newline-delimited text protocol.
	ProtocolText Protocol = "text"
)

// Config represents the application configuration.
type Config struct {
	App   AppConfig   `envPrefix:"APP_"`
	Feed  FeedConfig  `envPrefix:"FEED_"`
	UDP   UDPConfig   `envPrefix:"UDP_"`
	Kafka KafkaConfig `envPrefix:"KAFKA_"`
	Redis RedisConfig `envPrefix:"REDIS_"`
}

// AppConfig represents the application configuration.
type AppConfig struct {
	Name        string `env:"NAME" envDefault:"feedhandler"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// FeedConfig represents the TCP feed ingress configuration.
type FeedConfig struct {
	Host              string   `env:"HOST" envDefault:"127.0.0.1"`
	Port              int      `env:"PORT" envDefault:"9999"`
	Protocol          Protocol `env:"PROTOCOL" envDefault:"binary"`
	Symbol            string   `env:"SYMBOL" envDefault:"AAPL"`
	QueueCapacity     int      `env:"QUEUE_CAPACITY" envDefault:"1024"`
	HeartbeatTimeoutS int      `env:"HEARTBEAT_TIMEOUT_S" envDefault:"2"`
	MaxBackoffS       int      `env:"MAX_BACKOFF_S" envDefault:"30"`
	RecvBufferBytes   int      `env:"RECV_BUFFER_BYTES" envDefault:"262144"`
	Verbose           bool     `env:"VERBOSE" envDefault:"false"`
}

// UDPConfig represents the UDP feed and its TCP control channel configuration.
type UDPConfig struct {
	ListenPort          int    `env:"LISTEN_PORT" envDefault:"9998"`
	ControlHost         string `env:"CONTROL_HOST" envDefault:"127.0.0.1"`
	ControlPort         int    `env:"CONTROL_PORT" envDefault:"9997"`
	RetransmitIntervalS int    `env:"RETRANSMIT_INTERVAL_S" envDefault:"1"`
	MaxRequestsPerCycle int    `env:"MAX_REQUESTS_PER_CYCLE" envDefault:"5"`
	RecvBufferBytes     int    `env:"RECV_BUFFER_BYTES" envDefault:"4194304"`
	FinalDrainTimeoutS  int    `env:"FINAL_DRAIN_TIMEOUT_S" envDefault:"2"`
}

// KafkaConfig represents the downstream tick publisher configuration.
type KafkaConfig struct {
	Enabled    bool     `env:"ENABLED" envDefault:"false"`
	Brokers    []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic      string   `env:"TOPIC" envDefault:"ticks"`
	BufferSize int      `env:"BUFFER_SIZE" envDefault:"4096"`
}

// RedisConfig represents the top-of-book publisher configuration.
type RedisConfig struct {
	Enabled          bool   `env:"ENABLED" envDefault:"false"`
	Addr             string `env:"ADDR" envDefault:"localhost:6379"`
	Channel          string `env:"CHANNEL" envDefault:"feedhandler:book"`
	Depth            int    `env:"DEPTH" envDefault:"5"`
	PublishIntervalS int    `env:"PUBLISH_INTERVAL_S" envDefault:"1"`
}

// Load loads the configuration from the environment.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Feed.Protocol != ProtocolBinary && cfg.Feed.Protocol != ProtocolText {
		return nil, fmt.Errorf("unknown feed protocol %q", cfg.Feed.Protocol)
	}

	return cfg, nil
}
