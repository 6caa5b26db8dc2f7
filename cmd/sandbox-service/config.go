package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/event"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/judge/gateway"
	"judgeflow/internal/judge/worker"
	"judgeflow/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultOpsAddr         = "0.0.0.0:8087"
	defaultShutdownTimeout = 30 * time.Second
	execTimeoutMargin      = 5 * time.Second
)

// ServerConfig holds the operational HTTP endpoint settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TopicConfig names the execution topics.
type TopicConfig struct {
	Request string `yaml:"request"`
	Result  string `yaml:"result"`
}

// ConsumerConfig holds request consumer settings.
type ConsumerConfig struct {
	Group           string        `yaml:"group"`
	Concurrency     int           `yaml:"concurrency"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	RetryMultiplier float64       `yaml:"retryMultiplier"`
	MaxRetryDelay   time.Duration `yaml:"maxRetryDelay"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
}

func (c ConsumerConfig) toSubscribeOptions() mq.SubscribeOptions {
	opts := mq.SubscribeOptions{
		ConsumerGroup:   c.Group,
		Concurrency:     c.Concurrency,
		MaxRetries:      c.MaxRetries,
		RetryDelay:      c.RetryDelay,
		RetryMultiplier: c.RetryMultiplier,
		MaxRetryDelay:   c.MaxRetryDelay,
		DeadLetterTopic: c.DeadLetterTopic,
	}
	opts.SetDefaults()
	return opts
}

// WorkerConfig holds execution pool settings.
type WorkerConfig struct {
	PoolSize       int                   `yaml:"poolSize"`
	Sampling       worker.SamplingPolicy `yaml:"sampling"`
	ExecTimeout    time.Duration         `yaml:"execTimeout"`
	PublishTimeout time.Duration         `yaml:"publishTimeout"`
}

// AppConfig holds sandbox-service configuration.
type AppConfig struct {
	Server   ServerConfig      `yaml:"server"`
	Logger   logger.Config     `yaml:"logger"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Kafka    mq.KafkaConfig    `yaml:"kafka"`
	Topics   TopicConfig       `yaml:"topics"`
	Judge    gateway.Config    `yaml:"judge"`
	Worker   WorkerConfig      `yaml:"worker"`
	Requests ConsumerConfig    `yaml:"requests"`
	Dedup    mq.DedupConfig    `yaml:"dedup"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}
	applyEnvOverrides(&cfg)

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultOpsAddr
	}
	if cfg.Topics.Request == "" {
		cfg.Topics.Request = event.TopicExecutionRequest
	}
	if cfg.Topics.Result == "" {
		cfg.Topics.Result = event.TopicExecutionResult
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "sandbox-service"
	}
	if cfg.Requests.Group == "" {
		cfg.Requests.Group = "sandbox-service"
	}
	if cfg.Requests.Concurrency == 0 {
		cfg.Requests.Concurrency = 8
	}
	// Pool slots beyond the number of lanes are never used.
	if cfg.Worker.PoolSize == 0 {
		cfg.Worker.PoolSize = cfg.Requests.Concurrency
	}

	// ExecTimeout must cover every judge attempt and backoff.
	budget := cfg.Judge.CallBudget()
	if cfg.Worker.ExecTimeout == 0 {
		cfg.Worker.ExecTimeout = budget + execTimeoutMargin
	}
	if cfg.Worker.ExecTimeout < budget {
		return nil, fmt.Errorf("worker execTimeout %s is shorter than the judge retry budget %s", cfg.Worker.ExecTimeout, budget)
	}

	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Judge.BaseURL == "" {
		return nil, fmt.Errorf("judge baseURL is required")
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("JUDGEFLOW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("JUDGEFLOW_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("JUDGEFLOW_KAFKA_BROKERS"); v != "" {
		var brokers []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				brokers = append(brokers, part)
			}
		}
		cfg.Kafka.Brokers = brokers
	}
	if v := os.Getenv("JUDGEFLOW_JUDGE_URL"); v != "" {
		cfg.Judge.BaseURL = v
	}
	if v := os.Getenv("JUDGEFLOW_JUDGE_TOKEN"); v != "" {
		cfg.Judge.AuthToken = v
	}
}
