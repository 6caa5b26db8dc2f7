package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/common/event"
	commonmw "judgeflow/internal/common/http/middleware"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/solution/reaper"
	"judgeflow/internal/task"
	"judgeflow/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8086"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string              `yaml:"addr"`
	ReadTimeout  time.Duration       `yaml:"readTimeout"`
	WriteTimeout time.Duration       `yaml:"writeTimeout"`
	IdleTimeout  time.Duration       `yaml:"idleTimeout"`
	CORS         commonmw.CORSConfig `yaml:"cors"`
}

// TopicConfig names the execution topics and how they are provisioned.
type TopicConfig struct {
	Request           string        `yaml:"request"`
	Result            string        `yaml:"result"`
	Provision         bool          `yaml:"provision"`
	Partitions        int           `yaml:"partitions"`
	ReplicationFactor int           `yaml:"replicationFactor"`
	Retention         time.Duration `yaml:"retention"`
}

func (t TopicConfig) specs() []mq.TopicSpec {
	var specs []mq.TopicSpec
	for _, name := range []string{t.Request, t.Result} {
		specs = append(specs, mq.TopicSpec{
			Name:              name,
			Partitions:        t.Partitions,
			ReplicationFactor: t.ReplicationFactor,
			Retention:         t.Retention,
		}.WithDeadLetter()...)
	}
	return specs
}

// ConsumerConfig holds result consumer settings.
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

// TimeoutConfig bounds calls to external systems.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Catalog time.Duration `yaml:"catalog"`
	MQ      time.Duration `yaml:"mq"`
}

// RateLimitConfig caps submissions per caller within a window.
type RateLimitConfig struct {
	Enabled bool                     `yaml:"enabled"`
	Window  time.Duration            `yaml:"window"`
	Submit  commonmw.RateLimitPolicy `yaml:"submit"`
}

// SolutionConfig holds submission settings.
type SolutionConfig struct {
	MaxCodeBytes int             `yaml:"maxCodeBytes"`
	ListLimit    int             `yaml:"listLimit"`
	CacheTTL     time.Duration   `yaml:"cacheTTL"`
	Timeouts     TimeoutConfig   `yaml:"timeouts"`
	RateLimit    RateLimitConfig `yaml:"rateLimit"`
}

// ScoringConfig holds confidence and recommendation settings.
type ScoringConfig struct {
	PenalizeTimeout bool `yaml:"penalizeTimeout"`
	WeakTopics      int  `yaml:"weakTopics"`
	CandidatePool   int  `yaml:"candidatePool"`
}

// AppConfig holds solution-service configuration.
type AppConfig struct {
	Server   ServerConfig      `yaml:"server"`
	Logger   logger.Config     `yaml:"logger"`
	Database db.MySQLConfig    `yaml:"database"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Kafka    mq.KafkaConfig    `yaml:"kafka"`
	Topics   TopicConfig       `yaml:"topics"`
	Catalog  task.Config       `yaml:"catalog"`
	Solution SolutionConfig    `yaml:"solution"`
	Results  ConsumerConfig    `yaml:"results"`
	Reaper   reaper.Config     `yaml:"reaper"`
	Scoring  ScoringConfig     `yaml:"scoring"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Topics.Request == "" {
		cfg.Topics.Request = event.TopicExecutionRequest
	}
	if cfg.Topics.Result == "" {
		cfg.Topics.Result = event.TopicExecutionResult
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "solution-service"
	}
	if cfg.Results.Group == "" {
		cfg.Results.Group = "solution-service"
	}
	if cfg.Results.Concurrency == 0 {
		cfg.Results.Concurrency = 8
	}

	if cfg.Solution.Timeouts.DB == 0 {
		cfg.Solution.Timeouts.DB = 3 * time.Second
	}
	if cfg.Solution.Timeouts.Catalog == 0 {
		cfg.Solution.Timeouts.Catalog = 15 * time.Second
	}
	if cfg.Solution.Timeouts.MQ == 0 {
		cfg.Solution.Timeouts.MQ = 5 * time.Second
	}

	if cfg.Solution.RateLimit.Window == 0 {
		cfg.Solution.RateLimit.Window = time.Minute
	}
	if cfg.Solution.RateLimit.Submit.UserMax == 0 {
		cfg.Solution.RateLimit.Submit.UserMax = 30
	}
	if cfg.Solution.RateLimit.Submit.IPMax == 0 {
		cfg.Solution.RateLimit.Submit.IPMax = 60
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Catalog.BaseURL == "" {
		return nil, fmt.Errorf("catalog baseURL is required")
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployments inject endpoints and secrets without
// editing the YAML file.
func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("JUDGEFLOW_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("JUDGEFLOW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("JUDGEFLOW_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("JUDGEFLOW_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("JUDGEFLOW_CATALOG_URL"); v != "" {
		cfg.Catalog.BaseURL = v
	}
	if v := os.Getenv("JUDGEFLOW_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
