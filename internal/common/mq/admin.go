package mq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// TopicSpec describes a topic to provision.
type TopicSpec struct {
	Name              string        `yaml:"name"`
	Partitions        int           `yaml:"partitions"`
	ReplicationFactor int           `yaml:"replicationFactor"`
	Retention         time.Duration `yaml:"retention"`
}

const (
	DefaultPartitions          = 32
	DefaultRetention           = 7 * 24 * time.Hour
	DefaultDeadLetterRetention = 14 * 24 * time.Hour
)

// WithDeadLetter returns s followed by the settings for its dead-letter topic.
// Dead-letter topics keep the partition count and get a longer retention.
func (s TopicSpec) WithDeadLetter() []TopicSpec {
	dlt := s
	dlt.Name = DeadLetterTopicFor(s.Name)
	dlt.Retention = DefaultDeadLetterRetention
	return []TopicSpec{s, dlt}
}

func (s TopicSpec) toConfig() kafka.TopicConfig {
	partitions := s.Partitions
	if partitions <= 0 {
		partitions = DefaultPartitions
	}
	replication := s.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}
	retention := s.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	return kafka.TopicConfig{
		Topic:             s.Name,
		NumPartitions:     partitions,
		ReplicationFactor: replication,
		ConfigEntries: []kafka.ConfigEntry{
			{ConfigName: "retention.ms", ConfigValue: strconv.FormatInt(retention.Milliseconds(), 10)},
		},
	}
}

// EnsureTopics creates the topics through the controller broker.
// Topics that already exist are left unchanged.
func (k *KafkaQueue) EnsureTopics(ctx context.Context, specs ...TopicSpec) error {
	if len(specs) == 0 {
		return nil
	}
	configs := make([]kafka.TopicConfig, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return errors.New("topic name is required")
		}
		configs = append(configs, spec.toConfig())
	}

	conn, err := k.dialer.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka failed: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("lookup kafka controller failed: %w", err)
	}
	controllerConn, err := k.dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial kafka controller failed: %w", err)
	}
	defer controllerConn.Close()

	for _, cfg := range configs {
		if err := controllerConn.CreateTopics(cfg); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s failed: %w", cfg.Topic, err)
		}
	}
	return nil
}
