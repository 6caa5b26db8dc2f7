package mq

import (
	"context"
	"time"
)

// MessageQueue defines the unified interface for message queue operations.
type MessageQueue interface {
	Producer
	Consumer

	// Ping verifies the message queue connection is alive
	Ping(ctx context.Context) error

	// Close closes the message queue connection
	Close() error
}

// Producer defines the interface for publishing messages
type Producer interface {
	// Publish publishes a message to the specified topic
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer defines the interface for consuming messages
type Consumer interface {
	// Subscribe subscribes to a topic with default options.
	// The handler should return nil on success or an error on failure
	Subscribe(ctx context.Context, topic string, handler HandlerFunc) error

	// SubscribeWithOptions subscribes with custom options
	SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	// Start starts consuming messages
	Start() error

	// Stop gracefully stops consuming messages
	Stop() error
}

// Message represents a message on the bus
type Message struct {
	// ID identifies the event. Consumers deduplicate on it.
	ID string `json:"id"`

	// Key selects the partition. Defaults to ID when empty.
	Key string `json:"key"`

	// Body is the message payload
	Body []byte `json:"body"`

	// Headers contains metadata about the message
	Headers map[string]string `json:"headers"`

	// Timestamp is when the message was created
	Timestamp time.Time `json:"timestamp"`

	// Retry information
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Delivery metadata, filled by the consumer.
	Topic     string `json:"-"`
	Partition int    `json:"-"`
	Offset    int64  `json:"-"`
}

// HandlerFunc is the function signature for message handlers
// It receives the message and returns an error if processing failed
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions defines options for subscribing to a topic
type SubscribeOptions struct {
	// ConsumerGroup is the consumer group name
	ConsumerGroup string

	// Concurrency sets the number of partition lanes.
	// Messages of one partition are always handled by the same lane, in order.
	// Default: 1
	Concurrency int

	// LaneBuffer sets how many fetched messages may wait per lane
	// Default: 1
	LaneBuffer int

	// MaxRetries sets the maximum number of retries for failed messages
	// Default: 4 (five attempts in total)
	MaxRetries int

	// RetryDelay sets the delay before the first retry
	// Default: 1 second
	RetryDelay time.Duration

	// RetryMultiplier grows the delay between consecutive retries
	// Default: 2
	RetryMultiplier float64

	// MaxRetryDelay caps the delay between retries
	// Default: 10 seconds
	MaxRetryDelay time.Duration

	// DeadLetterTopic is where messages go after max retries.
	// Default: "<topic>.DLT"; set to "-" to disable dead lettering.
	DeadLetterTopic string
}

// SetDefaults sets default values for subscribe options
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.LaneBuffer <= 0 {
		o.LaneBuffer = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.RetryMultiplier < 1 {
		o.RetryMultiplier = 2
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = 10 * time.Second
	}
}

// DeadLetterTopicFor returns the default dead-letter topic name for a topic.
func DeadLetterTopicFor(topic string) string {
	return topic + ".DLT"
}

// NewMessage creates a new message with the given body
func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}

// PartitionKey returns the key used for partitioning.
func (m *Message) PartitionKey() string {
	if m.Key != "" {
		return m.Key
	}
	return m.ID
}

// ShouldRetry determines if the message should be retried
func (m *Message) ShouldRetry() bool {
	return m.RetryCount < m.MaxRetries
}
