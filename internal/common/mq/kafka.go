package mq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"judgeflow/internal/common/metrics"
	"judgeflow/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	headerID         = "x-message-id"
	headerTimestamp  = "x-message-ts"
	headerMaxRetries = "x-message-max-retries"
)

// KafkaConfig defines configuration for Kafka implementation.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"clientId"`

	// Producer settings
	RequiredAcks string        `yaml:"requiredAcks"` // none, one, all
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	Compression  string        `yaml:"compression"` // gzip, snappy, lz4, zstd

	// CompressThreshold is the body size above which payloads are zstd-compressed
	// before they reach the broker. Zero disables payload compression.
	CompressThreshold int `yaml:"compressThreshold"`

	// Consumer settings
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait"`
	CommitTimeout time.Duration `yaml:"commitTimeout"`

	// Dialer settings
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// KafkaQueue implements MessageQueue using Kafka.
type KafkaQueue struct {
	config KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu            sync.Mutex
	subscriptions []*kafkaSubscription
	started       bool
	closed        bool
}

type kafkaSubscription struct {
	topic     string
	opts      SubscribeOptions
	baseCtx   context.Context
	deliverer *deliverer

	reader *kafka.Reader
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafkaQueue creates a Kafka-backed message queue.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
	if cfg.CommitTimeout == 0 {
		cfg.CommitTimeout = 5 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	acks, err := parseRequiredAcks(cfg.RequiredAcks)
	if err != nil {
		return nil, err
	}
	compression, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}

	writer := &kafka.Writer{
		Addr: kafka.TCP(cfg.Brokers...),
		// Same key, same partition: every event of a submission stays ordered.
		Balancer:     &kafka.Hash{},
		RequiredAcks: acks,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Compression:  compression,
		Transport: &kafka.Transport{
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
			ClientID: cfg.ClientID,
		},
	}

	return &KafkaQueue{
		config: cfg,
		writer: writer,
		dialer: dialer,
	}, nil
}

func parseRequiredAcks(value string) (kafka.RequiredAcks, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "all", "-1":
		return kafka.RequireAll, nil
	case "one", "1":
		return kafka.RequireOne, nil
	case "none", "0":
		return kafka.RequireNone, nil
	default:
		return 0, fmt.Errorf("unknown requiredAcks %q", value)
	}
}

func parseCompression(value string) (kafka.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", value)
	}
}

// Publish publishes a message to a topic.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	msg, err := toKafkaMessage(topic, message, k.config.CompressThreshold)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		metrics.BusPublished.WithLabelValues(topic, "error").Inc()
		return err
	}
	metrics.BusPublished.WithLabelValues(topic, "ok").Inc()
	return nil
}

// Subscribe subscribes to a topic with default options.
func (k *KafkaQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc) error {
	return k.SubscribeWithOptions(ctx, topic, handler, nil)
}

// SubscribeWithOptions subscribes to a topic with custom options.
func (k *KafkaQueue) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = fmt.Sprintf("judgeflow-%s", topic)
	}

	sub := &kafkaSubscription{
		topic:   topic,
		opts:    options,
		baseCtx: ctx,
	}
	sub.deliverer = &deliverer{
		topic:      topic,
		handler:    handler,
		opts:       options,
		deadLetter: k.Publish,
		sleep:      sleepContext,
		onRetry: func(msg *Message, err error, delay time.Duration) {
			metrics.BusRetries.WithLabelValues(topic).Inc()
			logger.Warn(context.Background(), "message handling failed, retrying",
				zap.String("topic", topic),
				zap.String("message_id", msg.ID),
				zap.Int("retry", msg.RetryCount),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	k.subscriptions = append(k.subscriptions, sub)
	if k.started {
		return k.startSubscription(sub)
	}
	return nil
}

// Start starts consuming messages for all subscriptions.
func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	if k.started {
		return nil
	}
	for _, sub := range k.subscriptions {
		if err := k.startSubscription(sub); err != nil {
			return err
		}
	}
	k.started = true
	return nil
}

// Stop stops all consumers gracefully.
// Messages whose handlers are interrupted are left uncommitted and will be redelivered.
func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, sub := range k.subscriptions {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range k.subscriptions {
		sub.wg.Wait()
		if sub.reader != nil {
			_ = sub.reader.Close()
			sub.reader = nil
		}
	}
	k.started = false
	return nil
}

// Ping verifies the Kafka connection.
func (k *KafkaQueue) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close closes the producer and stops consumers.
func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	_ = k.Stop()
	return k.writer.Close()
}

func (k *KafkaQueue) startSubscription(sub *kafkaSubscription) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		Topic:       sub.topic,
		GroupID:     sub.opts.ConsumerGroup,
		Dialer:      k.dialer,
		MinBytes:    k.config.MinBytes,
		MaxBytes:    k.config.MaxBytes,
		MaxWait:     k.config.MaxWait,
		StartOffset: kafka.FirstOffset,
	})
	sub.reader = reader
	if sub.baseCtx == nil {
		sub.baseCtx = context.Background()
	}
	sub.ctx, sub.cancel = context.WithCancel(sub.baseCtx)

	lanes := make([]chan kafka.Message, sub.opts.Concurrency)
	for i := range lanes {
		lane := make(chan kafka.Message, sub.opts.LaneBuffer)
		lanes[i] = lane
		sub.wg.Add(1)
		go func() {
			defer sub.wg.Done()
			for msg := range lane {
				if sub.ctx.Err() != nil {
					continue
				}
				k.handleMessage(sub, reader, msg)
			}
		}()
	}

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()
		for {
			if sub.ctx.Err() != nil {
				return
			}
			msg, err := reader.FetchMessage(sub.ctx)
			if err != nil {
				if sub.ctx.Err() != nil {
					return
				}
				logger.Warn(sub.ctx, "fetch message failed", zap.String("topic", sub.topic), zap.Error(err))
				if sleepContext(sub.ctx, 100*time.Millisecond) != nil {
					return
				}
				continue
			}
			// Each partition maps to exactly one lane, so per-partition order holds.
			lane := lanes[msg.Partition%len(lanes)]
			select {
			case lane <- msg:
			case <-sub.ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (k *KafkaQueue) handleMessage(sub *kafkaSubscription, reader *kafka.Reader, kmsg kafka.Message) {
	start := time.Now()
	msg, decodeErr := fromKafkaMessage(kmsg)

	var (
		outcome Outcome
		err     error
	)
	if decodeErr != nil {
		outcome, err = sub.deliverer.park(sub.ctx, msg, Poison(decodeErr))
	} else {
		outcome, err = sub.deliverer.deliver(sub.ctx, msg)
	}
	metrics.BusConsumed.WithLabelValues(sub.topic, outcome.String()).Inc()
	metrics.BusHandleDuration.WithLabelValues(sub.topic).Observe(time.Since(start).Seconds())

	switch outcome {
	case OutcomeAborted:
		return
	case OutcomeDeadLettered, OutcomeDropped:
		logger.Error(sub.ctx, "message moved out of the partition",
			zap.String("topic", sub.topic),
			zap.String("message_id", msg.ID),
			zap.Int("partition", kmsg.Partition),
			zap.Int64("offset", kmsg.Offset),
			zap.String("outcome", outcome.String()),
			zap.Bool("poison", IsPoison(err)),
			zap.Error(err),
		)
	case OutcomeHandled:
	}

	// Commit on a fresh context so finished work is recorded even while stopping.
	commitCtx, cancel := context.WithTimeout(context.Background(), k.config.CommitTimeout)
	defer cancel()
	if err := reader.CommitMessages(commitCtx, kmsg); err != nil {
		logger.Error(sub.ctx, "commit offset failed",
			zap.String("topic", sub.topic),
			zap.Int("partition", kmsg.Partition),
			zap.Int64("offset", kmsg.Offset),
			zap.Error(err),
		)
	}
}

func toKafkaMessage(topic string, message *Message, compressThreshold int) (kafka.Message, error) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	body := message.Body
	headers := make([]kafka.Header, 0, len(message.Headers)+5)
	if _, encoded := message.Headers[headerContentEncoding]; !encoded {
		compressed, applied, err := compressBody(body, compressThreshold)
		if err != nil {
			return kafka.Message{}, err
		}
		if applied {
			body = compressed
			headers = append(headers, kafka.Header{Key: headerContentEncoding, Value: []byte(encodingZstd)})
		}
	}
	for k, v := range message.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if message.ID != "" {
		headers = append(headers, kafka.Header{Key: headerID, Value: []byte(message.ID)})
	}
	headers = append(headers, kafka.Header{Key: headerTimestamp, Value: []byte(message.Timestamp.Format(time.RFC3339Nano))})
	if message.MaxRetries != 0 {
		headers = append(headers, kafka.Header{Key: headerMaxRetries, Value: []byte(strconv.Itoa(message.MaxRetries))})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(message.PartitionKey()),
		Value:   body,
		Headers: headers,
		Time:    message.Timestamp,
	}, nil
}

// fromKafkaMessage converts a fetched record. On a decode error the returned
// message still carries the raw body and headers so it can be dead-lettered as is.
func fromKafkaMessage(msg kafka.Message) (*Message, error) {
	m := &Message{
		Key:       string(msg.Key),
		Body:      msg.Value,
		Headers:   make(map[string]string),
		Timestamp: msg.Time,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}
	for _, h := range msg.Headers {
		switch h.Key {
		case headerID:
			m.ID = string(h.Value)
		case headerTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
				m.Timestamp = ts
			}
		case headerMaxRetries:
			if v, err := strconv.Atoi(string(h.Value)); err == nil && v >= 0 {
				m.MaxRetries = v
			}
		default:
			m.Headers[h.Key] = string(h.Value)
		}
	}
	if m.ID == "" {
		m.ID = m.Key
	}
	if encoding, ok := m.Headers[headerContentEncoding]; ok {
		body, err := decompressBody(m.Body, encoding)
		if err != nil {
			return m, err
		}
		m.Body = body
		delete(m.Headers, headerContentEncoding)
	}
	return m, nil
}
