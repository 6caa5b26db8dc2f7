package mq

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	headerDeadLetterReason = "x-dead-letter-reason"
	headerOriginalTopic    = "x-original-topic"
	headerOriginalOffset   = "x-original-offset"
	headerAttempts         = "x-delivery-attempts"
)

// PoisonError marks a message that can never be processed, such as an undecodable payload.
// Poison messages skip retries and go straight to the dead-letter topic.
type PoisonError struct {
	Err error
}

func (e *PoisonError) Error() string {
	if e.Err == nil {
		return "poison message"
	}
	return "poison message: " + e.Err.Error()
}

func (e *PoisonError) Unwrap() error {
	return e.Err
}

// Poison wraps err so the consumer dead-letters the message without retrying.
func Poison(err error) error {
	if err == nil {
		return nil
	}
	return &PoisonError{Err: err}
}

// Poisonf builds a poison error from a format string.
func Poisonf(format string, args ...interface{}) error {
	return &PoisonError{Err: fmt.Errorf(format, args...)}
}

// IsPoison reports whether err marks a poison message.
func IsPoison(err error) bool {
	var p *PoisonError
	return errors.As(err, &p)
}

// ComputeBackoff returns the delay before retry number retryCount (1-based).
func ComputeBackoff(retryCount int, base time.Duration, multiplier float64, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount <= 1 {
		if max > 0 && base > max {
			return max
		}
		return base
	}
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(base) * math.Pow(multiplier, float64(retryCount-1))
	if max > 0 && delay > float64(max) {
		return max
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Outcome is the final state of a single delivery.
type Outcome int

const (
	// OutcomeHandled means the handler succeeded and the offset may be committed.
	OutcomeHandled Outcome = iota
	// OutcomeDeadLettered means the message was moved to the dead-letter topic.
	OutcomeDeadLettered
	// OutcomeDropped means the message failed and no dead-letter topic is configured.
	OutcomeDropped
	// OutcomeAborted means the consumer stopped mid-delivery; the offset must not be committed.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHandled:
		return "handled"
	case OutcomeDeadLettered:
		return "dead_lettered"
	case OutcomeDropped:
		return "dropped"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// deliverer runs a handler against one message with retry, backoff and dead lettering.
type deliverer struct {
	topic      string
	handler    HandlerFunc
	opts       SubscribeOptions
	deadLetter func(ctx context.Context, topic string, msg *Message) error
	sleep      func(ctx context.Context, d time.Duration) error
	onRetry    func(msg *Message, err error, delay time.Duration)
}

func (d *deliverer) deliver(ctx context.Context, msg *Message) (Outcome, error) {
	if msg.MaxRetries == 0 {
		msg.MaxRetries = d.opts.MaxRetries
	}
	for {
		err := d.handler(ctx, msg)
		if err == nil {
			return OutcomeHandled, nil
		}
		if ctx.Err() != nil {
			return OutcomeAborted, err
		}
		if IsPoison(err) || !msg.ShouldRetry() {
			return d.park(ctx, msg, err)
		}
		msg.RetryCount++
		delay := ComputeBackoff(msg.RetryCount, d.opts.RetryDelay, d.opts.RetryMultiplier, d.opts.MaxRetryDelay)
		if d.onRetry != nil {
			d.onRetry(msg, err, delay)
		}
		if err := d.sleep(ctx, delay); err != nil {
			return OutcomeAborted, err
		}
	}
}

// park moves a failed message to the dead-letter topic.
// Publishing is retried until it succeeds or the consumer stops, so a failed
// message is never committed without a dead-letter copy.
func (d *deliverer) park(ctx context.Context, msg *Message, cause error) (Outcome, error) {
	dlt := d.opts.DeadLetterTopic
	if dlt == "-" || d.deadLetter == nil {
		return OutcomeDropped, cause
	}
	if dlt == "" {
		dlt = DeadLetterTopicFor(d.topic)
	}

	parked := &Message{
		ID:         msg.ID,
		Key:        msg.PartitionKey(),
		Body:       msg.Body,
		Headers:    make(map[string]string, len(msg.Headers)+3),
		Timestamp:  msg.Timestamp,
		MaxRetries: msg.MaxRetries,
	}
	for k, v := range msg.Headers {
		parked.Headers[k] = v
	}
	parked.Headers[headerDeadLetterReason] = cause.Error()
	parked.Headers[headerOriginalTopic] = d.topic
	parked.Headers[headerOriginalOffset] = fmt.Sprintf("%d/%d", msg.Partition, msg.Offset)
	parked.Headers[headerAttempts] = strconv.Itoa(msg.RetryCount + 1)

	for attempt := 1; ; attempt++ {
		err := d.deadLetter(ctx, dlt, parked)
		if err == nil {
			return OutcomeDeadLettered, cause
		}
		delay := ComputeBackoff(attempt, d.opts.RetryDelay, d.opts.RetryMultiplier, d.opts.MaxRetryDelay)
		if d.onRetry != nil {
			d.onRetry(parked, err, delay)
		}
		if sleepErr := d.sleep(ctx, delay); sleepErr != nil {
			return OutcomeAborted, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
