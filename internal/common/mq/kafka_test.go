package mq

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestKafkaMessageRoundTripKeepsKeyAndHeaders(t *testing.T) {
	t.Parallel()
	msg := NewMessage([]byte(`{"submissionId":"s-1"}`))
	msg.ID = "evt-1"
	msg.Key = "s-1"
	msg.MaxRetries = 2
	msg.SetHeader("x-event-type", "result")

	kmsg, err := toKafkaMessage("solution.exec.result", msg, 0)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if string(kmsg.Key) != "s-1" {
		t.Fatalf("expected key s-1, got %s", kmsg.Key)
	}
	kmsg.Partition = 7
	kmsg.Offset = 11

	back, err := fromKafkaMessage(kmsg)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if back.ID != "evt-1" || back.Key != "s-1" {
		t.Fatalf("unexpected identity: id=%s key=%s", back.ID, back.Key)
	}
	if back.MaxRetries != 2 {
		t.Fatalf("expected max retries 2, got %d", back.MaxRetries)
	}
	if v, _ := back.GetHeader("x-event-type"); v != "result" {
		t.Fatalf("expected header to survive, got %q", v)
	}
	if back.Partition != 7 || back.Offset != 11 {
		t.Fatalf("expected delivery metadata, got %d/%d", back.Partition, back.Offset)
	}
	if !back.Timestamp.Equal(msg.Timestamp) {
		t.Fatalf("expected timestamp %s, got %s", msg.Timestamp, back.Timestamp)
	}
}

func TestKafkaMessageIDFallsBackToKey(t *testing.T) {
	t.Parallel()
	back, err := fromKafkaMessage(kafka.Message{Key: []byte("s-9"), Value: []byte("{}")})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if back.ID != "s-9" {
		t.Fatalf("expected id from key, got %s", back.ID)
	}
}

func TestLargeBodiesAreCompressed(t *testing.T) {
	t.Parallel()
	body := []byte(strings.Repeat("print('hello world')\n", 500))
	msg := NewMessage(body)
	msg.ID = "s-2"

	kmsg, err := toKafkaMessage("solution.exec.request", msg, 1024)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if len(kmsg.Value) >= len(body) {
		t.Fatalf("expected compressed value, got %d bytes", len(kmsg.Value))
	}
	back, err := fromKafkaMessage(kmsg)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(back.Body, body) {
		t.Fatalf("body mismatch after decompression")
	}
	if _, ok := back.GetHeader(headerContentEncoding); ok {
		t.Fatalf("content encoding header must be consumed")
	}
}

func TestSmallBodiesStayPlain(t *testing.T) {
	t.Parallel()
	msg := NewMessage([]byte(`{"ok":true}`))
	kmsg, err := toKafkaMessage("t", msg, 1024)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if string(kmsg.Value) != `{"ok":true}` {
		t.Fatalf("expected plain body, got %q", kmsg.Value)
	}
}

func TestCorruptCompressedBodyIsReported(t *testing.T) {
	t.Parallel()
	kmsg := kafka.Message{
		Key:     []byte("s-3"),
		Value:   []byte("definitely not zstd"),
		Headers: []kafka.Header{{Key: headerContentEncoding, Value: []byte(encodingZstd)}},
	}
	back, err := fromKafkaMessage(kmsg)
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if back == nil || string(back.Body) != "definitely not zstd" {
		t.Fatalf("expected raw body to be kept for dead lettering")
	}
	if v, _ := back.GetHeader(headerContentEncoding); v != encodingZstd {
		t.Fatalf("expected encoding header to be kept, got %q", v)
	}
}

func TestParseProducerSettings(t *testing.T) {
	t.Parallel()
	if acks, err := parseRequiredAcks(""); err != nil || acks != kafka.RequireAll {
		t.Fatalf("expected RequireAll by default, got %v (%v)", acks, err)
	}
	if _, err := parseRequiredAcks("most"); err == nil {
		t.Fatalf("expected error for unknown acks")
	}
	if c, err := parseCompression("zstd"); err != nil || c != kafka.Zstd {
		t.Fatalf("expected zstd, got %v (%v)", c, err)
	}
	if _, err := parseCompression("brotli"); err == nil {
		t.Fatalf("expected error for unknown compression")
	}
}

func TestTopicSpecDefaults(t *testing.T) {
	t.Parallel()
	specs := TopicSpec{Name: "solution.exec.request"}.WithDeadLetter()
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	cfg := specs[0].toConfig()
	if cfg.NumPartitions != 32 || cfg.ReplicationFactor != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ConfigEntries[0].ConfigValue != "604800000" {
		t.Fatalf("expected 7 day retention, got %s", cfg.ConfigEntries[0].ConfigValue)
	}
	dlt := specs[1].toConfig()
	if dlt.Topic != "solution.exec.request.DLT" {
		t.Fatalf("unexpected dead-letter topic %s", dlt.Topic)
	}
	if dlt.ConfigEntries[0].ConfigValue != "1209600000" {
		t.Fatalf("expected 14 day retention, got %s", dlt.ConfigEntries[0].ConfigValue)
	}
}

type memoryMarkers struct {
	mu   sync.Mutex
	data map[string]time.Duration
	err  error
}

func (m *memoryMarkers) Exists(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			n++
		}
	}
	return n, nil
}

func (m *memoryMarkers) Set(_ context.Context, key string, _ interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.data == nil {
		m.data = make(map[string]time.Duration)
	}
	m.data[key] = ttl
	return nil
}

func TestDeduplicateRunsHandlerOnce(t *testing.T) {
	t.Parallel()
	store := &memoryMarkers{}
	calls := 0
	handler := Deduplicate(store, DedupConfig{TTL: time.Minute}, func(ctx context.Context, msg *Message) error {
		calls++
		return nil
	})
	msg := &Message{ID: "evt-1", Topic: "notify"}
	for i := 0; i < 3; i++ {
		if err := handler(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single side effect, got %d", calls)
	}
	if ttl := store.data["dedup:notify:evt-1"]; ttl != time.Minute {
		t.Fatalf("expected marker with ttl, got %s", ttl)
	}
}

func TestDeduplicateFailedDeliveryLeavesNoMarker(t *testing.T) {
	t.Parallel()
	store := &memoryMarkers{}
	calls := 0
	handler := Deduplicate(store, DedupConfig{}, func(ctx context.Context, msg *Message) error {
		calls++
		if calls == 1 {
			return errors.New("judge down")
		}
		return nil
	})
	msg := &Message{ID: "evt-2", Topic: "notify"}
	if err := handler(context.Background(), msg); err == nil {
		t.Fatalf("expected first delivery to fail")
	}
	if len(store.data) != 0 {
		t.Fatalf("failed delivery must not leave a marker, got %v", store.data)
	}
	if err := handler(context.Background(), msg); err != nil {
		t.Fatalf("expected retry to run, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected handler to run twice, got %d", calls)
	}
}

func TestDeduplicateRedeliveryAfterCrashRunsHandler(t *testing.T) {
	t.Parallel()
	store := &memoryMarkers{}
	runs := 0
	handler := Deduplicate(store, DedupConfig{}, func(ctx context.Context, msg *Message) error {
		runs++
		if runs == 1 {
			panic("process killed mid-handler")
		}
		return nil
	})
	msg := &Message{ID: "evt-4", Topic: "solution.exec.request"}

	func() {
		defer func() { _ = recover() }()
		_ = handler(context.Background(), msg)
	}()
	if err := handler(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}
	if runs != 2 {
		t.Fatalf("expected redelivery to run the handler, got %d runs", runs)
	}
	if _, ok := store.data["dedup:solution.exec.request:evt-4"]; !ok {
		t.Fatalf("expected a marker after the successful run")
	}
}

func TestDeduplicateStoreErrorFailsDelivery(t *testing.T) {
	t.Parallel()
	store := &memoryMarkers{err: errors.New("redis down")}
	called := false
	handler := Deduplicate(store, DedupConfig{}, func(ctx context.Context, msg *Message) error {
		called = true
		return nil
	})
	if err := handler(context.Background(), &Message{ID: "evt-3"}); err == nil {
		t.Fatalf("expected error when the store is unavailable")
	}
	if called {
		t.Fatalf("handler must not run when the marker cannot be checked")
	}
}
