package ack

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

type fakeProducer struct {
	mu       sync.Mutex
	failures int
	sent     []*sarama.ProducerMessage
	closed   bool
}

func (f *fakeProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return 0, 0, errors.New("broker unavailable")
	}
	f.sent = append(f.sent, msg)
	return 0, int64(len(f.sent)), nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func (f *fakeProducer) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func samplePayload() Payload {
	p := NewPayload(KindEscalation, "g1", "m1", "t1")
	p.Action = policy.ActionKick
	p.Result = ResultApplied
	p.AppliedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return p
}

func TestKafkaPublisherEncodesJSON(t *testing.T) {
	producer := &fakeProducer{failures: 1}
	pub, err := NewKafkaPublisher(Options{Producer: producer, Topic: "audit", RetryBackoff: time.Millisecond})
	require.NoError(t, err)

	payload := samplePayload()
	require.NoError(t, pub.Publish(context.Background(), payload))
	require.Len(t, producer.sent, 1)

	msg := producer.sent[0]
	assert.Equal(t, "audit", msg.Topic)
	key, err := msg.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "g1:m1", string(key))

	raw, err := msg.Value.Encode()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, payload.ID, decoded["id"])
	assert.Equal(t, "escalation", decoded["kind"])
	assert.Equal(t, "kick", decoded["action"])
	assert.Equal(t, "applied", decoded["result"])
	assert.NotContains(t, decoded, "timer_started_at")
	assert.NotEmpty(t, decoded["acked_at"])

	require.NoError(t, pub.Close(context.Background()))
	assert.True(t, producer.closed)
}

func TestKafkaPublisherGivesUp(t *testing.T) {
	producer := &fakeProducer{failures: 10}
	pub, err := NewKafkaPublisher(Options{Producer: producer, Topic: "audit", RetryMax: 2, RetryBackoff: time.Millisecond})
	require.NoError(t, err)
	assert.Error(t, pub.Publish(context.Background(), samplePayload()))
	assert.Equal(t, 8, producer.failures)
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(Options{Topic: "audit"})
	assert.Error(t, err)
	_, err = NewKafkaPublisher(Options{Producer: &fakeProducer{}})
	assert.Error(t, err)
}

func TestBoltQueueOrderAndCapacity(t *testing.T) {
	q, err := OpenQueue(QueueOptions{Path: filepath.Join(t.TempDir(), "nested", "audit.db"), MaxSize: 2})
	require.NoError(t, err)
	defer q.Close()
	ctx := context.Background()

	_, _, err = q.Peek(ctx)
	assert.ErrorIs(t, err, ErrQueueEmpty)

	first := samplePayload()
	second := samplePayload()
	id1, err := q.Enqueue(ctx, first)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, second)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, samplePayload())
	assert.ErrorIs(t, err, ErrQueueFull)

	id, got, err := q.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, id)
	assert.Equal(t, first.ID, got.ID)

	require.NoError(t, q.Delete(ctx, id1))
	assert.Error(t, q.Delete(ctx, id1))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, got, err = q.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestRetryingPublisherDeliversAfterOutage(t *testing.T) {
	q, err := OpenQueue(QueueOptions{Path: filepath.Join(t.TempDir(), "audit.db")})
	require.NoError(t, err)
	producer := &fakeProducer{failures: 3}
	backend, err := NewKafkaPublisher(Options{Producer: producer, Topic: "audit", RetryMax: 1, RetryBackoff: time.Millisecond})
	require.NoError(t, err)
	retrier, err := NewRetryingPublisher(RetrierOptions{Queue: q, Backend: backend, Interval: 5 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, retrier.Publish(context.Background(), samplePayload()))
	require.NoError(t, retrier.Publish(context.Background(), samplePayload()))

	assert.Eventually(t, func() bool { return producer.sentCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		n, err := q.Len(context.Background())
		return err == nil && n == 0
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, retrier.Close(ctx))
}

func TestRetryingPublisherKeepsRecordsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	q, err := OpenQueue(QueueOptions{Path: path})
	require.NoError(t, err)
	down := &fakeProducer{failures: 1 << 20}
	backend, err := NewKafkaPublisher(Options{Producer: down, Topic: "audit", RetryMax: 1, RetryBackoff: time.Millisecond})
	require.NoError(t, err)
	retrier, err := NewRetryingPublisher(RetrierOptions{Queue: q, Backend: backend, Interval: 5 * time.Millisecond})
	require.NoError(t, err)
	payload := samplePayload()
	require.NoError(t, retrier.Publish(context.Background(), payload))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, retrier.Close(ctx))

	reopened, err := OpenQueue(QueueOptions{Path: path})
	require.NoError(t, err)
	defer reopened.Close()
	_, got, err := reopened.Peek(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload.ID, got.ID)
	assert.Equal(t, policy.MemberID("m1"), got.MemberID)
}
