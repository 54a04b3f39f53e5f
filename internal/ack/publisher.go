package ack

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/kafka"
	"github.com/ITZ-Steve3153/New-bot/internal/metrics"
)

const (
	defaultSendAttempts = 5
	defaultSendBackoff  = 500 * time.Millisecond
)

// Publisher ships audit records.
type Publisher interface {
	Publish(ctx context.Context, payload Payload) error
	Close(ctx context.Context) error
}

type syncProducer interface {
	SendMessage(*sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// ProducerConfig configures the sarama producer behind KafkaPublisher.
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RetryMax     int
	RetryBackoff time.Duration
	TLS          *tls.Config
	SASL         *kafka.SASLConfig
}

func (cfg ProducerConfig) saramaConfig() *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V3_6_0_0
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	// Idempotent delivery requires acks from all replicas and a single
	// in-flight request.
	sc.Producer.Idempotent = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Return.Successes = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	if cfg.RetryMax > 0 {
		sc.Producer.Retry.Max = cfg.RetryMax
	}
	if cfg.RetryBackoff > 0 {
		sc.Producer.Retry.Backoff = cfg.RetryBackoff
	}
	if cfg.TLS != nil {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = cfg.TLS
	}
	if cfg.SASL != nil {
		cfg.SASL.Apply(sc)
	}
	return sc
}

// NewSyncProducer dials the audit topic's brokers.
func NewSyncProducer(cfg ProducerConfig) (sarama.SyncProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("ack producer: brokers required")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, cfg.saramaConfig())
	if err != nil {
		return nil, fmt.Errorf("ack producer: dial %v: %w", cfg.Brokers, err)
	}
	return producer, nil
}

// Options configure KafkaPublisher. RetryMax is the number of send attempts
// per record; RetryBackoff is the first pause and doubles after each failure.
type Options struct {
	Producer     syncProducer
	Topic        string
	RetryMax     int
	RetryBackoff time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Recorder
}

// KafkaPublisher writes JSON audit records to one topic, keyed by member.
type KafkaPublisher struct {
	producer syncProducer
	topic    string
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Recorder
}

// NewKafkaPublisher validates opts and fills in defaults.
func NewKafkaPublisher(opts Options) (*KafkaPublisher, error) {
	switch {
	case opts.Producer == nil:
		return nil, errors.New("ack publisher: producer required")
	case opts.Topic == "":
		return nil, errors.New("ack publisher: topic required")
	}
	p := &KafkaPublisher{
		producer: opts.Producer,
		topic:    opts.Topic,
		attempts: opts.RetryMax,
		backoff:  opts.RetryBackoff,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if p.attempts <= 0 {
		p.attempts = defaultSendAttempts
	}
	if p.backoff <= 0 {
		p.backoff = defaultSendBackoff
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p, nil
}

func (p *KafkaPublisher) message(payload Payload) (*sarama.ProducerMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(payload.Key()),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("record-id"), Value: []byte(payload.ID)},
			{Key: []byte("record-kind"), Value: []byte(payload.Kind)},
		},
	}, nil
}

// Publish sends payload, stamping ID and AckedAt when unset.
func (p *KafkaPublisher) Publish(ctx context.Context, payload Payload) error {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	if payload.AckedAt.IsZero() {
		payload.AckedAt = time.Now().UTC()
	}
	msg, err := p.message(payload)
	if err != nil {
		return fmt.Errorf("ack publish: encode %s: %w", payload.ID, err)
	}

	pause := p.backoff
	var sendErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if _, _, sendErr = p.producer.SendMessage(msg); sendErr == nil {
			p.metrics.ObserveAckPublish("success")
			return nil
		}
		p.metrics.ObserveAckRetry()
		if attempt == p.attempts {
			break
		}
		if err := sleepCtx(ctx, pause); err != nil {
			return err
		}
		pause *= 2
	}

	p.metrics.ObserveAckPublish("failure")
	p.logger.Error("audit record not published",
		zap.String("record_id", payload.ID),
		zap.String("guild_id", string(payload.GuildID)),
		zap.String("member_id", string(payload.MemberID)),
		zap.Int("attempts", p.attempts),
		zap.Error(sendErr))
	return fmt.Errorf("ack publish: %w", sendErr)
}

// Close closes the producer, which flushes anything in flight.
func (p *KafkaPublisher) Close(context.Context) error {
	return p.producer.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
