package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/metrics"
)

// MessageHandler is invoked for each member-event message. Returning an
// error ends the claim without marking the message, so it is redelivered.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// Config represents the options for constructing a consumer.
type Config struct {
	Brokers       []string
	GroupID       string
	Topic         string
	ClientID      string
	TLS           bool
	TLSCAPath     string
	TLSCertPath   string
	TLSKeyPath    string
	SASLEnabled   bool
	SASLMechanism string
	SASLUsername  string
	SASLPassword  string
	Metrics       *metrics.Recorder
	Logger        *zap.Logger
}

func (cfg Config) validate() error {
	switch {
	case len(cfg.Brokers) == 0:
		return errors.New("kafka consumer: brokers required")
	case cfg.Topic == "":
		return errors.New("kafka consumer: topic required")
	case cfg.GroupID == "":
		return errors.New("kafka consumer: group id required")
	}
	return nil
}

// saramaConfig starts new groups at the newest offset: member events older
// than the bot's first run are covered by the reconciler's startup sweep.
func (cfg Config) saramaConfig() (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V3_6_0_0
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	if cfg.TLS {
		tlsConfig, err := BuildTLSConfig(cfg.TLSCAPath, cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return nil, err
		}
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = tlsConfig
	}
	if cfg.SASLEnabled {
		SASLConfig{Mechanism: cfg.SASLMechanism, Username: cfg.SASLUsername, Password: cfg.SASLPassword}.Apply(sc)
	}
	return sc, nil
}

// Consumer reads membership events bridged onto a Kafka topic.
type Consumer struct {
	group   sarama.ConsumerGroup
	claims  *claimHandler
	topic   string
	metrics *metrics.Recorder
	logger  *zap.Logger

	watchOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// NewConsumer joins the consumer group. handler receives every message.
func NewConsumer(cfg Config, handler MessageHandler) (*Consumer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sc, err := cfg.saramaConfig()
	if err != nil {
		return nil, err
	}
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: join group %s: %w", cfg.GroupID, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		group:   group,
		claims:  &claimHandler{handler: handler, metrics: cfg.Metrics},
		topic:   cfg.Topic,
		metrics: cfg.Metrics,
		logger:  logger,
	}, nil
}

// Run consumes until ctx is cancelled or the group is closed. Each Consume
// call lasts one group generation, so it is repeated across rebalances.
func (c *Consumer) Run(ctx context.Context) error {
	c.watchOnce.Do(func() { go c.watchErrors(ctx) })
	for ctx.Err() == nil {
		err := c.group.Consume(ctx, []string{c.topic}, c.claims)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("kafka consumer: %s: %w", c.topic, err)
		}
	}
	return nil
}

// Close leaves the group. Safe to call more than once.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.group.Close() })
	return c.closeErr
}

func (c *Consumer) watchErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}
			c.metrics.ObserveKafkaError("group")
			c.logger.Warn("member event consumer error", zap.String("topic", c.topic), zap.Error(err))
		}
	}
}

// claimHandler feeds one partition claim at a time to the MessageHandler
// and marks offsets only after the handler accepted the message.
type claimHandler struct {
	handler MessageHandler
	metrics *metrics.Recorder
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.metrics.ObserveKafkaLag(msg.Partition, max(claim.HighWaterMarkOffset()-msg.Offset-1, 0))
		if err := h.handler.HandleMessage(session.Context(), msg); err != nil {
			h.metrics.ObserveKafkaError("handler")
			return err
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
