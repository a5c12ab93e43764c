package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"checkout-service/internal/util"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultPublishTimeout = 3 * time.Second
	defaultMaxAttempts    = 5
	defaultRetryBackoff   = 200 * time.Millisecond
	maxRetryBackoff       = 10 * time.Second
)

// MessageWriter is the part of *kafka.Writer the producer needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer         MessageWriter
	publishTimeout time.Duration
	logger         *zap.Logger
}

// NewProducer creates a new Kafka producer. Each publish gives up after
// publishTimeout; zero means the default.
func NewProducer(brokers []string, topic string, publishTimeout time.Duration) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	return NewProducerFromWriter(writer, publishTimeout)
}

// NewProducerFromWriter wraps an existing writer
func NewProducerFromWriter(writer MessageWriter, publishTimeout time.Duration) *Producer {
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	return &Producer{writer: writer, publishTimeout: publishTimeout, logger: util.GetLogger()}
}

// PublishEvent publishes an event to Kafka. The write outlives a cancelled
// caller context but not publishTimeout.
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: eventBytes,
		Time:  time.Now(),
	}

	if err := p.write(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published event", zap.String("key", key), zap.String("type", fmt.Sprintf("%T", event)))
	return nil
}

// Forward copies a consumed message, annotated with where it came from
// and why it failed.
func (p *Producer) Forward(ctx context.Context, msg kafka.Message, cause error) error {
	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "source_topic", Value: []byte(msg.Topic)},
		kafka.Header{Key: "source_partition", Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: "source_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	)
	if cause != nil {
		headers = append(headers, kafka.Header{Key: "error", Value: []byte(cause.Error())})
	}

	return p.write(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
		Time:    time.Now(),
	})
}

func (p *Producer) write(ctx context.Context, msg kafka.Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.publishTimeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, msg)
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// MessageReader is the part of *kafka.Reader the consumer needs
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer represents a Kafka consumer
type Consumer struct {
	reader      MessageReader
	topic       string
	maxAttempts int
	backoff     time.Duration
	deadLetter  *Producer
	logger      *zap.Logger
}

type ConsumerOption func(*Consumer)

// WithReader consumes from r instead of a new kafka reader
func WithReader(r MessageReader) ConsumerOption {
	return func(c *Consumer) { c.reader = r }
}

// WithRetry sets how often a failing message is handled before it is
// given up on, and the first pause between attempts.
func WithRetry(maxAttempts int, backoff time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.maxAttempts = maxAttempts
		c.backoff = backoff
	}
}

// WithDeadLetter parks messages that exhausted their retries on p
func WithDeadLetter(p *Producer) ConsumerOption {
	return func(c *Consumer) { c.deadLetter = p }
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		topic:       topic,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultRetryBackoff,
		logger:      util.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}

	if c.reader == nil {
		c.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
			StartOffset:    kafka.FirstOffset,
		})
	}
	return c
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming fetches messages until ctx is done. A message is committed
// only once the handler accepted it or it was parked on the dead-letter
// topic; until then the consumer does not move past it.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting Kafka consumer", zap.String("topic", c.topic))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Consumer context cancelled, stopping", zap.String("topic", c.topic))
				return ctx.Err()
			}
			c.logger.Error("Error fetching message", zap.Error(err))
			if err := sleep(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		if err := c.deliver(ctx, handler, msg); err != nil {
			return err
		}

		// the handler already applied msg; a shutdown must not skip its commit
		if err := c.reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			c.logger.Error("Error committing message", zap.Error(err))
		}
	}
}

// deliver returns nil once msg is handled or dead-lettered, and an error
// only when ctx ends first. Without a dead-letter producer a failing
// message is retried until ctx ends.
func (c *Consumer) deliver(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	backoff := c.backoff
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return nil
		}

		c.logger.Warn("Error handling message",
			zap.String("topic", c.topic),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt >= c.maxAttempts && c.deadLetter != nil {
			derr := c.deadLetter.Forward(ctx, msg, err)
			if derr == nil {
				c.logger.Error("Message moved to dead-letter topic",
					zap.String("topic", c.topic),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				return nil
			}
			c.logger.Error("Failed to dead-letter message", zap.Int64("offset", msg.Offset), zap.Error(derr))
		}

		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
