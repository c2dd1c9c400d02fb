package submitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
)

// DeliverySource starts a RabbitMQ consumer
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// EventHandler turns one event into a print job
type EventHandler interface {
	Handle(ctx context.Context, event Event) (*domain.Job, error)
}

// EventHandlerFunc adapts a function to EventHandler
type EventHandlerFunc func(ctx context.Context, event Event) (*domain.Job, error)

func (f EventHandlerFunc) Handle(ctx context.Context, event Event) (*domain.Job, error) {
	return f(ctx, event)
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	ConsumerTag string
	Concurrency int
}

type eventMessage struct {
	Event       Event
	DeliveryTag uint64
	delivery    amqp.Delivery
}

// Consumer reads business events from RabbitMQ and hands them to a bounded
// worker pool
type Consumer struct {
	cfg      ConsumerConfig
	source   DeliverySource
	handler  EventHandler
	logger   *slog.Logger
	wg       sync.WaitGroup
	jobsChan chan *eventMessage
}

// NewConsumer creates a consumer
func NewConsumer(cfg ConsumerConfig, source DeliverySource, handler EventHandler, logger *slog.Logger) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Consumer{
		cfg:      cfg,
		source:   source,
		handler:  handler,
		logger:   logger,
		jobsChan: make(chan *eventMessage, cfg.Concurrency),
	}
}

// Run consumes until ctx is cancelled or the delivery channel closes, then
// waits for in-flight events
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.cfg.ConsumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Event consumer started",
		slog.String("consumer_tag", c.cfg.ConsumerTag),
		slog.Int("concurrency", c.cfg.Concurrency),
	)

	c.spawnWorkerPool(ctx)
	c.dispatch(ctx, deliveries)

	close(c.jobsChan)
	c.wg.Wait()

	c.logger.Info("Event consumer stopped")
	return nil
}

// dispatch decodes deliveries and forwards them to the worker pool
func (c *Consumer) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Event dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var event Event
			if err := json.Unmarshal(delivery.Body, &event); err != nil || event.Kind == "" {
				c.logger.Error("Failed to parse event message",
					slog.Any("error", fmt.Errorf("%w: %v", ErrInvalidEvent, err)),
					slog.String("body", string(delivery.Body)),
				)
				// Malformed messages go to the dead letter queue
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					c.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			msg := &eventMessage{
				Event:       event,
				DeliveryTag: delivery.DeliveryTag,
				delivery:    delivery,
			}

			select {
			case c.jobsChan <- msg:
				c.logger.Debug("Event dispatched to worker pool",
					slog.String("event", event.Kind),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				c.logger.Info("Event dispatcher stopped while dispatching")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					c.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}
