package submitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// spawnWorkerPool spawns the event worker goroutines
func (c *Consumer) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < c.cfg.Concurrency; i++ {
		c.wg.Add(1)
		go c.workerLoop(ctx, i)
	}

	c.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", c.cfg.Concurrency),
	)
}

// workerLoop handles events until jobsChan is closed. Events already taken
// from the channel are finished even after ctx is cancelled.
func (c *Consumer) workerLoop(ctx context.Context, workerNum int) {
	defer c.wg.Done()

	workerName := fmt.Sprintf("%s-%d", c.cfg.ConsumerTag, workerNum)

	for msg := range c.jobsChan {
		job, err := c.handler.Handle(context.WithoutCancel(ctx), msg.Event)

		if err != nil {
			requeue := shouldRequeue(err)
			c.logger.Error("Event processing failed",
				slog.String("worker_name", workerName),
				slog.String("event", msg.Event.Kind),
				slog.Bool("requeue", requeue),
				slog.String("error", err.Error()),
			)

			if nackErr := msg.delivery.Nack(false, requeue); nackErr != nil {
				c.logger.Error("Failed to NACK message",
					slog.String("worker_name", workerName),
					slog.Uint64("delivery_tag", msg.DeliveryTag),
					slog.String("error", nackErr.Error()),
				)
			}
			continue
		}

		if job != nil {
			c.logger.Debug("Event processed",
				slog.String("worker_name", workerName),
				slog.String("event", msg.Event.Kind),
				slog.Int64("job_id", job.ID),
			)
		}

		if ackErr := msg.delivery.Ack(false); ackErr != nil {
			c.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.Uint64("delivery_tag", msg.DeliveryTag),
				slog.String("error", ackErr.Error()),
			)
		}
	}
}

// shouldRequeue requeues only transient failures
func shouldRequeue(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
