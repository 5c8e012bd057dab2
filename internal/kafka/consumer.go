package kafka

import (
	"context"
	"errors"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler must return nil only when the message is done and its offset may be
// committed. Returning an error wrapping ErrMalformed or ErrOtherEvent also
// commits, since redelivery cannot fix those.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
	logger  *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		r:       r,
		workers: workers,
		logger:  logger.With(zap.String("topic", topic), zap.String("group", group)),
	}
}

// Start dispatches messages to h on a worker pool until ctx is done. It
// returns after every worker has exited.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, h, m)
			}
		}()
	}
	defer wg.Wait()
	defer close(jobs)

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) {
	fields := []zap.Field{zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset)}
	if err := h(ctx, m); err != nil {
		if !errors.Is(err, ErrMalformed) && !errors.Is(err, ErrOtherEvent) {
			c.logger.Error("Failed to handle message", append(fields, zap.Error(err))...)
			return
		}
		c.logger.Warn("Skipping message", append(fields, zap.Error(err))...)
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.logger.Error("Failed to commit offset", append(fields, zap.Error(err))...)
	}
}
