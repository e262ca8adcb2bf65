package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       Reader
	workers int
	log     *zap.Logger
	backoff func() backoff.BackOff
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r Reader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, log: log, backoff: handlerBackoff}
}

// Start fetches until ctx is done. Each partition sticks to one worker, and a
// worker does not move past a message until the handler accepts it, so
// commits within a partition stay in offset order.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			c.work(ctx, h, in)
		}(jobs[i])
	}

	err := c.dispatch(ctx, jobs)
	for _, ch := range jobs {
		close(ch)
	}
	wg.Wait()
	if cerr := c.r.Close(); cerr != nil {
		c.log.Warn("close reader", zap.Error(cerr))
	}
	return err
}

func (c *Consumer) dispatch(ctx context.Context, jobs []chan kafka.Message) error {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			// kecilkan noise saat shutdown
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs[m.Partition%len(jobs)] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) work(ctx context.Context, h Handler, in <-chan kafka.Message) {
	for m := range in {
		if err := c.handle(ctx, h, m); err != nil {
			// shutting down; the uncommitted offset is redelivered to the next owner
			c.log.Warn("stop worker with uncommitted message",
				zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
			return
		}
		// commit on success
		if err := c.r.CommitMessages(ctx, m); err != nil {
			c.log.Warn("commit offset", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// handle retries h until it succeeds or ctx is done.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) error {
	return backoff.RetryNotify(func() error {
		return h(ctx, m)
	}, backoff.WithContext(c.backoff(), ctx), func(err error, wait time.Duration) {
		c.log.Warn("consumer handler failed, retrying",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
}

func handlerBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0 // never give up while running
	return b
}
