package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	streamName      = "DELIVERIES"
	subjectDispatch = "deliveries.dispatch"
	durableName     = "dispatcher"

	// ackWait must exceed the longest possible dispatch attempt so the
	// server does not redeliver a task that is still in flight.
	ackWait = 2 * time.Minute

	fetchWait = 2 * time.Second

	maxBackoff = 30 * time.Minute
)

// Queue is the durable delivery work queue on NATS JetStream.
//
// Task intent is persisted in a file-backed work-queue stream with a durable
// consumer, so pending deliveries and their retry schedule survive process
// restarts. Transient failures are redelivered with exponential backoff
// until the attempt bound is exhausted, after which the record is left in
// FAILURE (the status was already persisted by the failing attempt).
type Queue struct {
	js          nats.JetStreamContext
	dispatcher  *Dispatcher
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
}

// NewQueue creates the queue and ensures the stream exists.
func NewQueue(nc *nats.Conn, dispatcher *Dispatcher, maxAttempts int, backoff time.Duration, logger *zap.Logger) (*Queue, error) {
	if nc == nil {
		return nil, fmt.Errorf("delivery: nil nats connection")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("delivery: nil dispatcher")
	}
	if maxAttempts < 1 {
		return nil, fmt.Errorf("delivery: max attempts must be at least 1, got %d", maxAttempts)
	}
	if backoff <= 0 {
		return nil, fmt.Errorf("delivery: backoff must be positive")
	}
	if logger == nil {
		return nil, fmt.Errorf("delivery: nil logger")
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("delivery: create jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(streamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("delivery: stream info: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      streamName,
			Subjects:  []string{subjectDispatch},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("delivery: create stream: %w", err)
		}
	}

	return &Queue{
		js:          js,
		dispatcher:  dispatcher,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      logger,
	}, nil
}

// Enqueue persists one delivery task. The dispatch itself happens
// asynchronously in Run; completion is reported through the record store
// and the event bus.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("delivery: marshal task: %w", err)
	}
	if _, err := q.js.Publish(subjectDispatch, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("delivery: enqueue task: %w", err)
	}
	return nil
}

// Run consumes tasks until ctx is cancelled. Delivered and terminal
// outcomes ack the task; transient outcomes schedule a redelivery with
// exponential backoff until the attempt bound is reached.
func (q *Queue) Run(ctx context.Context) error {
	sub, err := q.js.PullSubscribe(subjectDispatch, durableName,
		nats.AckWait(ackWait),
		nats.MaxDeliver(q.maxAttempts),
	)
	if err != nil {
		return fmt.Errorf("delivery: subscribe: %w", err)
	}
	defer func() {
		// Durable consumers keep their state server-side; just detach.
		_ = sub.Drain()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Warn("fetch delivery task failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			q.handle(ctx, msg)
		}
	}
}

func (q *Queue) handle(ctx context.Context, msg *nats.Msg) {
	var task Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		q.logger.Error("drop malformed delivery task", zap.Error(err))
		_ = msg.Term()
		return
	}

	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	outcome := q.dispatcher.Dispatch(ctx, task)

	switch outcome {
	case OutcomeDelivered, OutcomeTerminal:
		if err := msg.Ack(); err != nil {
			q.logger.Warn("ack delivery task failed", zap.Error(err))
		}

	case OutcomeTransient:
		if attempt >= q.maxAttempts {
			q.logger.Error("delivery retries exhausted",
				zap.String("record_id", task.RecordID),
				zap.Int("attempts", attempt))
			_ = msg.Term()
			return
		}
		delay := q.backoffFor(attempt)
		q.logger.Info("delivery retry scheduled",
			zap.String("record_id", task.RecordID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		if err := msg.NakWithDelay(delay); err != nil {
			q.logger.Warn("nak delivery task failed", zap.Error(err))
		}
	}
}

// backoffFor doubles the base delay per completed attempt, capped.
func (q *Queue) backoffFor(attempt int) time.Duration {
	d := q.backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
