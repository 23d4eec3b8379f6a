// Package pipeline runs the extract, upsert, dispatch-enqueue sequence
// shared by every message origin.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/otpd/internal/bus"
	"github.com/fyrsmithlabs/otpd/internal/delivery"
	"github.com/fyrsmithlabs/otpd/internal/extract"
	"github.com/fyrsmithlabs/otpd/internal/metrics"
	"github.com/fyrsmithlabs/otpd/internal/record"
	"github.com/fyrsmithlabs/otpd/internal/source"
)

// Enqueuer persists delivery intent. Implemented by delivery.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task delivery.Task) error
}

// Processor decides, per observed message, whether it represents a new
// verification attempt, updates the sender's record, and enqueues delivery.
type Processor struct {
	keyword string
	store   record.Store
	queue   Enqueuer
	events  *bus.Bus
	logger  *zap.Logger
}

// New wires a Processor. The keyword is an immutable snapshot of the
// configured match term; all dependencies are required.
func New(keyword string, store record.Store, queue Enqueuer, events *bus.Bus, logger *zap.Logger) (*Processor, error) {
	if keyword == "" {
		return nil, fmt.Errorf("pipeline: empty keyword")
	}
	if store == nil {
		return nil, fmt.Errorf("pipeline: nil store")
	}
	if queue == nil {
		return nil, fmt.Errorf("pipeline: nil queue")
	}
	if events == nil {
		return nil, fmt.Errorf("pipeline: nil event bus")
	}
	if logger == nil {
		return nil, fmt.Errorf("pipeline: nil logger")
	}
	return &Processor{
		keyword: keyword,
		store:   store,
		queue:   queue,
		events:  events,
		logger:  logger,
	}, nil
}

// Process runs one message through extract, upsert, and enqueue. The empty
// outcome means the message did not match the keyword and was ignored.
func (p *Processor) Process(ctx context.Context, msg source.Message) (record.Outcome, error) {
	code, ok := extract.Extract(msg.Body, p.keyword)
	if !ok {
		p.logger.Debug("message ignored, keyword absent", zap.String("from", msg.From))
		return "", nil
	}
	metrics.CodesExtracted.Inc()

	up, err := p.store.Upsert(ctx, msg.From, code)
	if err != nil {
		return "", fmt.Errorf("pipeline: upsert %s: %w", msg.From, err)
	}
	metrics.Upserts.WithLabelValues(string(up.Outcome)).Inc()

	if !up.Outcome.Dispatchable() {
		p.logger.Debug("dispatch skipped",
			zap.String("phone", msg.From),
			zap.String("outcome", string(up.Outcome)))
		return up.Outcome, nil
	}

	task := delivery.Task{
		RecordID: up.Record.ID,
		Phone:    up.Record.Phone,
		Code:     up.Record.Code,
	}
	if err := p.queue.Enqueue(ctx, task); err != nil {
		return up.Outcome, fmt.Errorf("pipeline: enqueue %s: %w", up.Record.ID, err)
	}

	p.logger.Info("delivery enqueued",
		zap.String("record_id", up.Record.ID),
		zap.String("phone", up.Record.Phone),
		zap.String("outcome", string(up.Outcome)))
	p.events.ListChanged()

	return up.Outcome, nil
}

// Handle adapts Process to the source.Handler signature.
func (p *Processor) Handle(ctx context.Context, msg source.Message) error {
	_, err := p.Process(ctx, msg)
	return err
}
