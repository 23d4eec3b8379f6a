package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/otpd/internal/metrics"
)

// Handler processes one message through the extract/upsert/dispatch
// pipeline.
type Handler func(ctx context.Context, msg Message) error

// Source funnels all three message origins into one handler:
//
//   - Push: a single message delivered synchronously, processed immediately.
//   - Change-triggered rescan: the watcher's debounced triggers run a
//     bounded newest-first rescan of the spool.
//   - Manual rescan: the same bounded scan, on demand.
//
// Only the message-selection policy differs between the modes; the
// downstream sequence is identical.
type Source struct {
	spool     *Spool
	watcher   *Watcher
	handler   Handler
	scanLimit int
	logger    *zap.Logger
}

// New wires a Source. All dependencies are required.
func New(spool *Spool, watcher *Watcher, handler Handler, scanLimit int, logger *zap.Logger) (*Source, error) {
	if spool == nil {
		return nil, fmt.Errorf("source: nil spool")
	}
	if watcher == nil {
		return nil, fmt.Errorf("source: nil watcher")
	}
	if handler == nil {
		return nil, fmt.Errorf("source: nil handler")
	}
	if scanLimit < 1 {
		return nil, fmt.Errorf("source: scan limit must be at least 1, got %d", scanLimit)
	}
	if logger == nil {
		return nil, fmt.Errorf("source: nil logger")
	}
	return &Source{
		spool:     spool,
		watcher:   watcher,
		handler:   handler,
		scanLimit: scanLimit,
		logger:    logger,
	}, nil
}

// Push persists msg to the spool and processes it immediately. The spool
// append is best-effort: a history write failure is logged but does not
// stop the message from being processed.
func (s *Source) Push(ctx context.Context, msg Message) error {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	if err := s.spool.Append(msg); err != nil {
		s.logger.Warn("failed to spool pushed message", zap.String("from", msg.From), zap.Error(err))
	}

	metrics.MessagesIngested.WithLabelValues("push").Inc()
	return s.handler(ctx, msg)
}

// Rescan examines up to scanLimit spool messages, newest first, and hands
// at most one message per sender to the handler: the newest. A sender is
// marked seen on first encounter whether or not that message matches, so
// older messages never resurrect a superseded code.
//
// Returns the number of messages handed to the handler.
func (s *Source) Rescan(ctx context.Context) (int, error) {
	msgs, err := s.spool.List(ctx, s.scanLimit)
	if err != nil {
		return 0, fmt.Errorf("source: rescan: %w", err)
	}

	seen := make(map[string]struct{}, len(msgs))
	processed := 0
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if _, ok := seen[msg.From]; ok {
			continue
		}
		seen[msg.From] = struct{}{}

		metrics.MessagesIngested.WithLabelValues("rescan").Inc()
		if err := s.handler(ctx, msg); err != nil {
			s.logger.Warn("rescan message failed", zap.String("from", msg.From), zap.Error(err))
			continue
		}
		processed++
	}
	return processed, nil
}

// Run drives the watcher and executes a rescan per debounced trigger. It
// blocks until ctx is cancelled.
func (s *Source) Run(ctx context.Context) {
	go s.watcher.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.watcher.Triggers():
			s.logger.Debug("spool changed, rescanning")
			if n, err := s.Rescan(ctx); err != nil {
				s.logger.Warn("change-triggered rescan failed", zap.Error(err))
			} else {
				s.logger.Debug("rescan complete", zap.Int("processed", n))
			}
		}
	}
}
