package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/otpd/internal/bus"
	"github.com/fyrsmithlabs/otpd/internal/config"
	"github.com/fyrsmithlabs/otpd/internal/metrics"
	"github.com/fyrsmithlabs/otpd/internal/record"
)

// Task is one delivery intent, persisted on the work queue.
type Task struct {
	RecordID string `json:"record_id"`
	Phone    string `json:"phone"`
	Code     string `json:"code"`
}

// Outcome classifies one dispatch attempt.
type Outcome string

const (
	// OutcomeDelivered means the endpoint accepted the code (HTTP 2xx).
	OutcomeDelivered Outcome = "delivered"

	// OutcomeTransient means the attempt failed in a retryable way
	// (transport error or HTTP 5xx).
	OutcomeTransient Outcome = "transient"

	// OutcomeTerminal means the attempt failed and retrying cannot help
	// (misconfiguration or a non-5xx error status).
	OutcomeTerminal Outcome = "terminal"
)

const maxResponseBody = 64 * 1024

// Dispatcher executes delivery attempts: render, POST, classify, persist
// the resulting status, and surface every attempt on the event bus.
type Dispatcher struct {
	cfg    config.DeliveryConfig
	client *http.Client
	store  record.Store
	events *bus.Bus
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher. The config is an immutable snapshot;
// store, events, and logger are required.
func NewDispatcher(cfg config.DeliveryConfig, store record.Store, events *bus.Bus, logger *zap.Logger) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("delivery: nil store")
	}
	if events == nil {
		return nil, fmt.Errorf("delivery: nil event bus")
	}
	if logger == nil {
		return nil, fmt.Errorf("delivery: nil logger")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		store:  store,
		events: events,
		logger: logger,
	}, nil
}

// Dispatch performs one delivery attempt for the task and returns its
// classification. The record status is persisted and a DeliveryDebug event
// is published for every path out of this function; no outcome is silently
// dropped.
//
// A dispatch superseded by a newer code for the same phone is allowed to
// complete and write its stale status: the record already carries the new
// code in PENDING, and the next observation corrects the state.
func (d *Dispatcher) Dispatch(ctx context.Context, task Task) Outcome {
	start := time.Now()
	outcome := d.attempt(ctx, task)
	metrics.DispatchAttempts.WithLabelValues(string(outcome)).Inc()
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	return outcome
}

func (d *Dispatcher) attempt(ctx context.Context, task Task) Outcome {
	payload := Render(d.cfg.PayloadTemplate, d.cfg.Keyword, task.Code, task.Phone)

	d.events.PublishDeliveryDebug(bus.DeliveryDebug{
		Payload:      payload,
		ResponseCode: bus.CodeInFlight,
		ResponseBody: fmt.Sprintf("dispatching record %s", task.RecordID),
	})

	if d.cfg.APIURL == "" {
		d.logger.Error("delivery endpoint not configured", zap.String("record_id", task.RecordID))
		d.finish(ctx, task, record.StatusFailure, payload, bus.CodeConfigError, "api_url is not configured")
		return OutcomeTerminal
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.APIURL, strings.NewReader(payload))
	if err != nil {
		d.logger.Error("invalid delivery endpoint",
			zap.String("record_id", task.RecordID),
			zap.String("api_url", d.cfg.APIURL),
			zap.Error(err))
		d.finish(ctx, task, record.StatusFailure, payload, bus.CodeConfigError, "invalid api_url: "+err.Error())
		return OutcomeTerminal
	}

	req.Header.Set("Content-Type", "application/json")
	if d.cfg.HeaderKey1 != "" {
		req.Header.Set(d.cfg.HeaderKey1, d.cfg.HeaderVal1)
	}
	if d.cfg.HeaderKey2 != "" {
		req.Header.Set(d.cfg.HeaderKey2, d.cfg.HeaderVal2)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("delivery transport error",
			zap.String("record_id", task.RecordID),
			zap.Error(err))
		d.finish(ctx, task, record.StatusFailure, payload, bus.CodeTransportError, "transport error: "+err.Error())
		return OutcomeTransient
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		body = []byte("failed to read response body: " + readErr.Error())
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		d.logger.Info("delivery succeeded",
			zap.String("record_id", task.RecordID),
			zap.Int("status", resp.StatusCode))
		d.finish(ctx, task, record.StatusSuccess, payload, resp.StatusCode, string(body))
		return OutcomeDelivered

	case resp.StatusCode >= 500:
		d.logger.Warn("delivery failed upstream, will retry",
			zap.String("record_id", task.RecordID),
			zap.Int("status", resp.StatusCode))
		d.finish(ctx, task, record.StatusFailure, payload, resp.StatusCode, string(body))
		return OutcomeTransient

	default:
		d.logger.Error("delivery rejected",
			zap.String("record_id", task.RecordID),
			zap.Int("status", resp.StatusCode))
		d.finish(ctx, task, record.StatusFailure, payload, resp.StatusCode, string(body))
		return OutcomeTerminal
	}
}

// finish persists the attempt's status and surfaces it on the event bus.
func (d *Dispatcher) finish(ctx context.Context, task Task, status record.Status, payload string, code int, body string) {
	if err := d.store.UpdateStatus(ctx, task.RecordID, status); err != nil {
		d.logger.Warn("failed to persist dispatch status",
			zap.String("record_id", task.RecordID),
			zap.String("status", string(status)),
			zap.Error(err))
	}

	d.events.PublishDeliveryDebug(bus.DeliveryDebug{
		Payload:      payload,
		ResponseCode: code,
		ResponseBody: body,
	})
	d.events.ListChanged()
}
