// Package bus is the best-effort notification channel between the core and
// external observers.
//
// It rides NATS core pub/sub: publishing never blocks the caller and events
// are dropped when nobody is subscribed. Nothing here carries a delivery
// guarantee; persistent state lives in the record store.
package bus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects for the two event kinds.
const (
	SubjectListChanged   = "otpd.events.list_changed"
	SubjectDeliveryDebug = "otpd.events.delivery_debug"
)

// Sentinel response codes for DeliveryDebug events, distinct from real HTTP
// status codes.
const (
	// CodeInFlight marks the event published before a dispatch attempt.
	CodeInFlight = 100

	// CodeTransportError marks a dispatch that produced no HTTP response.
	CodeTransportError = -1

	// CodeConfigError marks a dispatch rejected before any network attempt
	// because the delivery endpoint is missing or unusable.
	CodeConfigError = -2
)

// DeliveryDebug describes one dispatch attempt.
type DeliveryDebug struct {
	Payload      string `json:"payload"`
	ResponseCode int    `json:"response_code"`
	ResponseBody string `json:"response_body"`
}

// Bus publishes core events over a NATS connection.
type Bus struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// New creates a Bus. Both arguments are required.
func New(nc *nats.Conn, logger *zap.Logger) (*Bus, error) {
	if nc == nil {
		return nil, fmt.Errorf("bus: nil nats connection")
	}
	if logger == nil {
		return nil, fmt.Errorf("bus: nil logger")
	}
	return &Bus{nc: nc, logger: logger}, nil
}

// ListChanged tells observers the record list changed. Fire and forget.
func (b *Bus) ListChanged() {
	if err := b.nc.Publish(SubjectListChanged, nil); err != nil {
		b.logger.Debug("drop list_changed event", zap.Error(err))
	}
}

// PublishDeliveryDebug surfaces one dispatch attempt. Fire and forget.
func (b *Bus) PublishDeliveryDebug(ev DeliveryDebug) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Debug("drop delivery_debug event", zap.Error(err))
		return
	}
	if err := b.nc.Publish(SubjectDeliveryDebug, data); err != nil {
		b.logger.Debug("drop delivery_debug event", zap.Error(err))
	}
}

// SubscribeListChanged registers a handler for list-change events. The
// returned subscription's Unsubscribe detaches it.
func (b *Bus) SubscribeListChanged(handler func()) (*nats.Subscription, error) {
	return b.nc.Subscribe(SubjectListChanged, func(_ *nats.Msg) {
		handler()
	})
}

// SubscribeDeliveryDebug registers a handler for dispatch debug events.
func (b *Bus) SubscribeDeliveryDebug(handler func(DeliveryDebug)) (*nats.Subscription, error) {
	return b.nc.Subscribe(SubjectDeliveryDebug, func(msg *nats.Msg) {
		var ev DeliveryDebug
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Debug("drop malformed delivery_debug event", zap.Error(err))
			return
		}
		handler(ev)
	})
}
