package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"payment-service/internal/models"
	"payment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter is what EventPublisher needs from a producer
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	payments EventWriter
	plugins  EventWriter
}

// NewEventPublisher creates a new event publisher. Payment and rate events go
// to payments, registry changes to plugins.
func NewEventPublisher(payments, plugins EventWriter) *EventPublisher {
	return &EventPublisher{payments: payments, plugins: plugins}
}

// PublishPaymentEvent publishes a payment lifecycle event keyed by order
func (ep *EventPublisher) PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.payments.PublishEvent(ctx, key, event)
}

// PublishRatesRefreshed publishes RatesRefreshed event
func (ep *EventPublisher) PublishRatesRefreshed(ctx context.Context, event *models.RatesRefreshedEvent) error {
	key := fmt.Sprintf("rates-%s", event.BaseCurrency)
	return ep.payments.PublishEvent(ctx, key, event)
}

// PublishPluginChanged publishes PluginChanged event
func (ep *EventPublisher) PublishPluginChanged(ctx context.Context, event *models.PluginChangedEvent) error {
	key := fmt.Sprintf("plugin-%s", event.Name)
	return ep.plugins.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onPluginChanged  func(context.Context, *models.PluginChangedEvent) error
	onRatesRefreshed func(context.Context, *models.RatesRefreshedEvent) error
	logger           *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPluginChanged registers a handler for PluginChanged events
func (eh *EventHandler) OnPluginChanged(handler func(context.Context, *models.PluginChangedEvent) error) {
	eh.onPluginChanged = handler
}

// OnRatesRefreshed registers a handler for RatesRefreshed events
func (eh *EventHandler) OnRatesRefreshed(handler func(context.Context, *models.RatesRefreshedEvent) error) {
	eh.onRatesRefreshed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	eventType := headerValue(msg, HeaderEventType)
	if eventType == "" {
		var baseEvent models.BaseEvent
		if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
			return fmt.Errorf("failed to unmarshal base event: %w", err)
		}
		eventType = baseEvent.EventType
	}

	eh.logger.Debug("Handling event", zap.String("event_type", eventType), zap.ByteString("key", msg.Key))

	switch eventType {
	case models.EventTypePluginChanged:
		if eh.onPluginChanged != nil {
			var event models.PluginChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PluginChanged event: %w", err)
			}
			return eh.onPluginChanged(ctx, &event)
		}

	case models.EventTypeRatesRefreshed:
		if eh.onRatesRefreshed != nil {
			var event models.RatesRefreshedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal RatesRefreshed event: %w", err)
			}
			return eh.onRatesRefreshed(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", eventType))
	}

	return nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
