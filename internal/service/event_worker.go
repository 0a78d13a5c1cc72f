package service

import (
	"context"
	"log/slog"

	"webhook_queue/internal/kafka"
	"webhook_queue/internal/metrics"
)

// EventPublisher receives delivery outcomes. Publish must not block delivery.
type EventPublisher interface {
	Publish(ev kafka.DeliveryEvent)
}

type EventSender interface {
	SendDeliveryEvent(ev *kafka.DeliveryEvent) error
}

// EventWorker decouples the delivery loop from the broker: events are
// buffered and sent by a single goroutine. When the buffer is full the
// event is dropped.
type EventWorker struct {
	ch     chan kafka.DeliveryEvent
	sender EventSender
	logger *slog.Logger
}

func NewEventWorker(sender EventSender, buffer int, logger *slog.Logger) *EventWorker {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventWorker{
		ch:     make(chan kafka.DeliveryEvent, buffer),
		sender: sender,
		logger: logger,
	}
}

func (w *EventWorker) Publish(ev kafka.DeliveryEvent) {
	select {
	case w.ch <- ev:
	default:
		metrics.IncKafkaError("buffer_full")
		w.logger.Warn("delivery event dropped", "message_id", ev.MessageID, "outcome", ev.Outcome)
	}
}

// Run sends buffered events until ctx is done, then drains what is left.
func (w *EventWorker) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-w.ch:
			w.send(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-w.ch:
					w.send(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (w *EventWorker) send(ev kafka.DeliveryEvent) {
	if err := w.sender.SendDeliveryEvent(&ev); err != nil {
		metrics.IncKafkaError("send")
		w.logger.Error("kafka send error", "message_id", ev.MessageID, "error", err)
		return
	}
	metrics.IncKafkaSent()
}
