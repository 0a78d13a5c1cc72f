package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
)

type Producer struct {
	topic    string
	producer sarama.SyncProducer
}

func NewSyncProducer(brokers []string, topic string) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "webhook-queue"

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 500 * time.Millisecond

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create sarama sync producer: %w", err)
	}
	return NewProducer(prod, topic), nil
}

// NewProducer wraps an existing SyncProducer (e.g. sarama/mocks in tests).
func NewProducer(p sarama.SyncProducer, topic string) *Producer {
	return &Producer{topic: topic, producer: p}
}

func (p *Producer) Close() error {
	return p.producer.Close()
}

// SendDeliveryEvent publishes ev keyed by queue id, so events of one queue
// land on one partition in order.
func (p *Producer) SendDeliveryEvent(ev *DeliveryEvent) error {
	if ev == nil {
		return fmt.Errorf("event is nil")
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal delivery event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(strconv.FormatInt(ev.QueueID, 10)),
		Value:     sarama.ByteEncoder(b),
		Timestamp: ev.OccurredAt,
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send kafka message: %w", err)
	}
	return nil
}
