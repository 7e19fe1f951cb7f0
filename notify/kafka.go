package notify

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/warp/leave-engine/leave"
)

// EventsTopic is the Kafka topic workflow events are published to.
const EventsTopic = "leave.workflow.events"

// KafkaSink publishes workflow events to Kafka. Messages are keyed by
// request id so all events for one request land on the same partition and
// consumers see them in order.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    EventsTopic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (s *KafkaSink) Deliver(ctx context.Context, e leave.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.RequestID),
		Value: payload,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

var _ Sink = (*KafkaSink)(nil)
