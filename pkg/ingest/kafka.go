package ingest

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// KafkaSource consumes a topic through a consumer group.
type KafkaSource struct {
	spec      Spec
	validator *Validator
	reader    *kafka.Reader
}

// NewKafkaSource builds a Kafka consumer; Connect creates the reader.
func NewKafkaSource(spec Spec, validator *Validator) *KafkaSource {
	return &KafkaSource{spec: spec, validator: validator}
}

func (s *KafkaSource) Connect(_ context.Context) error {
	groupID := s.spec.GroupID
	if groupID == "" {
		groupID = "heartbeat"
	}
	s.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers: s.spec.Brokers,
		Topic:   s.spec.Topic,
		GroupID: groupID,
	})
	return nil
}

func (s *KafkaSource) Read(ctx context.Context) (contracts.Event, error) {
	if s.reader == nil {
		return contracts.Event{}, contracts.Errorf(contracts.KindTransientIO, "kafka source not connected")
	}
	msg, err := s.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return contracts.Event{}, contracts.WrapError(contracts.KindCancelled, "read event", ctx.Err())
		}
		return contracts.Event{}, contracts.WrapError(contracts.KindTransientIO, "read kafka message", err)
	}
	return parseEvent(msg.Value, s.validator)
}

func (s *KafkaSource) Close() error {
	if s.reader == nil {
		return nil
	}
	return s.reader.Close()
}
