package feed

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSource consumes price batches from a Kafka topic. Every session opens
// a fresh reader in the configured consumer group.
type KafkaSource struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaSource creates a source for topic on brokers.
func NewKafkaSource(brokers []string, topic, groupID string) *KafkaSource {
	return &KafkaSource{Brokers: brokers, Topic: topic, GroupID: groupID}
}

func (s *KafkaSource) Connect(_ context.Context) (Stream, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           s.Brokers,
		Topic:             s.Topic,
		GroupID:           s.GroupID,
		MinBytes:          1,
		MaxBytes:          10e6,
		MaxWait:           200 * time.Millisecond,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    10 * time.Second,
	})
	return &kafkaStream{r: r}, nil
}

type kafkaStream struct {
	r *kafka.Reader
}

func (s *kafkaStream) Read(ctx context.Context) ([]byte, error) {
	m, err := s.r.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	return m.Value, nil
}

func (s *kafkaStream) Close() error { return s.r.Close() }
