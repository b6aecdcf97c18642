package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSinkConfig holds producer settings
type KafkaSinkConfig struct {
	Brokers  []string
	ClientID string
	Topic    string
}

// KafkaSink publishes entries to a topic keyed by tenant id so a tenant's
// events stay ordered within one partition
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink creates a producer. The client connects lazily on first write.
func NewKafkaSink(cfg KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink: topic is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.LeaderAck()),
		kgo.DisableIdempotentWrite(),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: %w", err)
	}

	return &KafkaSink{client: client, topic: cfg.Topic}, nil
}

// Write produces the batch and waits for broker acknowledgement
func (s *KafkaSink) Write(ctx context.Context, entries []Entry) error {
	records := make([]*kgo.Record, 0, len(entries))
	for _, e := range entries {
		r, err := toRecord(s.topic, e)
		if err != nil {
			return err
		}
		records = append(records, r)
	}
	return s.client.ProduceSync(ctx, records...).FirstErr()
}

// Close flushes and closes the producer
func (s *KafkaSink) Close() {
	s.client.Close()
}

func toRecord(topic string, e Entry) (*kgo.Record, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal activity entry %s: %w", e.ID, err)
	}
	return &kgo.Record{
		Topic:     topic,
		Key:       []byte(e.TenantID),
		Value:     value,
		Timestamp: e.CreatedAt,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(e.Kind)},
		},
	}, nil
}
