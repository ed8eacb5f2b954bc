package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Client is a single-topic producer used by the audit publisher.
type Client struct {
	cl    *kgo.Client
	topic string
}

// New connects to brokers and makes sure topic exists. Returns nil when no
// brokers are configured (audit events are then only logged).
func New(ctx context.Context, brokers []string, topic string) (*Client, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	if err := cl.Ping(ctx); err != nil {
		cl.Close()
		return nil, fmt.Errorf("kafka ping: %w", err)
	}

	if err := ensureTopic(ctx, kadm.NewClient(cl), topic); err != nil {
		cl.Close()
		return nil, err
	}
	return &Client{cl: cl, topic: topic}, nil
}

func ensureTopic(ctx context.Context, adm *kadm.Client, topic string) error {
	resp, err := adm.CreateTopics(ctx, 1, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Produce writes one record synchronously.
func (c *Client) Produce(ctx context.Context, key, value []byte) error {
	rec := &kgo.Record{Topic: c.topic, Key: key, Value: value}
	return c.cl.ProduceSync(ctx, rec).FirstErr()
}

// Health pings the cluster.
func (c *Client) Health(ctx context.Context) error {
	return c.cl.Ping(ctx)
}

func (c *Client) Close() {
	c.cl.Close()
}
