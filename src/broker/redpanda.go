package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"faultscope/src/contracts"
	"faultscope/src/logger"
)

const (
	clientID = "faultscope"

	// replySkew widens the reply window for clock drift between the
	// subscriber and the broker.
	replySkew = 5 * time.Second
)

// RedpandaBroker talks to a Kafka-compatible cluster through franz-go. A
// single client produces; every subscription owns a consumer-group client.
type RedpandaBroker struct {
	seeds    []string
	producer *kgo.Client
	logger   logger.Logger

	mu     sync.Mutex
	subs   map[string]*kgo.Client // "topic/group" -> consumer
	closed bool
}

// NewRedpandaBroker connects a producer to the seed brokers,
// e.g. ["localhost:19092"].
func NewRedpandaBroker(seeds []string, log logger.Logger) (*RedpandaBroker, error) {
	if len(seeds) == 0 {
		return nil, errors.New("redpanda: no seed brokers given")
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}

	producer, err := kgo.NewClient(append(clientOpts(seeds),
		kgo.AllowAutoTopicCreation(),
		// Stats reports can be large; zstd keeps them well under the
		// default record size limit.
		kgo.ProducerBatchCompression(kgo.ZstdCompression(), kgo.NoCompression()),
	)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return &RedpandaBroker{
		seeds:    seeds,
		producer: producer,
		logger:   log.With("broker", "redpanda"),
		subs:     make(map[string]*kgo.Client),
	}, nil
}

func clientOpts(seeds []string) []kgo.Opt {
	return []kgo.Opt{
		kgo.SeedBrokers(seeds...),
		kgo.ClientID(clientID),
	}
}

// startOffset is where a group without committed offsets begins. Requests
// queued before any agent was running must still be served; replies only
// matter from the moment the requester subscribed.
func startOffset(topic string, now time.Time) kgo.Offset {
	if topic == contracts.TopicReports {
		return kgo.NewOffset().AfterMilli(now.Add(-replySkew).UnixMilli())
	}
	return kgo.NewOffset().AtStart()
}

// Publish produces one record and waits for the broker to acknowledge it.
func (b *RedpandaBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	res := b.producer.ProduceSync(ctx, &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err := res.FirstErr(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe joins groupID on topic. A topic/group pair can be subscribed once
// per broker.
func (b *RedpandaBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	key := topic + "/" + groupID
	if _, dup := b.subs[key]; dup {
		return nil, fmt.Errorf("already subscribed to %s as group %s", topic, groupID)
	}

	consumer, err := kgo.NewClient(append(clientOpts(b.seeds),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(startOffset(topic, time.Now())),
	)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for %s: %w", key, err)
	}
	b.subs[key] = consumer

	out := make(chan Message, subscriberBuffer)
	go b.consume(ctx, key, consumer, out)
	return out, nil
}

// consume forwards records until ctx ends or the consumer is closed.
func (b *RedpandaBroker) consume(ctx context.Context, key string, consumer *kgo.Client, out chan<- Message) {
	defer close(out)
	defer b.drop(key, consumer)

	for ctx.Err() == nil {
		fetches := consumer.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if ctx.Err() == nil {
				b.logger.Warn("fetch error on %s/%d: %v", topic, partition, err)
			}
		})

		for iter := fetches.RecordIter(); !iter.Done(); {
			select {
			case out <- toMessage(iter.Next()):
			case <-ctx.Done():
				return
			}
		}
	}
}

func toMessage(r *kgo.Record) Message {
	return Message{
		Topic:     r.Topic,
		Key:       string(r.Key),
		Value:     r.Value,
		Offset:    r.Offset,
		Partition: r.Partition,
		Timestamp: r.Timestamp.UnixMilli(),
	}
}

// drop forgets a consumer whose subscription ended.
func (b *RedpandaBroker) drop(key string, consumer *kgo.Client) {
	b.mu.Lock()
	cur, ok := b.subs[key]
	if ok && cur == consumer {
		delete(b.subs, key)
	}
	b.mu.Unlock()
	if ok && cur == consumer {
		consumer.Close()
	}
}

// Close stops every consumer and the producer.
func (b *RedpandaBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*kgo.Client)
	b.mu.Unlock()

	for _, consumer := range subs {
		consumer.Close()
	}
	b.producer.Close()
	return nil
}
