// Package broker defines the interface for message brokers and provides implementations.
package broker

import (
	"context"
	"errors"

	"faultscope/src/logger"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker is closed")

// Broker abstracts message publishing and consumption.
// This interface supports both in-memory and distributed (Redpanda/Kafka) implementations.
type Broker interface {
	// Publish sends a message to a topic with an optional key for partitioning.
	// For in-memory broker, key is only carried along.
	// For Redpanda/Kafka, key is used for partition assignment.
	Publish(ctx context.Context, topic string, key string, value []byte) error

	// Subscribe returns a channel for consuming messages from a topic.
	// groupID is used for consumer group coordination in Kafka.
	// For in-memory broker, groupID is ignored.
	// The channel is closed when ctx ends or the broker is closed.
	Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error)

	// Close shuts down the broker connection gracefully.
	Close() error
}

// Message represents a consumed message from a broker.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Offset    int64
	Partition int32
	Timestamp int64
}

// New returns a Redpanda broker when addresses are given and an in-memory
// one otherwise.
func New(brokers []string, log logger.Logger) (Broker, error) {
	if len(brokers) == 0 {
		return NewInMemoryBroker(), nil
	}
	return NewRedpandaBroker(brokers, log)
}
