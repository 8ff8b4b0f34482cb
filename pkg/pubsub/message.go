// Package pubsub implements the in-process broker at the center of the
// emulator: topics, subscriptions, messages, leases, backoff, ordering, and
// dead-letter routing. Publisher batching and subscriber pull/ack live in
// the sibling pkg/pubsub/publisher and pkg/pubsub/subscriber packages; this
// package is the single mutator of queue contents and lease state.
package pubsub

import (
	"strings"

	"github.com/donlair/pubsub-sub001/pkg/errors"
	"github.com/donlair/pubsub-sub001/pkg/pstime"
	"github.com/google/uuid"
)

const (
	// MaxMessageBytes is the upper bound on data + Σ(|k|+|v|) over attributes.
	MaxMessageBytes = 10 * 1024 * 1024
	// MaxAttributeKeyBytes bounds a single attribute key.
	MaxAttributeKeyBytes = 256
	// MaxAttributeValueBytes bounds a single attribute value.
	MaxAttributeValueBytes = 1024
	// MaxOrderingKeyBytes bounds an ordering key.
	MaxOrderingKeyBytes = 1024
)

var reservedAttributePrefixes = []string{"goog", "googclient_"}

// Message is immutable once admitted into the broker. The broker mints id
// and publishTime; everything else comes from the publisher.
type Message struct {
	ID              string
	Data            []byte
	Attributes      map[string]string
	PublishTime     pstime.PreciseDate
	OrderingKey     string
	DeliveryAttempt int
}

// Size returns the message's length: data bytes plus the UTF-8 byte length
// of every attribute key and value.
func (m *Message) Size() int {
	n := len(m.Data)
	for k, v := range m.Attributes {
		n += len(k) + len(v)
	}
	return n
}

// clone returns an independent copy of m suitable for handing to a second
// subscription's queue, so each subscription owns its own reference and
// acking on one never touches another.
func (m *Message) clone() *Message {
	c := *m
	if m.Data != nil {
		c.Data = append([]byte(nil), m.Data...)
	}
	if m.Attributes != nil {
		c.Attributes = make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// redeliveryCopy returns a copy of m with deliveryAttempt incremented,
// preserving id/data/attributes/orderingKey/publishTime — deliveryAttempt is
// the only field a redelivery changes.
func (m *Message) redeliveryCopy() *Message {
	c := m.clone()
	c.DeliveryAttempt++
	return c
}

// newMessage mints a fresh message id and publish time for data/attrs
// accepted from a publisher, after validateOutboundMessage has approved them.
func newMessage(data []byte, attrs map[string]string, orderingKey string) *Message {
	return &Message{
		ID:              uuid.NewString(),
		Data:            data,
		Attributes:      attrs,
		PublishTime:     pstime.Now(),
		OrderingKey:     orderingKey,
		DeliveryAttempt: 1,
	}
}

// ValidateOutboundMessage exposes validateOutboundMessage to callers outside
// this package (notably pkg/pubsub/publisher, which validates before
// admitting a message to its flow-control gate).
func ValidateOutboundMessage(data []byte, attrs map[string]string, orderingKey string) error {
	return validateOutboundMessage(data, attrs, orderingKey)
}

// validateOutboundMessage applies the validation rules: total size,
// attribute key/value shape and reserved prefixes, and ordering-key length.
// Returns an *errors.AppError with CodeInvalidArgument on failure.
func validateOutboundMessage(data []byte, attrs map[string]string, orderingKey string) error {
	size := len(data)
	for k, v := range attrs {
		if k == "" {
			return errors.InvalidArgument("attribute key must not be empty", nil)
		}
		if len(k) > MaxAttributeKeyBytes {
			return errors.InvalidArgument("attribute key exceeds 256 bytes", nil)
		}
		for _, prefix := range reservedAttributePrefixes {
			if strings.HasPrefix(k, prefix) {
				return errors.InvalidArgument("attribute key uses reserved prefix: "+prefix, nil)
			}
		}
		if len(v) > MaxAttributeValueBytes {
			return errors.InvalidArgument("attribute value exceeds 1024 bytes", nil)
		}
		size += len(k) + len(v)
	}
	if size > MaxMessageBytes {
		return errors.InvalidArgument("message exceeds 10 MiB", nil)
	}
	if orderingKey != "" && len(orderingKey) > MaxOrderingKeyBytes {
		return errors.InvalidArgument("ordering key exceeds 1024 bytes", nil)
	}
	return nil
}
