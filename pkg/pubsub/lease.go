package pubsub

import (
	"github.com/donlair/pubsub-sub001/pkg/datastructures/timer/wheel"
	"github.com/donlair/pubsub-sub001/pkg/pstime"
	"github.com/google/uuid"
)

// Lease is minted on pull and tracks one delivered-but-unresolved message.
// Exactly one Lease exists per ackId; it is torn down by ack, nack,
// modifyAckDeadline(0), or expiry. Subscription unregister cancels its timer;
// the Lease itself leaves the ackId index on the next ack/nack for it or in
// orphaned-lease cleanup.
type Lease struct {
	AckID            string
	SubscriptionName string
	Message          *Message
	Deadline         pstime.PreciseDate
	task             *wheel.Task
	createdAt        pstime.PreciseDate
}

func newAckID() string {
	return uuid.NewString()
}
