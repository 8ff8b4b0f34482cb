package pubsub

import (
	"github.com/donlair/pubsub-sub001/pkg/datastructures/timer/wheel"
	"github.com/donlair/pubsub-sub001/pkg/pstime"
)

// backoffEntry holds a message waiting to become eligible again after a
// nack or lease expiry. Lives in the owning subscription's backoff set
// between the redelivery decision and the wheel firing releaseFromBackoff.
type backoffEntry struct {
	message     *Message
	orderingKey string
	releaseTime pstime.PreciseDate
	task        *wheel.Task
}
