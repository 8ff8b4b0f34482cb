package pubsub

import (
	"fmt"

	"github.com/donlair/pubsub-sub001/pkg/errors"
)

func invalidArgumentf(format string, args ...any) error {
	return errors.InvalidArgument(fmt.Sprintf(format, args...), nil)
}

func notFoundf(format string, args ...any) error {
	return errors.NotFound(fmt.Sprintf(format, args...), nil)
}

func alreadyExistsf(format string, args ...any) error {
	return errors.AlreadyExists(fmt.Sprintf(format, args...), nil)
}

func failedPreconditionf(format string, args ...any) error {
	return errors.FailedPrecondition(fmt.Sprintf(format, args...), nil)
}

// ErrOrderingKeyPaused reports that a Publisher is refusing further
// publishes for an ordering key until ResumePublishing clears it.
func ErrOrderingKeyPaused(orderingKey string) error {
	return invalidArgumentf("ordering key %q is paused after a prior publish failure", orderingKey)
}
