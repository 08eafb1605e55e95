package dispatch

import (
	"errors"
	"fmt"

	"github.com/example/notification-delivery/internal/message"
)

// ErrNoSenderAvailable is matched by every NoSenderAvailableError.
var ErrNoSenderAvailable = errors.New("dispatch: no sender available")

// ErrTransient and ErrPermanent are sentinel errors senders use when
// classifying backend failures.
var (
	ErrTransient = errors.New("transient error")
	ErrPermanent = errors.New("permanent error")
)

// NoSenderAvailableError reports that no registered implementation accepted
// the message. Nothing was sent.
type NoSenderAvailableError struct {
	MessageID string
	Channel   message.Channel
	Tried     int
}

func (e *NoSenderAvailableError) Error() string {
	return fmt.Sprintf("dispatch: no sender available for %s message %q (%d implementations evaluated)", e.Channel, e.MessageID, e.Tried)
}

// Is makes errors.Is(err, ErrNoSenderAvailable) succeed.
func (e *NoSenderAvailableError) Is(target error) bool {
	return target == ErrNoSenderAvailable
}

// SendError identifies which implementation failed.
type SendError struct {
	Implementation string
	Err            error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("dispatch: %s: %v", e.Implementation, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// WrapTransient annotates an error so callers can detect transient failures.
func WrapTransient(err error) error {
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// WrapPermanent annotates an error as permanent.
func WrapPermanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}
