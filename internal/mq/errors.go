package mq

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("queue provider is not connected")
	ErrInvalidQueueName = errors.New("queue name must not be empty")
	ErrNilMessage       = errors.New("message must not be nil")
	ErrNilHandler       = errors.New("handler must not be nil")
	ErrStoreUnavailable = errors.New("queue store unavailable")
	ErrHandlerPanic     = errors.New("handler panicked")
)

// UnknownProviderError is returned when a provider kind is not registered
type UnknownProviderError struct {
	Kind string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown queue provider %q", e.Kind)
}

func validateQueueName(name string) error {
	if name == "" {
		return ErrInvalidQueueName
	}
	return nil
}
