package syncer

import (
	"context"
	"errors"
	"fmt"
	"net"

	"stayops/internal/models"
)

// Class is the closed failure taxonomy of a sync attempt. It is assigned
// in exactly one place (Classify); everything downstream switches on the
// tag instead of inspecting error values again.
type Class string

const (
	ClassConnectivity Class = models.ErrTypeConnectivity
	ClassValidation   Class = models.ErrTypeValidation
	ClassNotFound     Class = models.ErrTypeNotFound
	ClassInternal     Class = models.ErrTypeInternal
)

// Retryable reports whether a failure class is worth another attempt.
// Unclassified failures are treated conservatively as transient.
func (c Class) Retryable() bool {
	switch c {
	case ClassValidation, ClassNotFound:
		return false
	}
	return true
}

// ChannelError is a tagged failure returned by channel operations.
type ChannelError struct {
	Class Class
	Err   error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// NewChannelError tags err with a class.
func NewChannelError(class Class, err error) *ChannelError {
	return &ChannelError{Class: class, Err: err}
}

// Classify maps an attempt error to its failure class. Already-tagged
// errors keep their tag; transport-level failures become connectivity;
// anything unrecognized is internal and therefore retryable.
func Classify(err error) Class {
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		return chErr.Class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassConnectivity
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassConnectivity
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassConnectivity
	}

	return ClassInternal
}
