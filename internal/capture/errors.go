package capture

import (
	"errors"
	"fmt"
)

var (
	ErrCameraPermissionDenied         = errors.New("capture: camera permission denied")
	ErrMicrophonePermissionDenied     = errors.New("capture: microphone permission denied")
	ErrDeviceUnavailable              = errors.New("capture: capture device unavailable")
	ErrInputCreationFailed            = errors.New("capture: could not create device input")
	ErrInputAttachFailed              = errors.New("capture: backend refused device input")
	ErrOutputAttachFailed             = errors.New("capture: backend refused data output")
	ErrDuplicateOutputFileUndeletable = errors.New("capture: existing output file could not be removed")
	ErrWriter                         = errors.New("capture: container writer failed")
	ErrPreconditionViolation          = errors.New("capture: precondition violated")
)

// WriterError carries the writer's opaque failure message.
type WriterError struct {
	Message string
}

func (e *WriterError) Error() string {
	if e.Message == "" {
		return ErrWriter.Error()
	}
	return ErrWriter.Error() + ": " + e.Message
}

func (e *WriterError) Is(target error) bool { return target == ErrWriter }

// PreconditionError is the panic payload for caller contract violations.
// It is never delivered to the delegate.
type PreconditionError struct {
	Op    string
	State State
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s called in state %s", ErrPreconditionViolation, e.Op, e.State)
}

func (e *PreconditionError) Unwrap() error { return ErrPreconditionViolation }
