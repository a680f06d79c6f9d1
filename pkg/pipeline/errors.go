package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a terminal pipeline failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindCapabilityUnavailable
	KindMediaOpen
	KindFrameDecode
	KindEncoderConfig
	KindEncode
	KindMux
	KindCancelled
)

// String returns the name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindCapabilityUnavailable:
		return "CapabilityUnavailable"
	case KindMediaOpen:
		return "MediaOpenError"
	case KindFrameDecode:
		return "FrameDecodeError"
	case KindEncoderConfig:
		return "EncoderConfigError"
	case KindEncode:
		return "EncodeError"
	case KindMux:
		return "MuxError"
	case KindCancelled:
		return "Cancelled"
	default:
		return "UnknownError"
	}
}

// Error is the single tagged error returned by a failed run.
type Error struct {
	Kind  ErrorKind
	Index int // Failing frame index, meaningful for KindFrameDecode
	Err   error
}

func (e *Error) Error() string {
	var msg string
	if e.Kind == KindFrameDecode {
		msg = fmt.Sprintf("%s{index=%d}", e.Kind, e.Index)
	} else {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is. They carry no cause.
var (
	ErrCapabilityUnavailable = &Error{Kind: KindCapabilityUnavailable}
	ErrMediaOpen             = &Error{Kind: KindMediaOpen}
	ErrFrameDecode           = &Error{Kind: KindFrameDecode}
	ErrEncoderConfig         = &Error{Kind: KindEncoderConfig}
	ErrEncode                = &Error{Kind: KindEncode}
	ErrMux                   = &Error{Kind: KindMux}
	ErrCancelled             = &Error{Kind: KindCancelled}
)

// ErrFrameReleased is returned when a released frame is used again.
var ErrFrameReleased = errors.New("pipeline: frame used after release")

// NewError wraps err with kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds an *Error of kind with a formatted cause.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// FrameDecodeError reports a failed seek or decode at index.
func FrameDecodeError(index int, err error) *Error {
	return &Error{Kind: KindFrameDecode, Index: index, Err: err}
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// Classify returns err as an *Error. Context errors map to KindCancelled;
// errors that already carry a kind are returned unchanged; anything else is
// tagged with fallback.
func Classify(err error, fallback ErrorKind) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindCancelled, err)
	}
	return NewError(fallback, err)
}
