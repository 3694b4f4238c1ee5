package producer

import (
	"errors"
	"fmt"
)

// Kind classifies a producer error. Only KindNotRecognized lets the
// registry fall back to the next factory.
type Kind int

// Error kinds.
const (
	KindFatal Kind = iota
	KindNotRecognized
	KindUnsupportedFormat
	KindIO
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindNotRecognized:
		return "not recognized"
	case KindUnsupportedFormat:
		return "unsupported format"
	case KindIO:
		return "io"
	case KindDecode:
		return "decode"
	default:
		return "fatal"
	}
}

// Error is a classified failure raised while creating or running a
// producer.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("producer: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("producer: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain. Errors that
// carry no kind are fatal.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindFatal
}

// IsNotRecognized reports whether err means "this handler cannot open the
// source".
func IsNotRecognized(err error) bool {
	return err != nil && KindOf(err) == KindNotRecognized
}

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func notRecognized(op string, err error) error { return newError(KindNotRecognized, op, err) }
func unsupported(op string, err error) error   { return newError(KindUnsupportedFormat, op, err) }
func ioError(op string, err error) error       { return newError(KindIO, op, err) }
func decodeError(op string, err error) error   { return newError(KindDecode, op, err) }
func fatal(op string, err error) error         { return newError(KindFatal, op, err) }
