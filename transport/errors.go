package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
)

// Failure is the network-level kind of a failed attempt.
type Failure int

const (
	FailureNone Failure = iota
	FailureTimeout
	FailureReset
	FailureOther
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureTimeout:
		return "timeout"
	case FailureReset:
		return "reset"
	default:
		return "other"
	}
}

// Classify maps a transport error to a Failure. A broken pipe counts as a
// reset: the peer tore the connection down while we were writing.
func Classify(err error) Failure {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNABORTED) {
		return FailureReset
	}
	return FailureOther
}
