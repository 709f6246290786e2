package wire

import (
	"fmt"

	"github.com/pkg/errors"
)

// Fault is the {code, message, optional cause} triple every RetCode
// surfaces as, per spec §7. Cause carries a stack trace (via pkg/errors)
// when constructed at a crash site, so logs can point at where a
// RequestCrash/MessageHandlerCrash/EventHandlerCrash actually originated.
type Fault struct {
	Code    RetCode
	Message string
	Cause   error
}

func NewFault(code RetCode, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapFault builds a Fault from a recovered panic or caught error, stamping
// a stack trace onto Cause so it survives across goroutine boundaries.
func WrapFault(code RetCode, cause error) *Fault {
	return &Fault{Code: code, Message: cause.Error(), Cause: errors.WithStack(cause)}
}

func (f *Fault) Error() string {
	if f.Message == "" {
		return f.Code.String()
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.Cause }

// CanceledFault wraps a context cancellation/deadline error as an
// OperationCanceled fault, per spec §5 ("cancellation wakes the waiter
// with OperationCanceled without corrupting stream state") - every
// suspension point translates its raw ctx.Err() through this rather than
// returning context.Canceled/DeadlineExceeded directly.
func CanceledFault(err error) *Fault {
	return &Fault{Code: OperationCanceled, Message: err.Error()}
}

// IsOk reports whether f is nil or represents the Ok code - the zero-fault
// state before any failure has been observed on a channel.
func IsOk(f *Fault) bool { return f == nil || f.Code == Ok }
