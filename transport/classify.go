package transport

import (
	"context"
	"errors"

	"github.com/sharprpc/sharprpc-go/cmn/cos"
	"github.com/sharprpc/sharprpc-go/wire"
)

// classifyConnErr maps a raw net/syscall error into the RetCode taxonomy,
// adapted from cmn/cos.Is*ConnErr helpers (themselves grounded on the
// teacher's cmn/cos/err.go syscall-errno classification).
func classifyConnErr(err error) wire.RetCode {
	switch {
	case err == nil:
		return wire.Ok
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return wire.ConnectionTimeout
	case cos.IsErrSyscallTimeout(err):
		return wire.ConnectionTimeout
	case cos.IsErrConnectionRefused(err):
		return wire.ConnectionRefused
	case cos.IsErrConnectionReset(err), cos.IsErrBrokenPipe(err):
		return wire.ConnectionAbortedByPeer
	case cos.IsEOF(err):
		return wire.ConnectionAbortedByPeer
	case cos.IsUnreachable(err):
		return wire.HostUnreachable
	default:
		return wire.OtherConnectionError
	}
}
