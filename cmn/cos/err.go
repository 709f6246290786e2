// Package cos provides common low-level types and utilities shared across
// this module's packages.
/*
 * Adapted from the teacher's cmn/cos/err.go connection-error helpers.
 */
package cos

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/sharprpc/sharprpc-go/cmn/debug"
	"github.com/sharprpc/sharprpc-go/cmn/nlog"
)

// Errs collects up to maxErrs distinct errors, used where the channel
// shutdown sequence (dispatcher stop, pipeline close, transport shutdown)
// wants to report every step's failure, not just the first.
type Errs struct {
	errs []error
	mu   sync.Mutex
}

const maxErrs = 4

func (e *Errs) Add(err error) {
	debug.Assert(err != nil)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
	}
}

func (e *Errs) Cnt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

func (e *Errs) JoinErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return nil
	}
	return errors.Join(e.errs...)
}

//
// connection-error classification
//

func UnwrapSyscallErr(err error) error {
	var syscallErr *os.SyscallError
	if errors.As(err, &syscallErr) {
		return syscallErr.Unwrap()
	}
	return nil
}

func IsErrSyscallTimeout(err error) bool {
	var syscallErr *os.SyscallError
	return errors.As(err, &syscallErr) && syscallErr.Timeout()
}

func IsErrConnectionRefused(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) }
func IsErrConnectionReset(err error) bool   { return errors.Is(err, syscall.ECONNRESET) }
func IsErrBrokenPipe(err error) bool        { return errors.Is(err, syscall.EPIPE) }

func IsRetriableConnErr(err error) bool {
	return IsErrConnectionRefused(err) || IsErrConnectionReset(err) || IsErrBrokenPipe(err)
}

func isErrDNSLookup(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// IsUnreachable reports whether err indicates the peer could not be
// reached at all, as opposed to reached-but-refused/reset.
func IsUnreachable(err error) bool {
	return isErrDNSLookup(err) || errors.Is(err, context.DeadlineExceeded) || IsEOF(err)
}

func IsEOF(err error) bool {
	return errors.Is(err, net.ErrClosed) || (err != nil && err.Error() == "EOF")
}

//
// abnormal termination
//

const fatalPrefix = "FATAL ERROR: "

func Exitf(f string, a ...any) {
	msg := fmt.Sprintf(fatalPrefix+f, a...)
	nlog.Errorln(msg)
	nlog.Flush(true)
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
