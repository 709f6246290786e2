package dispatch

import (
	"context"
	"sync"

	"github.com/sharprpc/sharprpc-go/transport"
	"github.com/sharprpc/sharprpc-go/wire"
)

// unaryWaiter is the Op registered for a call<Resp>/try_call<Resp,Ret>
// awaitable: a single-shot completable, created fresh per call rather than
// the teacher's SlimAwaitable<T> pool, per spec.md §9's redesign flag
// ("a single-shot channel-based awaitable instead of SlimAwaitable<T>").
type unaryWaiter struct {
	once   sync.Once
	done   chan struct{}
	payload []byte
	fault  *wire.Fault
}

func newUnaryWaiter() *unaryWaiter {
	return &unaryWaiter{done: make(chan struct{})}
}

func (w *unaryWaiter) Complete(payload []byte) {
	w.once.Do(func() {
		w.payload = payload
		close(w.done)
	})
}

func (w *unaryWaiter) Fail(fault *wire.Fault) {
	w.once.Do(func() {
		w.fault = fault
		close(w.done)
	})
}

// Wait blocks until Complete/Fail or ctx is done, whichever comes first. A
// ctx cancellation surfaces as an OperationCanceled fault rather than a
// bare context error, per spec §5.
func (w *unaryWaiter) Wait(ctx context.Context) ([]byte, *wire.Fault, error) {
	select {
	case <-w.done:
		return w.payload, w.fault, nil
	case <-ctx.Done():
		return nil, wire.CanceledFault(ctx.Err()), nil
	}
}

// callOptions carries spec §5's "outbound calls carry optional request
// options".
type callOptions struct {
	cancellationEnabled bool
}

// CallOption configures one outbound Call.
type CallOption func(*callOptions)

// WithCancellation opts this call into cancellation propagation: if ctx is
// canceled before a response arrives, a Cancel frame is sent for the same
// CallID so the service side's CancellationEnabled context can observe it.
func WithCancellation() CallOption {
	return func(o *callOptions) { o.cancellationEnabled = true }
}

type cancelMsg struct{}

// Call sends req under a fresh CallID via tx, registers a waiter for the
// response, and blocks for either a Response/Fault frame or ctx
// cancellation, per spec §4.5's call<Resp> operation. With WithCancellation,
// a ctx cancellation also sends a Cancel frame so the service side's
// handler can stop promptly instead of running to completion unobserved.
func (d *Dispatcher) Call(ctx context.Context, tx *transport.TxPipeline, req any, opts ...CallOption) (payload []byte, fault *wire.Fault, err error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	id := wire.NewCallID()
	w := newUnaryWaiter()

	if ferr := d.RegisterCallObject(id, w); ferr != nil {
		return nil, ferr.(*wire.Fault), nil
	}
	defer d.UnregisterCallObject(id)

	if err := tx.TrySend(ctx, wire.KindRequest, id, req); err != nil {
		if f, ok := err.(*wire.Fault); ok {
			return nil, f, nil
		}
		return nil, nil, err
	}

	payload, fault, err = w.Wait(ctx)
	if o.cancellationEnabled && fault != nil && fault.Code == wire.OperationCanceled {
		_ = tx.TrySend(context.Background(), wire.KindCancel, id, cancelMsg{})
	}
	return payload, fault, err
}

// CallOneWay sends req without registering a waiter and returns as soon as
// it's staged for send, per spec's "one-way user message" framing.
func (d *Dispatcher) CallOneWay(ctx context.Context, tx *transport.TxPipeline, req any) error {
	return tx.TrySend(ctx, wire.KindOneWay, wire.NewCallID(), req)
}
