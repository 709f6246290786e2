// Package dispatch implements the connection core's MessageDispatcher
// (spec component F): the CallId -> Operation map that correlates
// responses, stream pages and acks back to the call that started them,
// and routes one-way messages to the user's handler.
//
// Grounded on the teacher's transport/api.go handlers map[string]*handler
// guarded by a mutex, and its h.sessions sync.Map per-endpoint session
// table, for the registered-call-object map shape; striping is adapted
// from cmn/cos.StripeOf (itself grounded on the teacher's
// cmn/cos.HashK8sProxyID hashing helper).
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/sharprpc/sharprpc-go/cmn/cos"
	"github.com/sharprpc/sharprpc-go/cmn/debug"
	"github.com/sharprpc/sharprpc-go/cmn/nlog"
	"github.com/sharprpc/sharprpc-go/transport"
	"github.com/sharprpc/sharprpc-go/wire"
)

// Op is the two-method waiter capability every registered call implements
// (spec §4.5): Complete on a matching response, Fail on a fault response
// or when the dispatcher is stopped.
type Op interface {
	Complete(payload []byte)
	Fail(fault *wire.Fault)
}

// StreamOp additionally receives stream pages/acks/completions routed to
// the same CallId as the call that opened the stream.
type StreamOp interface {
	Op
	Update(frame transport.Frame)
}

const numStripes = 16

const recentlyUnregisteredCapacity = 4096

type stripe struct {
	mu    sync.Mutex
	calls map[wire.CallID]Op
}

// Dispatcher owns the CallId -> Operation map and routes every inbound
// Frame handed to it by an RxPipeline. Concurrency mode (NoQueue vs
// PagedQueueX1, spec §4.5) lives one layer up, in channel.Channel, which
// chooses whether OnMessage runs inline on the Rx goroutine or via a
// worker fed by a bounded queue; Dispatcher itself is mode-agnostic.
type Dispatcher struct {
	stripes [numStripes]*stripe

	userHandler func(transport.Frame)
	serializer  wire.Serializer

	stopped atomic.Bool
	mu      sync.Mutex
	fault   *wire.Fault

	// recentlyUnregistered distinguishes "stale" (recently-valid, now-gone)
	// CallIDs from "never seen" ones in the ProtocolViolation log line - both
	// are the same RetCode, but the distinction is useful operationally and
	// a cuckoo filter bounds the memory cost of remembering them.
	recentlyUnregistered *cuckoo.Filter

	violationSeq atomic.Uint64

	// reqMu/reqCancel back the service-side cancellation token from spec §5:
	// one entry per in-flight two-way request, removed once its handler
	// returns. A Cancel frame arriving for an id no longer present is a
	// harmless race (the handler already finished) rather than a violation.
	reqMu     sync.Mutex
	reqCancel map[wire.CallID]context.CancelFunc
}

// New creates a Dispatcher. userHandler receives one-way messages once the
// session layer has gated traffic to LoggedIn (spec §4.7).
func New(serializer wire.Serializer, userHandler func(transport.Frame)) *Dispatcher {
	d := &Dispatcher{
		serializer:           serializer,
		userHandler:          userHandler,
		recentlyUnregistered: cuckoo.NewFilter(recentlyUnregisteredCapacity),
		reqCancel:            make(map[wire.CallID]context.CancelFunc),
	}
	for i := range d.stripes {
		d.stripes[i] = &stripe{calls: make(map[wire.CallID]Op)}
	}
	return d
}

func (d *Dispatcher) stripeFor(id wire.CallID) *stripe {
	return d.stripes[cos.StripeOf(id.String(), numStripes)]
}

// RegisterCallObject registers op under id. Fails with InvalidChannelState
// once Stop has been called.
func (d *Dispatcher) RegisterCallObject(id wire.CallID, op Op) error {
	if d.stopped.Load() {
		return wire.NewFault(wire.InvalidChannelState, "dispatcher is stopped")
	}
	s := d.stripeFor(id)
	s.mu.Lock()
	s.calls[id] = op
	s.mu.Unlock()
	return nil
}

// UnregisterCallObject removes id's registration; idempotent.
func (d *Dispatcher) UnregisterCallObject(id wire.CallID) {
	s := d.stripeFor(id)
	s.mu.Lock()
	delete(s.calls, id)
	s.mu.Unlock()
	d.recentlyUnregistered.InsertUnique([]byte(id.String()))
}

func (d *Dispatcher) lookup(id wire.CallID) Op {
	s := d.stripeFor(id)
	s.mu.Lock()
	op := s.calls[id]
	s.mu.Unlock()
	return op
}

func (d *Dispatcher) takeAndRemove(id wire.CallID) Op {
	s := d.stripeFor(id)
	s.mu.Lock()
	op := s.calls[id]
	delete(s.calls, id)
	s.mu.Unlock()
	return op
}

// OnMessage routes one inbound Frame per spec §4.5's rules. It never
// blocks on the network; user handler crashes are recovered and surfaced
// as MessageHandlerCrash rather than taking down the Rx goroutine. Cancel
// frames (spec §5) flip the cancellation token exposed via the matching
// request's Frame.Context rather than reaching the user handler at all.
func (d *Dispatcher) OnMessage(f transport.Frame) {
	switch f.Kind {
	case wire.KindResponse:
		op := d.takeAndRemove(f.CallID)
		if op == nil {
			d.protocolViolation(f.CallID, "response for unknown call")
			return
		}
		op.Complete(f.Payload)

	case wire.KindFault:
		op := d.takeAndRemove(f.CallID)
		if op == nil {
			d.protocolViolation(f.CallID, "fault for unknown call")
			return
		}
		var fault wire.Fault
		if err := d.serializer.Unmarshal(f.Payload, &fault); err != nil {
			op.Fail(wire.NewFault(wire.DeserializationError, "%v", err))
			return
		}
		op.Fail(&fault)

	case wire.KindStreamPage, wire.KindStreamAck, wire.KindStreamCompletion:
		op := d.lookup(f.CallID)
		if op == nil {
			d.protocolViolation(f.CallID, "stream message for unknown call")
			return
		}
		sop, ok := op.(StreamOp)
		if !ok {
			d.protocolViolation(f.CallID, "stream message for a non-stream call object")
			return
		}
		sop.Update(f)

	case wire.KindOneWay:
		f.Context = context.Background()
		d.runUserHandler(f)

	case wire.KindRequest:
		d.runCancelableRequest(f)

	case wire.KindCancel:
		d.cancelRequest(f.CallID)

	default:
		d.protocolViolation(f.CallID, "unexpected message kind "+f.Kind.String())
	}
}

// runCancelableRequest runs a two-way request's handler with a context
// that's canceled if a Cancel frame arrives for the same CallID before the
// handler returns, per spec §5 ("if CancellationEnabled, the service-side
// context exposes a cancellation token flipped when a CancelRequest control
// message arrives").
func (d *Dispatcher) runCancelableRequest(f transport.Frame) {
	ctx, cancel := context.WithCancel(context.Background())
	d.reqMu.Lock()
	d.reqCancel[f.CallID] = cancel
	d.reqMu.Unlock()
	defer func() {
		d.reqMu.Lock()
		delete(d.reqCancel, f.CallID)
		d.reqMu.Unlock()
		cancel()
	}()
	f.Context = ctx
	d.runUserHandler(f)
}

// cancelRequest flips the cancellation token for id's in-flight request, if
// any is still registered.
func (d *Dispatcher) cancelRequest(id wire.CallID) {
	d.reqMu.Lock()
	cancel := d.reqCancel[id]
	d.reqMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *Dispatcher) runUserHandler(f transport.Frame) {
	if d.userHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("dispatch: %v", wire.NewFault(wire.MessageHandlerCrash, "user handler crashed: %v", r))
		}
	}()
	d.userHandler(f)
}

func (d *Dispatcher) protocolViolation(id wire.CallID, reason string) {
	// v<base36> is a per-dispatcher sequence number: each reported
	// violation gets its own short tag.
	v := cos.Itoa36(d.violationSeq.Add(1))
	stale := d.recentlyUnregistered.Lookup([]byte(id.String()))
	if stale {
		nlog.Warningf("dispatch: protocol violation [v%s] (stale call %s): %s", v, id, reason)
	} else {
		nlog.Warningf("dispatch: protocol violation [v%s] (unknown call %s): %s", v, id, reason)
	}
}

// Stop transitions the dispatcher to refusing new calls and fails every
// outstanding operation with fault.
func (d *Dispatcher) Stop(fault *wire.Fault) {
	debug.Assert(fault != nil, "Stop requires a non-nil fault")
	d.stopped.Store(true)

	d.mu.Lock()
	if d.fault == nil {
		d.fault = fault
	}
	d.mu.Unlock()

	for _, s := range d.stripes {
		s.mu.Lock()
		calls := s.calls
		s.calls = make(map[wire.CallID]Op)
		s.mu.Unlock()
		for _, op := range calls {
			op.Fail(fault)
		}
	}
}

// Fault reports the fault that Stop was called with, or nil if still
// running.
func (d *Dispatcher) Fault() *wire.Fault {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fault
}

// OutstandingCalls reports the number of currently registered call
// objects, summed across stripes. Exported for the metrics package's
// per-channel gauge.
func (d *Dispatcher) OutstandingCalls() int {
	n := 0
	for _, s := range d.stripes {
		s.mu.Lock()
		n += len(s.calls)
		s.mu.Unlock()
	}
	return n
}
