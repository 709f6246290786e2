package transport

import (
	"context"

	"github.com/sharprpc/sharprpc-go/wire"
)

// RxPipeline is component E: drives the transport receive loop, feeds the
// parser, and dispatches reassembled frames. This is the "no-threading"
// variant named in spec.md §4.4 - Run's receive-and-parse step executes
// inline on one goroutine; the "one-thread" variant (handing raw bytes off
// to a dedicated goroutine) is a possible alternate implementation behind
// the same Dispatch callback shape.
type RxPipeline struct {
	rx       *RxBuffer
	conn     Conn
	parser   Parser
	dispatch func(Frame)
	onFault  func(*wire.Fault)
}

// NewRxPipeline wires an RxPipeline reading off conn into rx, handing each
// reassembled Frame to dispatch.
func NewRxPipeline(rx *RxBuffer, conn Conn, dispatch func(Frame), onFault func(*wire.Fault)) *RxPipeline {
	return &RxPipeline{rx: rx, conn: conn, dispatch: dispatch, onFault: onFault}
}

// Run receives until ctx is done or a transport error occurs (including a
// ProtocolViolation surfaced while parsing).
func (p *RxPipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := p.receiveOnce(ctx); err != nil {
			return
		}
	}
}

func (p *RxPipeline) receiveOnce(ctx context.Context) error {
	if _, err := p.rx.GetSegment(ctx); err != nil {
		p.fault(wire.ConnectionShutdown, err)
		return err
	}

	n, err := p.conn.Receive(ctx, p.rx.WriteWindow())
	if err != nil {
		p.fault(classifyConnErr(err), err)
		return err
	}
	p.rx.CommitRx(n)

	var parseErr error
	consumed, err := p.parser.Parse(p.rx.ReadableBytes(), func(f Frame) {
		if p.dispatch != nil {
			p.dispatch(f)
		}
	})
	if err != nil {
		parseErr = err
	}
	p.rx.Compact(consumed)

	if parseErr != nil {
		p.fault(wire.ProtocolViolation, parseErr)
		return parseErr
	}
	return nil
}

func (p *RxPipeline) fault(code wire.RetCode, err error) {
	if p.onFault != nil {
		p.onFault(wire.WrapFault(code, err))
	}
}
