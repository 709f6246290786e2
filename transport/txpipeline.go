package transport

import (
	"context"

	"github.com/sharprpc/sharprpc-go/memsys"
	"github.com/sharprpc/sharprpc-go/wire"
)

// TxPipeline is component D: serializes outgoing messages and drives the
// transport send loop. This is the "no-queue" variant named in spec.md
// §4.4 - TrySend runs the encode on the caller's goroutine while holding
// TxBuffer's write lock (single-writer semantics); the drain loop in Run
// only ever moves already-encoded segments. The "one-thread" (MPSC queue +
// dedicated encoder goroutine) variant is left as a possible alternate
// implementation of the same interface, per spec.md's "pick one
// implementation" framing - TrySend/Run's signatures don't preclude it.
type TxPipeline struct {
	buf        *TxBuffer
	conn       Conn
	pool       *memsys.Pool
	serializer wire.Serializer
	onFault    func(*wire.Fault)
}

// NewTxPipeline wires a TxPipeline over buf, draining into conn.
func NewTxPipeline(buf *TxBuffer, conn Conn, pool *memsys.Pool, serializer wire.Serializer, onFault func(*wire.Fault)) *TxPipeline {
	return &TxPipeline{buf: buf, conn: conn, pool: pool, serializer: serializer, onFault: onFault}
}

// TrySend encodes msg under kind/callID and stages it into the TxBuffer.
// It does not block on the network - only on TxBuffer's write lock and,
// transitively, on segment acquisition from the pool.
func (p *TxPipeline) TrySend(ctx context.Context, kind wire.Kind, callID wire.CallID, msg any) error {
	data, err := p.serializer.Marshal(msg)
	if err != nil {
		return wire.NewFault(wire.SerializationError, "%v", err)
	}
	if err := p.buf.StartMessage(ctx, kind, callID); err != nil {
		return err
	}
	span := p.buf.Allocate(len(data))
	copy(span, data)
	if err := p.buf.Advance(ctx, len(data)); err != nil {
		p.buf.EndMessage()
		return err
	}
	p.buf.EndMessage()
	return nil
}

// Run is the drain loop: await dequeue, transport.send, release segment,
// repeat until close or a transport error, per spec.md §4.4. On error it
// invokes the fault callback and stops.
func (p *TxPipeline) Run(ctx context.Context) {
	for {
		seg, ok, err := p.buf.Dequeue(ctx)
		if err != nil {
			p.fault(wire.ConnectionShutdown, err)
			return
		}
		if !ok {
			return
		}
		sendErr := p.conn.Send(ctx, seg.Bytes())
		p.pool.Release(seg)
		if sendErr != nil {
			p.fault(classifyConnErr(sendErr), sendErr)
			return
		}
	}
}

// Close terminates the TxBuffer; Run's next Dequeue returns the empty
// sentinel and the drain loop exits cleanly.
func (p *TxPipeline) Close() { p.buf.Close() }

func (p *TxPipeline) fault(code wire.RetCode, err error) {
	if p.onFault != nil {
		p.onFault(wire.WrapFault(code, err))
	}
}
