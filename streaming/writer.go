package streaming

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pierrec/lz4/v3"

	"github.com/sharprpc/sharprpc-go/cmn/debug"
	"github.com/sharprpc/sharprpc-go/transport"
	"github.com/sharprpc/sharprpc-go/wire"
)

// writeAllChunkSize bounds one WriteAll item's size; independent of
// Options.PageSize, which counts items per page rather than bytes per
// item.
const writeAllChunkSize = 32 * 1024

type writerState int32

const (
	stateCreated writerState = iota
	stateAllowed
	stateCompleting
	stateClosed
)

// ErrStreamCompleted is returned by Write once the stream has been closed,
// per spec §4.6 ("After close, write fails with StreamCompleted").
var ErrStreamCompleted = wire.NewFault(wire.StreamCompleted, "stream is closed")

// Sender is the subset of TxPipeline a Writer needs; narrowed to an
// interface so tests can substitute a recording fake.
type Sender interface {
	TrySend(ctx context.Context, kind wire.Kind, callID wire.CallID, msg any) error
}

// Writer is the paging stream writer, spec component G's write side.
// Buffers items into pages of up to Options.PageSize, gated by a
// send-credit counter replenished by StreamPageAck.
type Writer struct {
	opts   Options
	tx     Sender
	callID wire.CallID

	mu      sync.Mutex
	state   writerState
	curPage [][]byte
	pageSeq uint32
	credit  int
	waiters []chan struct{} // FIFO of suspended Write callers
	fault   *wire.Fault
}

// NewWriter creates a Writer in the Created state; call MarkAllowed once
// the open-stream request has been confirmed sent, per spec's
// transmission-order constraint (pages must not precede the opener).
func NewWriter(tx Sender, callID wire.CallID, opts Options) *Writer {
	return &Writer{tx: tx, callID: callID, opts: opts, credit: opts.window()}
}

// MarkAllowed transitions Created -> Allowed. Write and Finish do not
// check this state: a page is flushed as soon as credit allows, even while
// the writer is still in Created.
func (w *Writer) MarkAllowed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == stateCreated {
		w.state = stateAllowed
	}
}

// Write enqueues item, serializing it immediately (byte-stream mode passes
// raw bytes straight through) and blocking only if the current page is
// full and no send credit remains. A ctx cancellation while blocked
// surfaces as OperationCanceled (spec §5), not a bare context error.
func (w *Writer) Write(ctx context.Context, item any) error {
	var encoded []byte
	if w.opts.ByteStream {
		b, ok := item.([]byte)
		if !ok {
			return errors.New("streaming: ByteStream writer requires []byte items")
		}
		encoded = b
	} else {
		var err error
		encoded, err = w.opts.Serializer.Marshal(item)
		if err != nil {
			return wire.NewFault(wire.SerializationError, "%v", err)
		}
	}

	w.mu.Lock()
	for {
		if w.state == stateClosed {
			f := w.fault
			w.mu.Unlock()
			if f != nil {
				return f
			}
			return ErrStreamCompleted
		}
		if len(w.curPage) < w.opts.pageSize() {
			w.curPage = append(w.curPage, encoded)
			w.mu.Unlock()
			return nil
		}
		if w.credit > 0 {
			if err := w.flushLocked(ctx); err != nil {
				w.mu.Unlock()
				return err
			}
			continue
		}
		ch := make(chan struct{})
		w.waiters = append(w.waiters, ch)
		w.mu.Unlock()
		select {
		case <-ch:
			w.mu.Lock()
			continue
		case <-ctx.Done():
			return wire.CanceledFault(ctx.Err())
		}
	}
}

// WriteAll copies src to the stream item by item, in writeAllChunkSize
// chunks, then calls Finish - the write_all(source_byte_stream) byte-stream
// helper from spec §6, the mirror image of Reader.ReadAll. Only valid on a
// ByteStream writer, since a non-byte-stream item has no single natural
// encoding for an arbitrary chunk of src's bytes.
func (w *Writer) WriteAll(ctx context.Context, src io.Reader) error {
	if !w.opts.ByteStream {
		return errors.New("streaming: WriteAll requires a ByteStream writer")
	}
	for {
		buf := make([]byte, writeAllChunkSize)
		n, err := src.Read(buf)
		if n > 0 {
			if werr := w.Write(ctx, buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return wire.WrapFault(wire.OtherError, err)
		}
	}
	return w.Finish(ctx)
}

// flushLocked serializes and sends the current page; caller holds w.mu.
func (w *Writer) flushLocked(ctx context.Context) error {
	debug.Assert(w.credit > 0, "flushLocked called without credit")
	msg := pageMsg{Seq: w.pageSeq, Items: w.curPage}
	kind := wire.KindStreamPage
	if w.opts.Compress {
		if err := compressPage(&msg); err != nil {
			return wire.NewFault(wire.SerializationError, "%v", err)
		}
	}
	if err := w.tx.TrySend(ctx, kind, w.callID, msg); err != nil {
		if f, ok := err.(*wire.Fault); ok {
			return f
		}
		return err
	}
	w.pageSeq++
	w.curPage = nil
	w.credit--
	return nil
}

// compressPage lz4-compresses the page's joined items into Blob, mirroring
// the teacher's direct lz4.NewWriter(dst) stream usage.
func compressPage(msg *pageMsg) error {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(joinItems(msg.Items)); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	msg.Blob = buf.Bytes()
	msg.Items = nil
	msg.Compressed = true
	return nil
}

// Finish flushes the trailing partial page (if any) and sends a terminal
// StreamCompletion. Named Finish rather than spec's "complete()" to avoid
// colliding with the dispatch.Op.Complete(payload) capability this type
// also implements.
func (w *Writer) Finish(ctx context.Context) error {
	w.mu.Lock()
	if w.state == stateClosed {
		w.mu.Unlock()
		return nil
	}
	w.state = stateCompleting
	if len(w.curPage) > 0 {
		for w.credit == 0 {
			ch := make(chan struct{})
			w.waiters = append(w.waiters, ch)
			w.mu.Unlock()
			select {
			case <-ch:
				w.mu.Lock()
			case <-ctx.Done():
				return wire.CanceledFault(ctx.Err())
			}
		}
		if err := w.flushLocked(ctx); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	w.state = stateClosed
	w.mu.Unlock()
	return w.tx.TrySend(ctx, wire.KindStreamCompletion, w.callID, struct{}{})
}

// Update handles inbound StreamAck frames, replenishing credit and waking
// the oldest suspended Write call.
func (w *Writer) Update(frame transport.Frame) {
	if frame.Kind != wire.KindStreamAck {
		return
	}
	w.mu.Lock()
	w.credit++
	var wake chan struct{}
	if len(w.waiters) > 0 {
		wake = w.waiters[0]
		w.waiters = w.waiters[1:]
	}
	w.mu.Unlock()
	if wake != nil {
		close(wake)
	}
}

// Credit reports the writer's current send-credit balance, for the
// metrics package's per-stream gauge.
func (w *Writer) Credit() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.credit
}

// PagesSent reports how many StreamPage frames this writer has flushed,
// i.e. the number of StreamAck credit restorations it expects in return.
func (w *Writer) PagesSent() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int(w.pageSeq)
}

// Complete satisfies dispatch.Op: a Response frame for a stream call's
// CallId confirms the server accepted the stream's terminal
// StreamCompletion. No state change is needed beyond what Finish already
// did.
func (w *Writer) Complete(_ []byte) {}

// Fail satisfies dispatch.Op: a Fault response or dispatcher Stop faults
// the stream, waking every suspended writer with ErrStreamCompleted's code
// replaced by the given fault.
func (w *Writer) Fail(fault *wire.Fault) {
	w.mu.Lock()
	w.state = stateClosed
	w.fault = fault
	waiters := w.waiters
	w.waiters = nil
	w.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}
