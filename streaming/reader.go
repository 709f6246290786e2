package streaming

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/pierrec/lz4/v3"

	"github.com/sharprpc/sharprpc-go/transport"
	"github.com/sharprpc/sharprpc-go/wire"
)

// queuedPage is one StreamPage's items, still grouped by page so the
// reader can both drain them one at a time (ReadOne) and hand the whole
// page back at once (BulkEnumerator) without losing page boundaries.
type queuedPage struct {
	seq   uint32
	items [][]byte
}

// Reader is the paging stream reader, spec component G's read side: an
// internal page queue fed by inbound StreamPage frames, with ReadOne
// popping items across page boundaries and BulkEnumerator popping whole
// pages at once. Per spec.md §4.6 the reader "emits StreamPageAck(page_seq)
// whenever it has fully consumed a page" - the ack is what actually
// controls the writer's credit, so it must follow consumption, not
// arrival, or a stalled consumer never throttles the writer.
type Reader struct {
	opts   Options
	tx     Sender
	callID wire.CallID

	mu       sync.Mutex
	pages    []queuedPage
	done     bool // StreamCompletion seen; drain remaining pages then EOF
	fault    *wire.Fault
	notifyCh chan struct{} // closed and replaced whenever pages/done/fault change
}

// NewReader creates a Reader bound to callID; tx is used only to emit
// StreamPageAck frames back to the writer.
func NewReader(tx Sender, callID wire.CallID, opts Options) *Reader {
	return &Reader{tx: tx, callID: callID, opts: opts, notifyCh: make(chan struct{})}
}

// ReadOne pops the next item, blocking until one arrives, the stream
// completes (io.EOF), or ctx is done (OperationCanceled, per spec §5).
// Emits StreamPageAck for an item's page once that page's last item has
// been popped.
func (r *Reader) ReadOne(ctx context.Context) ([]byte, error) {
	for {
		r.mu.Lock()
		if len(r.pages) > 0 {
			page := &r.pages[0]
			item := page.items[0]
			page.items = page.items[1:]
			seq := page.seq
			drained := len(page.items) == 0
			if drained {
				r.pages = r.pages[1:]
			}
			r.mu.Unlock()
			if drained {
				_ = r.tx.TrySend(ctx, wire.KindStreamAck, r.callID, ackMsg{Seq: seq})
			}
			return item, nil
		}
		if r.fault != nil {
			f := r.fault
			r.mu.Unlock()
			return nil, f
		}
		if r.done {
			r.mu.Unlock()
			return nil, io.EOF
		}
		ch := r.notifyCh
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, wire.CanceledFault(ctx.Err())
		}
	}
}

// BulkEnumerator pops an entire page at once instead of one item at a
// time, acking it as soon as it's handed to the caller - the whole page is
// the unit of consumption here, so there's nothing left to wait on. This
// is the byte-stream specialization's bulk_enumerator() from spec §4.6/§6:
// a zero-copy path for bridging page contents straight to an external
// sink (e.g. io.Writer) without going through ReadOne's per-item queue.
// Blocks until a page arrives, the stream completes (io.EOF), or ctx is
// done.
func (r *Reader) BulkEnumerator(ctx context.Context) ([][]byte, error) {
	for {
		r.mu.Lock()
		if len(r.pages) > 0 {
			page := r.pages[0]
			r.pages = r.pages[1:]
			r.mu.Unlock()
			_ = r.tx.TrySend(ctx, wire.KindStreamAck, r.callID, ackMsg{Seq: page.seq})
			return page.items, nil
		}
		if r.fault != nil {
			f := r.fault
			r.mu.Unlock()
			return nil, f
		}
		if r.done {
			r.mu.Unlock()
			return nil, io.EOF
		}
		ch := r.notifyCh
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, wire.CanceledFault(ctx.Err())
		}
	}
}

// ReadAll drains the reader item by item into dst until the stream
// completes, translating each item's raw bytes straight through - the
// read_all(target_byte_stream) byte-stream helper from spec §6, the
// mirror image of Writer.WriteAll.
func (r *Reader) ReadAll(ctx context.Context, dst io.Writer) error {
	for {
		item, err := r.ReadOne(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if _, werr := dst.Write(item); werr != nil {
			return wire.WrapFault(wire.OtherError, werr)
		}
	}
}

func (r *Reader) wakeLocked() {
	close(r.notifyCh)
	r.notifyCh = make(chan struct{})
}

// Update handles StreamPage and StreamCompletion frames, enqueueing a
// page's items for ReadOne/BulkEnumerator to drain. An empty page has
// nothing to drain and is acked immediately; otherwise the ack follows
// consumption.
func (r *Reader) Update(frame transport.Frame) {
	switch frame.Kind {
	case wire.KindStreamPage:
		var msg pageMsg
		if err := r.opts.Serializer.Unmarshal(frame.Payload, &msg); err != nil {
			r.fail(wire.NewFault(wire.DeserializationError, "%v", err))
			return
		}
		items := msg.Items
		if msg.Compressed {
			decoded, err := decompressPage(msg.Blob)
			if err != nil {
				r.fail(wire.NewFault(wire.DeserializationError, "%v", err))
				return
			}
			items = decoded
		}
		if len(items) == 0 {
			// nothing to consume, so the page is already "fully consumed".
			_ = r.tx.TrySend(context.Background(), wire.KindStreamAck, r.callID, ackMsg{Seq: msg.Seq})
			return
		}
		r.mu.Lock()
		r.pages = append(r.pages, queuedPage{seq: msg.Seq, items: items})
		r.wakeLocked()
		r.mu.Unlock()

	case wire.KindStreamCompletion:
		r.mu.Lock()
		r.done = true
		r.wakeLocked()
		r.mu.Unlock()
	}
}

func decompressPage(blob []byte) ([][]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(blob))
	var out bytes.Buffer
	if _, err := io.Copy(&out, zr); err != nil {
		return nil, err
	}
	return splitItems(out.Bytes())
}

func (r *Reader) fail(fault *wire.Fault) {
	r.mu.Lock()
	r.fault = fault
	r.wakeLocked()
	r.mu.Unlock()
}

// Pending reports the number of items currently buffered and not yet
// popped by ReadOne, for the metrics package's per-stream gauge.
func (r *Reader) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.pages {
		n += len(p.items)
	}
	return n
}

// Complete satisfies dispatch.Op.
func (r *Reader) Complete(_ []byte) {}

// Fail satisfies dispatch.Op: faults the stream so ReadOne unblocks with
// the given fault instead of waiting forever.
func (r *Reader) Fail(fault *wire.Fault) { r.fail(fault) }
