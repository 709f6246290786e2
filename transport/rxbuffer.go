package transport

import (
	"context"

	"github.com/sharprpc/sharprpc-go/memsys"
)

// RxBuffer hands the transport a pooled writable window to receive into,
// then lets the parser mark how much of it is valid. Grounded on the
// teacher's transport/pdu.go rpdu (a segment plus a read/write offset
// pair), trimmed to the single current-segment case since one segment
// size is this module's only size class.
type RxBuffer struct {
	pool *memsys.Pool
	cur  *memsys.Segment
}

// NewRxBuffer creates an RxBuffer drawing segments from pool.
func NewRxBuffer(pool *memsys.Pool) *RxBuffer {
	return &RxBuffer{pool: pool}
}

// GetSegment returns the segment the transport should receive into next,
// acquiring a fresh one if the previous one was fully consumed.
func (r *RxBuffer) GetSegment(ctx context.Context) (*memsys.Segment, error) {
	if r.cur == nil {
		seg, err := r.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		r.cur = seg
	}
	return r.cur, nil
}

// CommitRx marks n additional bytes as valid in the current segment.
func (r *RxBuffer) CommitRx(n int) {
	r.cur.Len += n
}

// WriteWindow is the slice the transport should Receive into: the unused
// tail of the current segment, past whatever is already valid.
func (r *RxBuffer) WriteWindow() []byte {
	return r.cur.Buf[r.cur.Len:]
}

// ReadableBytes is the valid, not-yet-parsed bytes of the current segment.
func (r *RxBuffer) ReadableBytes() []byte {
	return r.cur.Bytes()
}

// Compact drops consumed bytes from the current segment, sliding the
// remaining tail down to offset 0; if the segment is fully consumed it's
// released back to the pool so the next GetSegment acquires a fresh one.
func (r *RxBuffer) Compact(consumed int) {
	if consumed == 0 {
		return
	}
	seg := r.cur
	tail := seg.Len - consumed
	if tail <= 0 {
		r.pool.Release(seg)
		r.cur = nil
		return
	}
	copy(seg.Buf[0:tail], seg.Buf[consumed:seg.Len])
	seg.Len = tail
}
