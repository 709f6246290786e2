// Package streaming implements the connection core's paging stream
// writer/reader (spec component G): ordered item sequences shipped over
// the channel with bounded memory via page-sized batching and an
// ack-based credit window.
//
// Grounded on the teacher's transport/sendmsg.go MsgStream send loop
// (workCh, an in-send flag, an end-of-batch marker) for the writer's
// page-rotation state machine, and on its Stats{Num, Offset, Size} atomics
// for the per-stream accounting exposed through metrics.
package streaming

import (
	"errors"

	"github.com/sharprpc/sharprpc-go/wire"
)

var errShortItemFrame = errors.New("streaming: truncated item frame in decompressed page")

// DefaultPageSize is P, the default item count per page.
const DefaultPageSize = 200

// DefaultWindow is W, the default send-credit window in pages.
const DefaultWindow = 2

// pageMsg is what actually crosses the wire for a StreamPage message.
// Items travel pre-serialized (each already the Serializer's encoding of
// one item) so a page's own encoding is serializer-agnostic. When
// Compressed is set, Items is empty and Blob holds every item
// length-prefixed and lz4-compressed as one block (see joinItems/
// splitItems) - grounded on the teacher's direct lz4.Writer/lz4.Reader
// stream usage (cmn/archive/write.go) rather than lz4's block-level API.
type pageMsg struct {
	Seq        uint32   `json:"seq" msg:"seq"`
	Items      [][]byte `json:"items" msg:"items"`
	Compressed bool     `json:"compressed" msg:"compressed"`
	Blob       []byte   `json:"blob" msg:"blob"`
}

// ackMsg is a StreamPageAck's payload.
type ackMsg struct {
	Seq uint32 `json:"seq" msg:"seq"`
}

// Options configures a Writer/Reader pair for one stream call.
type Options struct {
	PageSize   int
	Window     int
	Serializer wire.Serializer
	// Compress, when true, lz4-compresses each page's payload before
	// sending (marked by pageMsg.Compressed), a supplemental feature grounded on
	// the teacher's transport.Extra.Compression field - off by default so
	// framing is byte-identical to the uncompressed case when unset.
	Compress bool
	// ByteStream bypasses per-item serialization; pages carry raw bytes
	// directly, per spec §4.6's "byte-stream specialization".
	ByteStream bool
}

func (o Options) pageSize() int {
	if o.PageSize > 0 {
		return o.PageSize
	}
	return DefaultPageSize
}

func (o Options) window() int {
	if o.Window > 0 {
		return o.Window
	}
	return DefaultWindow
}

// joinItems concatenates items as [len(4 bytes BE) | bytes]* for lz4
// compression as a single block.
func joinItems(items [][]byte) []byte {
	size := 0
	for _, it := range items {
		size += 4 + len(it)
	}
	out := make([]byte, 0, size)
	for _, it := range items {
		var lenBuf [4]byte
		putUint32(lenBuf[:], uint32(len(it)))
		out = append(out, lenBuf[:]...)
		out = append(out, it...)
	}
	return out
}

// splitItems reverses joinItems.
func splitItems(data []byte) ([][]byte, error) {
	var items [][]byte
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, errShortItemFrame
		}
		n := int(getUint32(data))
		data = data[4:]
		if len(data) < n {
			return nil, errShortItemFrame
		}
		items = append(items, data[:n])
		data = data[n:]
	}
	return items, nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
