package transport

import (
	"context"

	"github.com/sharprpc/sharprpc-go/wire"
)

// Frame is a fully reassembled logical message handed to the dispatcher:
// header metadata from the message's first chunk, plus the joined payload
// bytes (already concatenated across continuation chunks, still undecoded -
// the caller applies wire.Serializer.Unmarshal against the target type).
type Frame struct {
	Kind    wire.Kind
	CallID  wire.CallID
	Payload []byte

	// Context is nil as produced by Parser; the dispatcher fills it in for
	// KindRequest/KindOneWay frames before invoking the user handler, per
	// spec §5's service-side cancellation token.
	Context context.Context
}

// Parser reads a stream of fixed headers out of RxBuffer's readable bytes,
// joining continuation chunks into one Frame per logical message. Grounded
// on the teacher's transport/pdu.go rpdu.readHdr (fixed-header read,
// validate, then payload) and the header-then-body staging referenced by
// sendmsg.go's dryrun.
type Parser struct {
	pending    bool // a continuation message is being accumulated
	pendingHdr wire.Header
	acc        []byte
}

// ErrProtocolViolation marks a frame the parser could not make sense of:
// a corrupt or out-of-spec header. Per spec, this faults the channel.
type ErrProtocolViolation struct{ Reason string }

func (e *ErrProtocolViolation) Error() string { return "transport: protocol violation: " + e.Reason }

// Parse scans data for complete frames, invoking emit for each fully
// reassembled logical message, and returns how many leading bytes of data
// were consumed (so RxBuffer can compact). Stops - without error - at the
// first incomplete header or payload, leaving it for the next call once
// more bytes have arrived.
//
// A single-chunk Frame's Payload aliases data directly; emit must decode
// or copy it before returning, since RxBuffer.Compact mutates the
// underlying segment right after Parse returns.
func (p *Parser) Parse(data []byte, emit func(Frame)) (consumed int, err error) {
	for {
		rest := data[consumed:]
		if len(rest) < wire.HeaderSize {
			return consumed, nil
		}
		hdr, derr := wire.Decode(rest)
		if derr != nil {
			return consumed, &ErrProtocolViolation{Reason: derr.Error()}
		}
		total := wire.HeaderSize + int(hdr.PayloadLen)
		if len(rest) < total {
			return consumed, nil
		}
		payload := rest[wire.HeaderSize:total]
		consumed += total

		if p.pending {
			if hdr.CallIDString() != p.pendingHdr.CallIDString() || hdr.Kind != p.pendingHdr.Kind {
				return consumed, &ErrProtocolViolation{Reason: "continuation header mismatch"}
			}
			p.acc = append(p.acc, payload...)
		} else {
			p.pendingHdr = hdr
			if hdr.Flags.Continuation() {
				p.acc = append(p.acc[:0], payload...)
			} else {
				p.acc = nil
			}
		}

		if hdr.Flags.Continuation() {
			p.pending = true
			continue
		}
		p.pending = false

		var out []byte
		if p.acc != nil {
			out = p.acc
			p.acc = nil
		} else {
			out = payload
		}
		emit(Frame{Kind: p.pendingHdr.Kind, CallID: wire.CallID(p.pendingHdr.CallIDString()), Payload: out})
	}
}
