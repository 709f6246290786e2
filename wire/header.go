// Package wire defines the shared low-level vocabulary every other package
// in this module builds on: the fixed-width message header, CallIDs,
// RetCodes/Fault, and the pluggable Serializer the core is generic over.
//
// Grounded on the teacher's transport/pdu.go header layout (plen/flags
// extracted from a fixed-size proto header ahead of the payload) and
// sendmsg.go's header-then-body staging.
package wire

import (
	"encoding/binary"
	"errors"
)

// Kind identifies what a frame carries. Values are a plain enum (not
// bitflags); Flags below carries the orthogonal chunking/compression bits.
type Kind uint8

const (
	KindRequest Kind = iota + 1
	KindResponse
	KindFault
	KindStreamPage
	KindStreamAck
	KindStreamCompletion
	KindLogin
	KindLoginResponse
	KindLogout
	KindLogoutResponse
	KindCancel
	KindOneWay
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	case KindFault:
		return "Fault"
	case KindStreamPage:
		return "StreamPage"
	case KindStreamAck:
		return "StreamAck"
	case KindStreamCompletion:
		return "StreamCompletion"
	case KindLogin:
		return "Login"
	case KindLoginResponse:
		return "LoginResponse"
	case KindLogout:
		return "Logout"
	case KindLogoutResponse:
		return "LogoutResponse"
	case KindCancel:
		return "Cancel"
	case KindOneWay:
		return "OneWay"
	default:
		return "Unknown"
	}
}

// Flags carries bits orthogonal to Kind.
type Flags uint8

const (
	// ContinuationFlag marks that more chunks follow for the same logical
	// message: the receiver must keep accumulating payload bytes under
	// this frame's CallID/Kind rather than decode immediately. Lets a
	// payload larger than one segment cross segment boundaries without
	// ever needing a length prefix bigger than a single segment.
	ContinuationFlag Flags = 1 << iota
	// CompressedFlag is defined for a payload compressed before sending, but
	// no sender in this module sets it: compressed stream pages are marked
	// by the page message's own Compressed field (see
	// streaming.Options.Compress).
	CompressedFlag
)

func (f Flags) Continuation() bool { return f&ContinuationFlag != 0 }
func (f Flags) Compressed() bool   { return f&CompressedFlag != 0 }

// CallIDSize bounds the fixed-width CallID field embedded in every header.
// cos.GenUUID never produces more than 13 bytes; 24 leaves headroom for
// caller-supplied CallIDs (CallIds are "chosen by the initiator" per spec).
const CallIDSize = 24

// HeaderSize is the fixed, compile-time-known width of every frame header:
// 4 (PayloadLen) + 1 (Kind) + 1 (Flags) + 4 (Seq) + CallIDSize.
const HeaderSize = 4 + 1 + 1 + 4 + CallIDSize

// Header precedes every chunk on the wire. PayloadLen is the length of
// *this chunk's* payload (always <= one segment's usable capacity), not
// the total message length, so XL messages never require a length prefix
// bigger than a segment.
type Header struct {
	PayloadLen uint32
	Kind       Kind
	Flags      Flags
	Seq        uint32
	CallID     [CallIDSize]byte
}

var ErrCallIDTooLong = errors.New("wire: callid exceeds header capacity")

// SetCallID copies id into the header's fixed CallID field.
func (h *Header) SetCallID(id string) error {
	if len(id) > CallIDSize {
		return ErrCallIDTooLong
	}
	var buf [CallIDSize]byte
	copy(buf[:], id)
	h.CallID = buf
	return nil
}

// CallIDString returns the CallID as a string, trimmed of zero padding.
func (h *Header) CallIDString() string {
	n := CallIDSize
	for n > 0 && h.CallID[n-1] == 0 {
		n--
	}
	return string(h.CallID[:n])
}

// Encode writes the header into buf (must be at least HeaderSize bytes)
// and returns the number of bytes written.
func (h *Header) Encode(buf []byte) int {
	binary.BigEndian.PutUint32(buf[0:4], h.PayloadLen)
	buf[4] = byte(h.Kind)
	buf[5] = byte(h.Flags)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	copy(buf[10:10+CallIDSize], h.CallID[:])
	return HeaderSize
}

// Decode parses a header out of buf (must hold at least HeaderSize bytes).
func Decode(buf []byte) (h Header, err error) {
	if len(buf) < HeaderSize {
		return h, errShortHeader
	}
	h.PayloadLen = binary.BigEndian.Uint32(buf[0:4])
	h.Kind = Kind(buf[4])
	h.Flags = Flags(buf[5])
	h.Seq = binary.BigEndian.Uint32(buf[6:10])
	copy(h.CallID[:], buf[10:10+CallIDSize])
	return h, nil
}

var errShortHeader = errors.New("wire: buffer shorter than header size")
