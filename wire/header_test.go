package wire

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{PayloadLen: 1234, Kind: KindStreamPage, Flags: ContinuationFlag, Seq: 7}
	if err := h.SetCallID("abc123"); err != nil {
		t.Fatalf("SetCallID: %v", err)
	}

	buf := make([]byte, HeaderSize)
	n := h.Encode(buf)
	if n != HeaderSize {
		t.Fatalf("Encode wrote %d bytes, want %d", n, HeaderSize)
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.PayloadLen != h.PayloadLen || got.Kind != h.Kind || got.Flags != h.Flags || got.Seq != h.Seq {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
	if got.CallIDString() != "abc123" {
		t.Fatalf("CallIDString() = %q, want %q", got.CallIDString(), "abc123")
	}
	if !got.Flags.Continuation() {
		t.Fatal("expected Continuation() true")
	}
	if got.Flags.Compressed() {
		t.Fatal("expected Compressed() false")
	}
}

func TestHeaderCallIDTooLong(t *testing.T) {
	h := Header{}
	long := make([]byte, CallIDSize+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := h.SetCallID(string(long)); err != ErrCallIDTooLong {
		t.Fatalf("expected ErrCallIDTooLong, got %v", err)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	if _, err := Decode(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("expected error decoding short buffer")
	}
}
