package transport

import (
	"context"
	"testing"

	"github.com/sharprpc/sharprpc-go/memsys"
	"github.com/sharprpc/sharprpc-go/wire"
)

func TestTxBufferSingleSmallMessage(t *testing.T) {
	pool := memsys.NewPool(256, 8)
	buf := NewTxBuffer(pool)
	ctx := context.Background()

	callID := wire.NewCallID()
	if err := buf.StartMessage(ctx, wire.KindRequest, callID); err != nil {
		t.Fatalf("StartMessage: %v", err)
	}
	payload := []byte("hello")
	span := buf.Allocate(len(payload))
	copy(span, payload)
	if err := buf.Advance(ctx, len(payload)); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	buf.EndMessage()
	buf.Close()

	seg, ok, err := buf.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("Dequeue: ok=%v err=%v", ok, err)
	}

	hdr, err := wire.Decode(seg.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if hdr.Kind != wire.KindRequest || hdr.CallIDString() != callID.String() {
		t.Fatalf("unexpected header: %+v", hdr)
	}
	if int(hdr.PayloadLen) != len(payload) {
		t.Fatalf("PayloadLen = %d, want %d", hdr.PayloadLen, len(payload))
	}
	got := seg.Bytes()[wire.HeaderSize : wire.HeaderSize+int(hdr.PayloadLen)]
	if string(got) != string(payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}

	if _, ok, _ := buf.Dequeue(ctx); ok {
		t.Fatal("expected empty sentinel after close and drain")
	}
}

func TestTxBufferXLMessageSpillsAcrossSegments(t *testing.T) {
	const segSize = 64
	pool := memsys.NewPool(segSize, 8)
	buf := NewTxBuffer(pool)
	ctx := context.Background()

	callID := wire.NewCallID()
	payload := make([]byte, segSize*3)
	for i := range payload {
		payload[i] = byte(i)
	}

	if err := buf.StartMessage(ctx, wire.KindOneWay, callID); err != nil {
		t.Fatalf("StartMessage: %v", err)
	}
	span := buf.Allocate(len(payload))
	copy(span, payload)
	if err := buf.Advance(ctx, len(payload)); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	buf.EndMessage()
	buf.Close()

	var p Parser
	var got []byte
	frames := 0
	for {
		seg, ok, err := buf.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if !ok {
			break
		}
		consumed, err := p.Parse(seg.Bytes(), func(f Frame) {
			frames++
			got = append(got, f.Payload...)
		})
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if consumed != seg.Len {
			t.Fatalf("consumed %d, want %d (whole segment)", consumed, seg.Len)
		}
	}
	if frames != 1 {
		t.Fatalf("expected exactly 1 reassembled frame, got %d", frames)
	}
	if string(got) != string(payload) {
		t.Fatalf("reassembled payload mismatch, got %d bytes want %d", len(got), len(payload))
	}
}
