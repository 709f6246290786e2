package streaming

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sharprpc/sharprpc-go/transport"
	"github.com/sharprpc/sharprpc-go/wire"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []struct {
		kind wire.Kind
		msg  any
	}
}

func (s *recordingSender) TrySend(_ context.Context, kind wire.Kind, _ wire.CallID, msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, struct {
		kind wire.Kind
		msg  any
	}{kind, msg})
	return nil
}

func (s *recordingSender) count(kind wire.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.sent {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func TestWriterFlushesWhenPageFull(t *testing.T) {
	sender := &recordingSender{}
	opts := Options{PageSize: 2, Window: 1, Serializer: wire.JSONSerializer}
	w := NewWriter(sender, wire.NewCallID(), opts)
	w.MarkAllowed()
	ctx := context.Background()

	if err := w.Write(ctx, "a"); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	if sender.count(wire.KindStreamPage) != 0 {
		t.Fatal("page flushed before full")
	}
	if err := w.Write(ctx, "b"); err != nil {
		t.Fatalf("Write b: %v", err)
	}
	if err := w.Write(ctx, "c"); err != nil {
		t.Fatalf("Write c: %v", err)
	}
	if sender.count(wire.KindStreamPage) != 1 {
		t.Fatalf("expected 1 page sent, got %d", sender.count(wire.KindStreamPage))
	}
}

func TestWriterSuspendsWithoutCreditAndResumesOnAck(t *testing.T) {
	sender := &recordingSender{}
	opts := Options{PageSize: 1, Window: 1, Serializer: wire.JSONSerializer}
	w := NewWriter(sender, wire.NewCallID(), opts)
	w.MarkAllowed()
	ctx := context.Background()

	if err := w.Write(ctx, "a"); err != nil { // fills the one-item page
		t.Fatalf("Write a: %v", err)
	}
	if err := w.Write(ctx, "b"); err != nil { // flushes [a], spending the only credit
		t.Fatalf("Write b: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Write(ctx, "c") }()

	select {
	case <-done:
		t.Fatal("Write should have suspended: page full and credit exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	w.Update(transport.Frame{Kind: wire.KindStreamAck})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Write c after ack: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Write never resumed after ack")
	}
}

func TestWriterFinishSendsCompletion(t *testing.T) {
	sender := &recordingSender{}
	opts := Options{PageSize: 10, Window: 2, Serializer: wire.JSONSerializer}
	w := NewWriter(sender, wire.NewCallID(), opts)
	w.MarkAllowed()
	ctx := context.Background()

	_ = w.Write(ctx, "only-item")
	if err := w.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if sender.count(wire.KindStreamPage) != 1 {
		t.Fatalf("expected trailing page flushed, got %d pages", sender.count(wire.KindStreamPage))
	}
	if sender.count(wire.KindStreamCompletion) != 1 {
		t.Fatal("expected StreamCompletion sent")
	}
	if err := w.Write(ctx, "late"); err != ErrStreamCompleted {
		t.Fatalf("expected ErrStreamCompleted after Finish, got %v", err)
	}
}

func TestWriterWriteAllRequiresByteStream(t *testing.T) {
	sender := &recordingSender{}
	w := NewWriter(sender, wire.NewCallID(), Options{Serializer: wire.JSONSerializer})
	w.MarkAllowed()

	if err := w.WriteAll(context.Background(), strings.NewReader("hello")); err == nil {
		t.Fatal("expected WriteAll to reject a non-ByteStream writer")
	}
}

func TestWriterWriteAllSendsAllBytesThenCompletes(t *testing.T) {
	sender := &recordingSender{}
	opts := Options{PageSize: 10, Window: 2, Serializer: wire.JSONSerializer, ByteStream: true}
	w := NewWriter(sender, wire.NewCallID(), opts)
	w.MarkAllowed()

	src := bytes.NewReader([]byte("the quick brown fox"))
	if err := w.WriteAll(context.Background(), src); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if sender.count(wire.KindStreamCompletion) != 1 {
		t.Fatal("expected StreamCompletion after WriteAll")
	}

	sender.mu.Lock()
	var got []byte
	for _, e := range sender.sent {
		if e.kind == wire.KindStreamPage {
			msg := e.msg.(pageMsg)
			for _, it := range msg.Items {
				got = append(got, it...)
			}
		}
	}
	sender.mu.Unlock()
	if string(got) != "the quick brown fox" {
		t.Fatalf("reassembled = %q", got)
	}
}

func TestWriterFailWakesSuspendedWriters(t *testing.T) {
	sender := &recordingSender{}
	opts := Options{PageSize: 1, Window: 1, Serializer: wire.JSONSerializer}
	w := NewWriter(sender, wire.NewCallID(), opts)
	w.MarkAllowed()
	ctx := context.Background()
	_ = w.Write(ctx, "a") // fills the one-item page
	_ = w.Write(ctx, "b") // flushes [a], spending the only credit

	done := make(chan error, 1)
	go func() { done <- w.Write(ctx, "x") }()
	time.Sleep(20 * time.Millisecond)

	fault := wire.NewFault(wire.ChannelClosed, "bye")
	w.Fail(fault)

	select {
	case err := <-done:
		if err != fault {
			t.Fatalf("expected fault %v, got %v", fault, err)
		}
	case <-time.After(time.Second):
		t.Fatal("Write never woke after Fail")
	}
}
