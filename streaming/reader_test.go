package streaming

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/sharprpc/sharprpc-go/transport"
	"github.com/sharprpc/sharprpc-go/wire"
)

func encodePage(t *testing.T, msg pageMsg) []byte {
	t.Helper()
	data, err := wire.JSONSerializer.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return data
}

func TestReaderReadOneAcrossPages(t *testing.T) {
	sender := &recordingSender{}
	opts := Options{Serializer: wire.JSONSerializer}
	r := NewReader(sender, wire.NewCallID(), opts)

	page := pageMsg{Seq: 0, Items: [][]byte{[]byte(`"a"`), []byte(`"b"`)}}
	r.Update(transport.Frame{Kind: wire.KindStreamPage, Payload: encodePage(t, page)})

	// Arrival alone must not ack: credit is only restored once the page is
	// actually consumed, or a stalled reader would never throttle the writer.
	if n := sender.count(wire.KindStreamAck); n != 0 {
		t.Fatalf("expected 0 acks before any ReadOne, got %d", n)
	}

	ctx := context.Background()
	item, err := r.ReadOne(ctx)
	if err != nil || string(item) != `"a"` {
		t.Fatalf("ReadOne 1: item=%q err=%v", item, err)
	}
	if n := sender.count(wire.KindStreamAck); n != 0 {
		t.Fatalf("expected 0 acks with one item of the page still unread, got %d", n)
	}

	item, err = r.ReadOne(ctx)
	if err != nil || string(item) != `"b"` {
		t.Fatalf("ReadOne 2: item=%q err=%v", item, err)
	}
	if n := sender.count(wire.KindStreamAck); n != 1 {
		t.Fatalf("expected 1 ack sent right after the page's last item was popped, got %d", n)
	}
}

func TestReaderEOFAfterCompletion(t *testing.T) {
	sender := &recordingSender{}
	r := NewReader(sender, wire.NewCallID(), Options{Serializer: wire.JSONSerializer})

	r.Update(transport.Frame{Kind: wire.KindStreamCompletion})

	if _, err := r.ReadOne(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReaderBlocksUntilPageArrives(t *testing.T) {
	sender := &recordingSender{}
	r := NewReader(sender, wire.NewCallID(), Options{Serializer: wire.JSONSerializer})

	result := make(chan []byte, 1)
	go func() {
		item, _ := r.ReadOne(context.Background())
		result <- item
	}()

	select {
	case <-result:
		t.Fatal("ReadOne returned before any page arrived")
	case <-time.After(30 * time.Millisecond):
	}

	page := pageMsg{Seq: 0, Items: [][]byte{[]byte(`"only"`)}}
	r.Update(transport.Frame{Kind: wire.KindStreamPage, Payload: encodePage(t, page)})

	select {
	case item := <-result:
		if string(item) != `"only"` {
			t.Fatalf("got %q", item)
		}
	case <-time.After(time.Second):
		t.Fatal("ReadOne never unblocked")
	}
}

func TestReaderCompressedPageRoundTrip(t *testing.T) {
	sender := &recordingSender{}
	w := NewWriter(sender, wire.NewCallID(), Options{PageSize: 2, Window: 1, Serializer: wire.JSONSerializer, Compress: true})
	w.MarkAllowed()
	ctx := context.Background()
	_ = w.Write(ctx, "x")
	_ = w.Write(ctx, "y") // fills the page
	_ = w.Write(ctx, "z") // page already full: flushes the compressed [x, y] page

	sender.mu.Lock()
	var payload []byte
	for _, e := range sender.sent {
		if e.kind == wire.KindStreamPage {
			payload, _ = wire.JSONSerializer.Marshal(e.msg)
		}
	}
	sender.mu.Unlock()
	if payload == nil {
		t.Fatal("no StreamPage captured")
	}

	r := NewReader(sender, wire.NewCallID(), Options{Serializer: wire.JSONSerializer})
	r.Update(transport.Frame{Kind: wire.KindStreamPage, Payload: payload})

	item, err := r.ReadOne(context.Background())
	if err != nil || string(item) != `"x"` {
		t.Fatalf("item=%q err=%v", item, err)
	}
}

func TestReaderReadAllCopiesUntilCompletion(t *testing.T) {
	sender := &recordingSender{}
	r := NewReader(sender, wire.NewCallID(), Options{Serializer: wire.JSONSerializer})

	page := pageMsg{Seq: 0, Items: [][]byte{[]byte("ab"), []byte("cd")}}
	r.Update(transport.Frame{Kind: wire.KindStreamPage, Payload: encodePage(t, page)})
	r.Update(transport.Frame{Kind: wire.KindStreamCompletion})

	var buf bytes.Buffer
	if err := r.ReadAll(context.Background(), &buf); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if buf.String() != "abcd" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestReaderBulkEnumeratorReturnsWholePagesAndAcksImmediately(t *testing.T) {
	sender := &recordingSender{}
	r := NewReader(sender, wire.NewCallID(), Options{Serializer: wire.JSONSerializer})

	page := pageMsg{Seq: 0, Items: [][]byte{[]byte("x"), []byte("y")}}
	r.Update(transport.Frame{Kind: wire.KindStreamPage, Payload: encodePage(t, page)})

	// Arrival alone must not ack, same rule as ReadOne.
	if n := sender.count(wire.KindStreamAck); n != 0 {
		t.Fatalf("expected 0 acks before BulkEnumerator, got %d", n)
	}

	items, err := r.BulkEnumerator(context.Background())
	if err != nil {
		t.Fatalf("BulkEnumerator: %v", err)
	}
	if len(items) != 2 || string(items[0]) != "x" || string(items[1]) != "y" {
		t.Fatalf("items = %v", items)
	}
	if n := sender.count(wire.KindStreamAck); n != 1 {
		t.Fatalf("expected 1 ack immediately after the whole page was handed back, got %d", n)
	}

	r.Update(transport.Frame{Kind: wire.KindStreamCompletion})
	if _, err := r.BulkEnumerator(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
