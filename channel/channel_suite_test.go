package channel

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/sharprpc/sharprpc-go/dispatch"
	"github.com/sharprpc/sharprpc-go/streaming"
	"github.com/sharprpc/sharprpc-go/transport"
	"github.com/sharprpc/sharprpc-go/wire"
)

func TestChannelScenarios(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Channel end-to-end scenarios")
}

// pair is a connected client/server Channel over real TCP loopback, the
// shape every literal scenario in spec.md §8 starts from.
type pair struct {
	ln     *Listener
	client *Channel
	server *Channel
}

// newPair dials a client against a freshly accepted server, wiring
// serverHandler (if non-nil) as the server's post-login frame handler
// before the handshake runs. Blocks until both sides report Online.
func newPair(cfg Config, serverHandler func(srv *Channel, f transport.Frame)) *pair {
	ln, err := ListenTCP("127.0.0.1:0", cfg)
	Expect(err).NotTo(HaveOccurred())

	srvCh := make(chan *Channel, 1)
	go func() {
		srv, err := ln.Accept(context.Background(), Events{})
		if err != nil {
			srvCh <- nil
			return
		}
		if serverHandler != nil {
			srv.Handler = func(f transport.Frame) { serverHandler(srv, f) }
		}
		_ = srv.TryConnect(context.Background())
		srvCh <- srv
	}()

	client := NewClient(ln.Addr().String(), cfg, Events{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	Expect(client.TryConnect(ctx)).To(Succeed())

	srv := <-srvCh
	Expect(srv).NotTo(BeNil())
	Expect(srv.State()).To(Equal(StateOnline))
	Expect(client.State()).To(Equal(StateOnline))

	return &pair{ln: ln, client: client, server: srv}
}

func (p *pair) Close() {
	_ = p.client.Close(context.Background())
	p.ln.Close()
}

var _ = Describe("Channel end-to-end scenarios", func() {

	It("scenario 1: try_call resolves Ok(\"pong\") and leaves the dispatcher empty", func() {
		p := newPair(testConfig(), func(srv *Channel, f transport.Frame) {
			if f.Kind != wire.KindRequest {
				return
			}
			var req string
			Expect(wire.JSONSerializer.Unmarshal(f.Payload, &req)).To(Succeed())
			Expect(req).To(Equal("ping"))
			Expect(srv.TxPipeline().TrySend(context.Background(), wire.KindResponse, f.CallID, "pong")).To(Succeed())
		})
		defer p.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		payload, fault, err := p.client.Dispatcher().Call(ctx, p.client.TxPipeline(), "ping")
		Expect(err).NotTo(HaveOccurred())
		Expect(fault).To(BeNil())

		var resp string
		Expect(wire.JSONSerializer.Unmarshal(payload, &resp)).To(Succeed())
		Expect(resp).To(Equal("pong"))

		Expect(p.client.Dispatcher().OutstandingCalls()).To(Equal(0))
	})

	It("scenario 2: a 1000-item duplex stream at P=200,W=2 arrives in order and completes cleanly", func() {
		const pageSize, window, total = 200, 2, 1000
		streamID := wire.NewCallID()

		received := make(chan []byte, total)
		done := make(chan struct{})

		p := newPair(testConfig(), func(srv *Channel, f transport.Frame) {
			if f.Kind != wire.KindOneWay {
				return
			}
			// the one-way frame opens the stream: create the server-side
			// Reader under the same CallID and register it before any
			// StreamPage can legally arrive (the writer only starts
			// sending once Write is called, after this has landed).
			opts := streaming.Options{Serializer: wire.JSONSerializer, PageSize: pageSize, Window: window, ByteStream: true}
			reader := streaming.NewReader(srv.TxPipeline(), f.CallID, opts)
			Expect(srv.Dispatcher().RegisterCallObject(f.CallID, reader)).To(Succeed())

			go func() {
				for i := 0; i < total; i++ {
					item, err := reader.ReadOne(context.Background())
					Expect(err).NotTo(HaveOccurred())
					received <- item
				}
				_, err := reader.ReadOne(context.Background())
				Expect(err).To(MatchError("EOF"))
				close(done)
			}()
		})
		defer p.Close()

		opts := streaming.Options{Serializer: wire.JSONSerializer, PageSize: pageSize, Window: window, ByteStream: true}
		writer := streaming.NewWriter(p.client.TxPipeline(), streamID, opts)
		Expect(p.client.Dispatcher().RegisterCallObject(streamID, writer)).To(Succeed())

		Expect(p.client.TxPipeline().TrySend(context.Background(), wire.KindOneWay, streamID, "open-stream")).To(Succeed())
		writer.MarkAllowed()

		ctx := context.Background()
		for i := 0; i < total; i++ {
			Expect(writer.Write(ctx, []byte{byte(i)})).To(Succeed())
		}
		Expect(writer.Finish(ctx)).To(Succeed())
		Expect(writer.PagesSent()).To(Equal(total / pageSize))

		Eventually(done, 2*time.Second).Should(BeClosed())
		close(received)
		i := 0
		for item := range received {
			Expect(item).To(Equal([]byte{byte(i)}))
			i++
		}
		Expect(i).To(Equal(total))
	})

	It("scenario 3: killing the transport mid-call faults the call and the channel", func() {
		p := newPair(testConfig(), nil) // server never responds

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		type callResult struct {
			fault *wire.Fault
			err   error
		}
		resultCh := make(chan callResult, 1)
		go func() {
			_, fault, err := p.client.Dispatcher().Call(ctx, p.client.TxPipeline(), "slow")
			resultCh <- callResult{fault, err}
		}()

		time.Sleep(50 * time.Millisecond) // let the request actually land
		p.server.conn.Dispose()           // simulate the peer process dying

		var result callResult
		Eventually(resultCh, 2*time.Second).Should(Receive(&result))
		Expect(result.err).NotTo(HaveOccurred())
		Expect(result.fault).NotTo(BeNil())
		Expect(result.fault.Code).To(Equal(wire.ConnectionAbortedByPeer))

		Eventually(p.client.State, time.Second).Should(Equal(StateFaulted))
		Expect(p.client.Fault().Code).To(Equal(wire.ConnectionAbortedByPeer))

		closeCtx, closeCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer closeCancel()
		start := time.Now()
		Expect(p.client.Close(closeCtx)).To(Succeed())
		Expect(time.Since(start)).To(BeNumerically("<", 100*time.Millisecond))

		p.ln.Close()
	})

	It("scenario 4: Close racing an in-flight response resolves with exactly one outcome", func() {
		p := newPair(testConfig(), func(srv *Channel, f transport.Frame) {
			if f.Kind != wire.KindRequest {
				return
			}
			_ = srv.TxPipeline().TrySend(context.Background(), wire.KindResponse, f.CallID, "pong")
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		type callResult struct {
			payload []byte
			fault   *wire.Fault
			err     error
		}
		resultCh := make(chan callResult, 1)
		go func() {
			payload, fault, err := p.client.Dispatcher().Call(ctx, p.client.TxPipeline(), "ping")
			resultCh <- callResult{payload, fault, err}
		}()
		go func() { _ = p.client.Close(context.Background()) }()

		var result callResult
		Eventually(resultCh, 2*time.Second).Should(Receive(&result))
		Expect(result.err).NotTo(HaveOccurred())

		// Exactly one of "resolved with the response" or "resolved with
		// ChannelClosed" is true - never both, never neither.
		gotResponse := result.fault == nil && result.payload != nil
		gotClosedFault := result.fault != nil && result.fault.Code == wire.ChannelClosed
		Expect(gotResponse != gotClosedFault).To(BeTrue())

		p.ln.Close()
	})

	It("scenario 5: a stream page for an unknown CallId logs a violation and changes nothing else", func() {
		p := newPair(testConfig(), nil)
		defer p.Close()

		unknown := wire.NewCallID()
		p.server.Dispatcher().OnMessage(transport.Frame{Kind: wire.KindStreamPage, CallID: unknown, Payload: []byte("{}")})

		Consistently(p.server.State, 100*time.Millisecond).Should(Equal(StateOnline))
		Expect(p.server.Fault()).To(BeNil())
	})

	It("scenario 6: a silent peer times out the login handshake", func() {
		cfg := NewConfig(
			WithSegmentSize(4096, 4096),
			WithLoginTimeout(150*time.Millisecond),
			WithLogoutTimeout(time.Second),
		)
		ln, err := ListenTCP("127.0.0.1:0", cfg)
		Expect(err).NotTo(HaveOccurred())
		defer ln.Close()

		accepted := make(chan struct{})
		go func() {
			_, _ = ln.Accept(context.Background(), Events{}) // accepted, never TryConnect-ed: stays silent
			close(accepted)
		}()

		var failedToConnectCount int
		events := Events{
			OnFailedToConnect: func(EventArgs) { failedToConnectCount++ },
		}
		client := NewClient(ln.Addr().String(), cfg, events)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = client.TryConnect(ctx)
		Expect(err).To(HaveOccurred())

		fault, ok := err.(*wire.Fault)
		Expect(ok).To(BeTrue())
		Expect(fault.Code).To(Equal(wire.LoginTimeout))
		Expect(client.State()).To(Equal(StateFaulted))
		Expect(failedToConnectCount).To(Equal(1))

		Eventually(accepted, time.Second).Should(BeClosed())
	})

	It("scenario 7: a canceled Call surfaces OperationCanceled and flips the service-side context", func() {
		cancelObserved := make(chan bool, 1)
		p := newPair(testConfig(), func(srv *Channel, f transport.Frame) {
			if f.Kind != wire.KindRequest {
				return
			}
			select {
			case <-f.Context.Done():
				cancelObserved <- true
			case <-time.After(2 * time.Second):
				cancelObserved <- false
			}
			// no response: the client already gave up by the time this returns.
		})
		defer p.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, fault, err := p.client.Dispatcher().Call(ctx, p.client.TxPipeline(), "slow", dispatch.WithCancellation())
		Expect(err).NotTo(HaveOccurred())
		Expect(fault).NotTo(BeNil())
		Expect(fault.Code).To(Equal(wire.OperationCanceled))

		Eventually(cancelObserved, 2*time.Second).Should(Receive(BeTrue()))
	})
})
