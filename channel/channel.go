// Package channel implements the connection core's top-level Channel
// (spec component I): the per-connection object user code holds, driving
// the New -> Connecting -> Online -> Disconnecting -> Closed/Faulted
// state machine and coordinating every other component's shutdown.
//
// Grounded on transport/bundle/stream_bundle.go (composes multiple
// streams into one lifecycle object behind a single Stop) for the
// shutdown fan-out shape, and on transport/collect.go's ticker-driven
// collector for the bounded-grace-period close; the fan-out runs on
// errgroup and the grace period is a context timeout.
package channel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sharprpc/sharprpc-go/cmn/cos"
	"github.com/sharprpc/sharprpc-go/cmn/nlog"
	"github.com/sharprpc/sharprpc-go/dispatch"
	"github.com/sharprpc/sharprpc-go/memsys"
	"github.com/sharprpc/sharprpc-go/session"
	"github.com/sharprpc/sharprpc-go/transport"
	"github.com/sharprpc/sharprpc-go/wire"
)

// State is the channel's position in its lifecycle state machine.
type State int32

const (
	StateNew State = iota
	StateConnecting
	StateOnline
	StateDisconnecting
	StateClosed
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateConnecting:
		return "Connecting"
	case StateOnline:
		return "Online"
	case StateDisconnecting:
		return "Disconnecting"
	case StateClosed:
		return "Closed"
	case StateFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// Role distinguishes which side of the handshake a Channel plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Channel is the top-level connection object. Transitions are guarded by
// a single mutex; only the events named in spec.md §4.8's diagram may
// fire per state. TriggerClose is idempotent: reentrant callers await the
// first caller's disconnect.
type Channel struct {
	id     string
	role   Role
	addr   string // client only; dialed lazily on TryConnect
	cfg    Config
	events Events

	mu    sync.Mutex
	state State
	fault *wire.Fault // monotonic: first fault wins

	closeOnce   sync.Once
	closeDone   chan struct{}
	closeResult error

	conn       transport.Conn
	txPool     *memsys.Pool
	rxPool     *memsys.Pool
	hk         *transport.Housekeeper
	tx         *transport.TxPipeline
	rx         *transport.RxPipeline
	dispatcher *dispatch.Dispatcher
	coord      *session.Coordinator

	// dispatchQueue/dispatchStop/dispatchDone back cfg.DispatchMode ==
	// PagedQueueX1 (spec §4.5): the Rx goroutine enqueues instead of
	// calling dispatcher.OnMessage inline, and one worker goroutine drains
	// the queue in arrival order. Nil in NoQueue mode.
	dispatchQueue chan transport.Frame
	dispatchStop  chan struct{}
	dispatchDone  chan struct{}

	// Handler is invoked for one-way/request frames once the session is
	// LoggedIn; nil means inbound user traffic is silently dropped.
	Handler func(transport.Frame)
}

// NewClient creates a client-role Channel that will dial addr on
// TryConnect.
func NewClient(addr string, cfg Config, events Events) *Channel {
	return &Channel{
		id:        cos.GenUUID(),
		role:      RoleClient,
		addr:      addr,
		cfg:       cfg,
		events:    events,
		state:     StateNew,
		closeDone: make(chan struct{}),
	}
}

// NewServer creates a server-role Channel over an already-accepted conn.
func NewServer(conn transport.Conn, cfg Config, events Events) *Channel {
	return &Channel{
		id:        cos.GenUUID(),
		role:      RoleServer,
		conn:      conn,
		cfg:       cfg,
		events:    events,
		state:     StateNew,
		closeDone: make(chan struct{}),
	}
}

func (c *Channel) ID() string { return c.id }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Fault reports the channel's monotonic fault, nil until one is set.
func (c *Channel) Fault() *wire.Fault {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fault
}

func (c *Channel) setFaultLocked(f *wire.Fault) {
	if c.fault == nil {
		c.fault = f
	}
}

// Dispatcher exposes the registered-call-object API (component F) to
// callers issuing requests/streams over this channel, valid once Online.
func (c *Channel) Dispatcher() *dispatch.Dispatcher { return c.dispatcher }

// TxPipeline exposes the send path, valid once Online.
func (c *Channel) TxPipeline() *transport.TxPipeline { return c.tx }

// TxPool and RxPool expose segment pool occupancy for the metrics package;
// both are nil until TryConnect has wired the channel's components.
func (c *Channel) TxPool() *memsys.Pool { return c.txPool }
func (c *Channel) RxPool() *memsys.Pool { return c.rxPool }

// TryConnect drives New -> Connecting -> Online|Faulted: dials (client) or
// adopts the given conn (server), wires every component, and runs the
// login handshake before returning.
func (c *Channel) TryConnect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateNew {
		c.mu.Unlock()
		return wire.NewFault(wire.InvalidChannelState, "TryConnect from state %s", c.state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.events.fireOpening(EventArgs{ChannelID: c.id})

	if err := c.connect(ctx); err != nil {
		return c.failToConnect(wire.WrapFault(wire.OtherConnectionError, err))
	}

	c.wireComponents()
	go c.hk.Run()
	go c.tx.Run(context.Background())
	go c.rx.Run(context.Background())
	if c.cfg.DispatchMode == PagedQueueX1 {
		go c.runDispatchWorker()
	}

	// No extra context.WithTimeout layered on here: Login/AwaitLogin already
	// bound themselves to cfg.LoginTimeout via the Housekeeper, so the
	// LoginTimeout fault fires precisely at that duration. ctx is passed
	// through only for the caller's own cancellation, not as a second race
	// against the same deadline.
	var handshakeErr error
	if c.role == RoleClient {
		handshakeErr = c.coord.Login(ctx)
	} else {
		handshakeErr = c.coord.AwaitLogin(ctx)
	}
	if handshakeErr != nil {
		fault, ok := handshakeErr.(*wire.Fault)
		if !ok {
			fault = wire.WrapFault(wire.LoginTimeout, handshakeErr)
		}
		return c.failToConnect(fault)
	}

	c.mu.Lock()
	c.state = StateOnline
	c.mu.Unlock()
	return nil
}

func (c *Channel) connect(ctx context.Context) error {
	if c.role == RoleServer {
		return nil // conn already supplied to NewServer
	}
	conn, err := transport.DialTCP(ctx, c.addr, c.cfg.TLS)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *Channel) wireComponents() {
	c.txPool = memsys.NewPool(c.cfg.TxSegmentSize, c.cfg.MaxSegments)
	c.rxPool = memsys.NewPool(c.cfg.RxSegmentSize, c.cfg.MaxSegments)

	txBuf := transport.NewTxBuffer(c.txPool)
	c.tx = transport.NewTxPipeline(txBuf, c.conn, c.txPool, c.cfg.Serializer, c.onFault)

	rxBuf := transport.NewRxBuffer(c.rxPool)
	c.dispatcher = dispatch.New(c.cfg.Serializer, c.deliverUserFrame)
	c.hk = transport.NewHousekeeper()

	c.coord = session.New(c.tx, c.hk, c.cfg.Serializer,
		session.WithLoginTimeout(c.cfg.LoginTimeout),
		session.WithLogoutTimeout(c.cfg.LogoutTimeout),
		session.WithSigner(c.cfg.Signer),
		session.WithVerifier(c.cfg.Verifier),
	)

	c.rx = transport.NewRxPipeline(rxBuf, c.conn, c.onFrame, c.onFault)

	if c.cfg.DispatchMode == PagedQueueX1 {
		queueSize := c.cfg.DispatchQueueSize
		if queueSize <= 0 {
			queueSize = DefaultDispatchQueueSize
		}
		c.dispatchQueue = make(chan transport.Frame, queueSize)
		c.dispatchStop = make(chan struct{})
		c.dispatchDone = make(chan struct{})
	}
}

// onFrame is the RxPipeline's single entry point: session-layer messages
// go to the coordinator; everything else is gated on LoggedIn before
// reaching the dispatcher, per spec.md §4.7 ("server side gates
// user-message dispatch until LoggedIn").
func (c *Channel) onFrame(f transport.Frame) {
	switch f.Kind {
	case wire.KindLogin, wire.KindLoginResponse, wire.KindLogout, wire.KindLogoutResponse:
		c.coord.OnMessage(f)
		return
	}
	if c.coord.State() != session.LoggedIn {
		nlog.Warningf("channel %s: dropping message before login: %s", c.id, f.Kind)
		return
	}
	c.dispatchMessage(f)
}

// dispatchMessage applies cfg.DispatchMode (spec §4.5): NoQueue runs
// OnMessage inline on the caller (the Rx goroutine); PagedQueueX1 hands
// the frame to the single dispatch worker via a bounded queue, preserving
// arrival order since onFrame's caller is itself single-threaded.
func (c *Channel) dispatchMessage(f transport.Frame) {
	// The parser's payload aliases the Rx segment, which is compacted once
	// this call returns; copy it since the frame may be queued or kept by a
	// waiter past that point.
	f.Payload = append([]byte(nil), f.Payload...)
	if c.cfg.DispatchMode != PagedQueueX1 {
		c.dispatcher.OnMessage(f)
		return
	}
	select {
	case c.dispatchQueue <- f:
	case <-c.dispatchStop:
	}
}

// runDispatchWorker drains dispatchQueue in order until dispatchStop is
// closed, then drains whatever is already queued before exiting - queued
// frames still get a chance to reach their Op before shutdownSequence
// force-fails everything outstanding.
func (c *Channel) runDispatchWorker() {
	defer close(c.dispatchDone)
	for {
		select {
		case f := <-c.dispatchQueue:
			c.dispatcher.OnMessage(f)
		case <-c.dispatchStop:
			for {
				select {
				case f := <-c.dispatchQueue:
					c.dispatcher.OnMessage(f)
				default:
					return
				}
			}
		}
	}
}

func (c *Channel) deliverUserFrame(f transport.Frame) {
	if c.Handler != nil {
		c.Handler(f)
	}
}

func (c *Channel) onFault(fault *wire.Fault) {
	_ = c.TriggerClose(fault)
}

func (c *Channel) failToConnect(fault *wire.Fault) error {
	c.mu.Lock()
	c.state = StateFaulted
	c.setFaultLocked(fault)
	c.mu.Unlock()
	c.disposeComponents()
	c.events.fireFailedToConnect(EventArgs{ChannelID: c.id, Fault: fault})
	return fault
}

// OnCommunicationError is TriggerClose with the error as reason - spec
// §4.8: "first fault wins (monotonic Fault)".
func (c *Channel) OnCommunicationError(fault *wire.Fault) error {
	return c.TriggerClose(fault)
}

// Close runs a clean shutdown: logout (skipped if fault is already set),
// then component teardown. Idempotent - concurrent callers all observe
// the first caller's result.
func (c *Channel) Close(ctx context.Context) error {
	return c.TriggerClose(nil)
}

// TriggerClose is idempotent: reentrant calls await the first caller's
// disconnect future, per spec.md §4.8.
func (c *Channel) TriggerClose(fault *wire.Fault) error {
	c.closeOnce.Do(func() {
		c.closeResult = c.doClose(fault)
	})
	<-c.closeDone
	return c.closeResult
}

func (c *Channel) doClose(fault *wire.Fault) error {
	c.mu.Lock()
	if c.state == StateNew {
		c.state = StateClosed
		c.mu.Unlock()
		close(c.closeDone)
		return nil
	}
	wasFaulted := c.state == StateFaulted
	c.setFaultLocked(fault)
	c.state = StateDisconnecting
	c.mu.Unlock()
	defer close(c.closeDone)

	c.events.fireClosing(EventArgs{ChannelID: c.id, Fault: c.Fault()})

	// Logout runs before component shutdown unless the close was caused by
	// a transport fault (spec.md §4.8).
	if fault == nil && !wasFaulted && c.coord != nil {
		logoutCtx, cancel := context.WithTimeout(context.Background(), c.cfg.LogoutTimeout)
		if err := c.coord.Logout(logoutCtx); err != nil {
			nlog.Warningf("channel %s: logout did not complete cleanly: %v", c.id, err)
		}
		cancel()
	}

	errs := c.shutdownSequence()

	c.mu.Lock()
	if c.fault != nil {
		c.state = StateFaulted
	} else {
		c.state = StateClosed
	}
	finalFault := c.fault
	c.mu.Unlock()

	c.events.fireClosed(EventArgs{ChannelID: c.id, Fault: finalFault})
	return errs
}

// shutdownSequence stops the dispatcher (after draining the PagedQueueX1
// worker, if any), then closes TxPipeline (bounded grace period) and shuts
// down the transport concurrently via errgroup, then stops the housekeeper
// and disposes the transport. The TxPipeline and transport shutdown steps
// do not run one after the other. Their failures are collected into a
// cos.Errs and logged as one warning; they do not set the channel's Fault.
// Only a Dispose error is returned. RxPipeline needs no explicit join
// here: disposing the transport makes its blocking Receive fail, and its
// Run loop exits on its own.
func (c *Channel) shutdownSequence() error {
	stopFault := c.Fault()
	if stopFault == nil {
		stopFault = wire.NewFault(wire.ChannelClosed, "channel closing")
	}

	if c.dispatchStop != nil {
		close(c.dispatchStop)
		select {
		case <-c.dispatchDone:
		case <-time.After(c.cfg.TxGracePeriod):
			nlog.Warningf("channel %s: dispatch worker did not drain within grace period", c.id)
		}
	}

	if c.dispatcher != nil {
		c.dispatcher.Stop(stopFault)
	}

	var warnings cos.Errs
	g, gctx := errgroup.WithContext(context.Background())

	if c.tx != nil {
		g.Go(func() error {
			graceCtx, cancel := context.WithTimeout(gctx, c.cfg.TxGracePeriod)
			defer cancel()
			done := make(chan struct{})
			go func() { c.tx.Close(); close(done) }()
			select {
			case <-done:
				return nil
			case <-graceCtx.Done():
				warnings.Add(fmt.Errorf("TxPipeline did not drain within grace period"))
				return nil
			}
		})
	}

	if c.conn != nil {
		g.Go(func() error {
			if err := c.conn.Shutdown(); err != nil {
				warnings.Add(fmt.Errorf("transport shutdown: %w", err))
			}
			return nil
		})
	}

	_ = g.Wait() // every step above already reports its own failure into warnings

	if warnings.Cnt() > 0 {
		nlog.Warningf("channel %s: shutdown step(s) did not complete cleanly: %v", c.id, warnings.JoinErr())
	}

	if c.hk != nil {
		c.hk.Stop()
	}

	if c.conn != nil {
		if err := c.conn.Dispose(); err != nil {
			return wire.WrapFault(wire.OtherError, err)
		}
	}
	return nil
}

func (c *Channel) disposeComponents() {
	if c.hk != nil {
		c.hk.Stop()
	}
	if c.tx != nil {
		c.tx.Close()
	}
	if c.conn != nil {
		_ = c.conn.Shutdown()
		_ = c.conn.Dispose()
	}
}

// Listener accepts inbound connections and wraps each as a server-role
// Channel ready for TryConnect.
type Listener struct {
	ln  net.Listener
	cfg Config
}

// ListenTCP opens a listener on addr; each Accept-ed connection is handed
// back as a new server-role Channel (not yet TryConnect-ed).
func ListenTCP(addr string, cfg Config) (*Listener, error) {
	ln, err := transport.ListenTCP(addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, cfg: cfg}, nil
}

// Accept blocks for the next inbound connection and returns a Channel
// wrapping it; call TryConnect on the result to run the login handshake.
func (l *Listener) Accept(ctx context.Context, events Events) (*Channel, error) {
	conn, err := transport.AcceptConn(ctx, l.ln, l.cfg.TLS)
	if err != nil {
		return nil, err
	}
	return NewServer(conn, l.cfg, events), nil
}

func (l *Listener) Close() error { return l.ln.Close() }

// Addr reports the listener's bound address, e.g. for tests binding to
// 127.0.0.1:0 and needing the actual ephemeral port back.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }
