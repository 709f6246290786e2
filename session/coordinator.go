// Package session implements the connection core's SessionCoordinator
// (spec component H): the login/logout handshake that gates user traffic
// on a Channel.
//
// Grounded on the teacher's early-cluster-membership handshake shape in
// ais/earlystart.go (explicit states, timer-gated transitions driven by a
// single goroutine) for the state-machine-plus-timeout loop; the
// credential itself is a supplemental feature (spec.md's Login message is
// silent on what the credential actually is) recovered as a signed
// golang-jwt/jwt/v4 token, giving spec.md §9's open question about
// interop credential format a concrete default.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/sharprpc/sharprpc-go/cmn/nlog"
	"github.com/sharprpc/sharprpc-go/transport"
	"github.com/sharprpc/sharprpc-go/wire"
)

// State is the coordinator's position in the login/logout handshake.
type State int32

const (
	PendingLogin State = iota
	LoggedIn
	PendingLogout
	LoggedOut
)

func (s State) String() string {
	switch s {
	case PendingLogin:
		return "PendingLogin"
	case LoggedIn:
		return "LoggedIn"
	case PendingLogout:
		return "PendingLogout"
	case LoggedOut:
		return "LoggedOut"
	default:
		return "Unknown"
	}
}

// DefaultLoginTimeout and DefaultLogoutTimeout are the handshake's default
// bounds, per spec.md §4.7/§6 (Config.LoginTimeout/LogoutTimeout).
const (
	DefaultLoginTimeout  = 10 * time.Second
	DefaultLogoutTimeout = 5 * time.Second
)

type loginRequestMsg struct {
	Token string `json:"token" msg:"token"`
}

type loginResponseMsg struct {
	Ok     bool   `json:"ok" msg:"ok"`
	Reason string `json:"reason,omitempty" msg:"reason"`
}

type logoutMsg struct{}

type logoutResponseMsg struct{}

// Sender is the subset of TxPipeline the coordinator needs.
type Sender interface {
	TrySend(ctx context.Context, kind wire.Kind, callID wire.CallID, msg any) error
}

// Verifier validates a presented token and returns the identity it
// asserts (e.g. a subject claim), or an error if it's invalid/expired.
type Verifier func(token string) (subject string, err error)

// Signer produces a token asserting identity, consumed by the client side
// of a handshake.
type Signer func() (token string, err error)

// Coordinator drives one side of the login/logout handshake. A Channel
// owns exactly one, constructed for either the client or server role.
type Coordinator struct {
	tx         Sender
	hk         *transport.Housekeeper
	serializer wire.Serializer

	loginTimeout  time.Duration
	logoutTimeout time.Duration

	sign   Signer
	verify Verifier

	mu        sync.Mutex
	state     State
	fault     *wire.Fault
	loginDone chan struct{}
	logoutDone chan struct{}
	cancelLoginTimer  func()
	cancelLogoutTimer func()

	// OnLoggedIn, when set, is invoked (server side) once a presented
	// credential verifies, with the asserted subject.
	OnLoggedIn func(subject string)
}

// Option configures a Coordinator at construction.
type Option func(*Coordinator)

func WithLoginTimeout(d time.Duration) Option  { return func(c *Coordinator) { c.loginTimeout = d } }
func WithLogoutTimeout(d time.Duration) Option { return func(c *Coordinator) { c.logoutTimeout = d } }
func WithSigner(s Signer) Option               { return func(c *Coordinator) { c.sign = s } }
func WithVerifier(v Verifier) Option           { return func(c *Coordinator) { c.verify = v } }

// New creates a Coordinator in PendingLogin, using hk for timeout
// scheduling.
func New(tx Sender, hk *transport.Housekeeper, serializer wire.Serializer, opts ...Option) *Coordinator {
	c := &Coordinator{
		tx:            tx,
		hk:            hk,
		serializer:    serializer,
		loginTimeout:  DefaultLoginTimeout,
		logoutTimeout: DefaultLogoutTimeout,
		state:         PendingLogin,
		loginDone:     make(chan struct{}),
		logoutDone:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State reports the coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Login runs the client side of the handshake: sends Login, then blocks
// until LoginResponse(ok), login_timeout, or ctx is canceled.
func (c *Coordinator) Login(ctx context.Context) error {
	token := ""
	if c.sign != nil {
		t, err := c.sign()
		if err != nil {
			return wire.NewFault(wire.SecurityError, "%v", err)
		}
		token = t
	}

	c.mu.Lock()
	c.cancelLoginTimer = c.hk.After(c.loginTimeout, func() { c.failLogin(wire.NewFault(wire.LoginTimeout, "login timed out")) })
	c.mu.Unlock()

	if err := c.tx.TrySend(ctx, wire.KindLogin, wire.NewCallID(), loginRequestMsg{Token: token}); err != nil {
		c.failLogin(wire.NewFault(wire.ConnectionShutdown, "%v", err))
	}

	select {
	case <-c.loginDone:
		c.mu.Lock()
		f := c.fault
		c.mu.Unlock()
		if f != nil {
			return f
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnMessage handles the session-layer messages (Login/LoginResponse/
// Logout/LogoutResponse); every other Kind is the caller's concern.
func (c *Coordinator) OnMessage(f transport.Frame) {
	switch f.Kind {
	case wire.KindLogin:
		c.handleLogin(f)
	case wire.KindLoginResponse:
		c.handleLoginResponse(f)
	case wire.KindLogout:
		c.handleLogout(f)
	case wire.KindLogoutResponse:
		c.handleLogoutResponse(f)
	}
}

func (c *Coordinator) handleLogin(f transport.Frame) {
	var req loginRequestMsg
	if err := c.serializer.Unmarshal(f.Payload, &req); err != nil {
		c.respondLogin(f, false, "malformed login request")
		return
	}
	subject, err := "", error(nil)
	if c.verify != nil {
		subject, err = c.verify(req.Token)
	}
	if err != nil {
		nlog.Warningf("session: login rejected: %v", err)
		c.respondLogin(f, false, "invalid credentials")
		return
	}
	c.mu.Lock()
	c.state = LoggedIn
	if c.cancelLoginTimer != nil {
		c.cancelLoginTimer()
	}
	c.mu.Unlock()
	c.respondLogin(f, true, "")
	c.closeLoginDone()
	if c.OnLoggedIn != nil {
		c.OnLoggedIn(subject)
	}
}

func (c *Coordinator) closeLoginDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.loginDone:
		return
	default:
		close(c.loginDone)
	}
}

// AwaitLogin blocks the server side until a peer's Login verifies (or
// login_timeout/ctx cancellation), mirroring Login's client-side wait.
func (c *Coordinator) AwaitLogin(ctx context.Context) error {
	c.mu.Lock()
	c.cancelLoginTimer = c.hk.After(c.loginTimeout, func() { c.failLogin(wire.NewFault(wire.LoginTimeout, "login timed out")) })
	c.mu.Unlock()

	select {
	case <-c.loginDone:
		c.mu.Lock()
		f := c.fault
		c.mu.Unlock()
		if f != nil {
			return f
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) respondLogin(f transport.Frame, ok bool, reason string) {
	_ = c.tx.TrySend(context.Background(), wire.KindLoginResponse, f.CallID, loginResponseMsg{Ok: ok, Reason: reason})
}

func (c *Coordinator) handleLoginResponse(f transport.Frame) {
	var resp loginResponseMsg
	if err := c.serializer.Unmarshal(f.Payload, &resp); err != nil {
		c.failLogin(wire.NewFault(wire.DeserializationError, "%v", err))
		return
	}
	if !resp.Ok {
		c.failLogin(wire.NewFault(wire.InvalidCredentials, "%s", resp.Reason))
		return
	}
	c.mu.Lock()
	c.state = LoggedIn
	if c.cancelLoginTimer != nil {
		c.cancelLoginTimer()
	}
	c.mu.Unlock()
	close(c.loginDone)
}

func (c *Coordinator) failLogin(fault *wire.Fault) {
	c.mu.Lock()
	select {
	case <-c.loginDone:
		c.mu.Unlock()
		return // already resolved
	default:
	}
	c.fault = fault
	close(c.loginDone)
	c.mu.Unlock()
}

// Logout runs the client side of the close handshake: sends Logout, then
// blocks until LogoutResponse, logout_timeout, or ctx is canceled. Per
// spec §4.8, this is skipped entirely by the Channel when the close was
// caused by a transport fault.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.state = PendingLogout
	c.cancelLogoutTimer = c.hk.After(c.logoutTimeout, func() { c.finishLogout(nil) })
	c.mu.Unlock()

	if err := c.tx.TrySend(ctx, wire.KindLogout, wire.NewCallID(), logoutMsg{}); err != nil {
		c.finishLogout(nil)
	}

	select {
	case <-c.logoutDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) handleLogout(f transport.Frame) {
	_ = c.tx.TrySend(context.Background(), wire.KindLogoutResponse, f.CallID, logoutResponseMsg{})
}

func (c *Coordinator) handleLogoutResponse(transport.Frame) {
	c.finishLogout(nil)
}

func (c *Coordinator) finishLogout(_ *wire.Fault) {
	c.mu.Lock()
	select {
	case <-c.logoutDone:
		c.mu.Unlock()
		return
	default:
	}
	if c.cancelLogoutTimer != nil {
		c.cancelLogoutTimer()
	}
	c.state = LoggedOut
	close(c.logoutDone)
	c.mu.Unlock()
}

//
// JWT-backed Signer/Verifier, the supplemental credential format.
//

// NewHMACSigner returns a Signer producing an HS256 token asserting
// subject, valid for ttl.
func NewHMACSigner(secret []byte, subject string, ttl time.Duration) Signer {
	return func() (string, error) {
		claims := jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		}
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		return tok.SignedString(secret)
	}
}

// NewHMACVerifier returns a Verifier checking an HS256 token's signature
// and expiry, returning its subject claim.
func NewHMACVerifier(secret []byte) Verifier {
	return func(token string) (string, error) {
		claims := &jwt.RegisteredClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			return secret, nil
		})
		if err != nil || !parsed.Valid {
			return "", wire.NewFault(wire.InvalidCredentials, "token rejected: %v", err)
		}
		return claims.Subject, nil
	}
}
