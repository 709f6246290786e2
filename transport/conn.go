package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Conn is the transport contract every component above it (TxPipeline,
// RxPipeline) programs against: spec's "send(segment) -> future,
// receive(buffer) -> future<bytes_read>, shutdown(), dispose()". TLS
// negotiation and the TCP acceptor are external collaborators per spec;
// this interface is the seam between them and the core.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context, buf []byte) (int, error)
	Shutdown() error
	Dispose() error
}

// tcpConn adapts a net.Conn (plain or tls.Conn) to Conn.
type tcpConn struct {
	nc net.Conn
}

// NewConn wraps an already-established net.Conn (e.g. from tls.Dial or a
// net.Listener's Accept) as a Conn.
func NewConn(nc net.Conn) Conn { return &tcpConn{nc: nc} }

func (c *tcpConn) Send(ctx context.Context, data []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.nc.SetWriteDeadline(dl)
	}
	_, err := c.nc.Write(data)
	return err
}

func (c *tcpConn) Receive(ctx context.Context, buf []byte) (int, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.nc.SetReadDeadline(dl)
	}
	return c.nc.Read(buf)
}

// Shutdown half-closes the write side so the peer observes EOF, without
// releasing OS resources yet - mirrors the "shutdown then dispose" split
// in the channel's close sequence (shut down transport, then RxPipeline
// drains any remaining bytes, then dispose).
func (c *tcpConn) Shutdown() error {
	if tc, ok := c.nc.(interface{ CloseWrite() error }); ok {
		return tc.CloseWrite()
	}
	return nil
}

func (c *tcpConn) Dispose() error { return c.nc.Close() }

// DialTCP dials addr and returns a ready Conn, optionally over TLS when
// tlsConfig is non-nil. A minimal, concrete stand-in for the "TCP
// acceptor" / "secure(socket)->transport" external collaborators spec.md
// leaves opaque - the core never inspects what's inside tlsConfig.
func DialTCP(ctx context.Context, addr string, tlsConfig *tls.Config) (Conn, error) {
	d := net.Dialer{}
	if dl, ok := ctx.Deadline(); ok {
		d.Deadline = dl
	}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}
	if tlsConfig != nil {
		tlsConn := tls.Client(nc, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = nc.Close()
			return nil, err
		}
		nc = tlsConn
	}
	return NewConn(nc), nil
}

// ListenTCP opens a listener on addr; Accept-ed connections are plain
// net.Conn, upgraded to TLS server-side (when tlsConfig is non-nil) by the
// caller via AcceptConn.
func ListenTCP(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// AcceptConn accepts one connection off ln and wraps it as a Conn,
// performing the TLS server handshake first when tlsConfig is non-nil.
func AcceptConn(ctx context.Context, ln net.Listener, tlsConfig *tls.Config) (Conn, error) {
	nc, err := ln.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	if tlsConfig != nil {
		tlsConn := tls.Server(nc, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = nc.Close()
			return nil, err
		}
		nc = tlsConn
	}
	return NewConn(nc), nil
}
