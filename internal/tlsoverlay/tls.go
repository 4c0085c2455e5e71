// Package tlsoverlay wraps any transport stream in a TLS client that
// trusts the relay's certificate unconditionally, because the
// anonymity protocol layered above carries its own end-to-end identity
// binding. The TLS layer here exists only to keep the wire format
// compatible with relays that expect TLS.
package tlsoverlay

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/tor-wasm/transportcore/internal/xport"
)

// neutralServerName is used as SNI when the caller supplies none; the
// relay accepts it as a nickname rather than relying on it for identity.
const neutralServerName = "www.example.com"

// Overlay is a TLS client stream layered over an xport.Stream.
type Overlay struct {
	conn     *tls.Conn
	inner    *streamConn
	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

// Dial performs the TLS handshake over inner. serverName selects SNI
// when non-empty; otherwise the neutral fallback is used. The handshake
// runs to completion or returns ErrConnectionReset if inner reaches
// end-of-stream mid-handshake, ErrTimedOut if handshakeTimeout (when
// positive) elapses first, in which case inner is closed.
func Dial(inner xport.Stream, serverName string, handshakeTimeout time.Duration) (*Overlay, error) {
	sc := &streamConn{inner: inner}

	name := serverName
	if name == "" {
		name = neutralServerName
	}

	// The permissive verifier: InsecureSkipVerify disables chain
	// validation entirely, and VerifyPeerCertificate/VerifyConnection
	// are left nil so nothing re-imposes it. Any certificate, any
	// chain, any time is accepted; the anonymity protocol above
	// authenticates the relay on its own.
	cfg := &tls.Config{
		ServerName:         name,
		InsecureSkipVerify: true,
	}

	conn := tls.Client(sc, cfg)
	ctx := context.Background()
	if handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, handshakeTimeout)
		defer cancel()
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: tls handshake: %v", xport.ErrTimedOut, err)
		}
		return nil, fmt.Errorf("%w: tls handshake: %v", xport.ErrConnectionReset, err)
	}

	return &Overlay{conn: conn, inner: sc}, nil
}

func (o *Overlay) Read(p []byte) (int, error) {
	n, err := o.conn.Read(p)
	o.bytesIn.Add(uint64(n))
	return n, err
}

func (o *Overlay) Write(p []byte) (int, error) {
	n, err := o.conn.Write(p)
	o.bytesOut.Add(uint64(n))
	return n, err
}

// Flush has nothing to drain beyond what Write already sent as TLS
// records; it simply flushes the inner transport.
func (o *Overlay) Flush() error {
	return o.inner.inner.Flush()
}

// Close sends TLS close-notify, then closes the inner transport.
func (o *Overlay) Close() error {
	_ = o.conn.Close()
	return o.inner.inner.Close()
}

func (o *Overlay) Tag() xport.Tag { return o.inner.inner.Tag() }

// BytesRead and BytesWritten report plaintext octet counts.
func (o *Overlay) BytesRead() uint64    { return o.bytesIn.Load() }
func (o *Overlay) BytesWritten() uint64 { return o.bytesOut.Load() }

// streamConn adapts an xport.Stream to net.Conn, the shape crypto/tls
// requires. Deadlines are accepted but not enforced against the
// underlying stream, whose own handshake budgets already bound blocking
// reads.
type streamConn struct {
	inner xport.Stream
}

func (s *streamConn) Read(p []byte) (int, error) {
	return s.inner.Read(p)
}

func (s *streamConn) Write(p []byte) (int, error) {
	return s.inner.Write(p)
}

func (s *streamConn) Close() error { return s.inner.Close() }

func (s *streamConn) LocalAddr() net.Addr  { return streamAddr{} }
func (s *streamConn) RemoteAddr() net.Addr { return streamAddr{} }

func (s *streamConn) SetDeadline(t time.Time) error      { return nil }
func (s *streamConn) SetReadDeadline(t time.Time) error  { return nil }
func (s *streamConn) SetWriteDeadline(t time.Time) error { return nil }

type streamAddr struct{}

func (streamAddr) Network() string { return "xport" }
func (streamAddr) String() string  { return "xport-stream" }
