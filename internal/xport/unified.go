package xport

import "sync/atomic"

// UnifiedStream is the tagged-enum wrapper of §4.9: every dispatch
// returns one of these regardless of which adapter produced it, so the
// layer above never branches on adapter type. It also counts plaintext
// octets crossing the boundary, the same way tlsoverlay.Overlay does for
// the TLS-wrapped case, so a caller can feed Dispatcher.AddBytesIn/Out
// without a TLS overlay in the loop.
type UnifiedStream struct {
	inner    Stream
	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

// Wrap adapts any adapter Stream into the unified type. Adapters already
// satisfy Stream directly; the wrapper marks the explicit "unified enum"
// boundary the design calls out and adds the byte counters.
func Wrap(inner Stream) *UnifiedStream {
	return &UnifiedStream{inner: inner}
}

func (u *UnifiedStream) Read(p []byte) (int, error) {
	n, err := u.inner.Read(p)
	u.bytesIn.Add(uint64(n))
	return n, err
}

func (u *UnifiedStream) Write(p []byte) (int, error) {
	n, err := u.inner.Write(p)
	u.bytesOut.Add(uint64(n))
	return n, err
}

func (u *UnifiedStream) Flush() error { return u.inner.Flush() }
func (u *UnifiedStream) Close() error { return u.inner.Close() }
func (u *UnifiedStream) Tag() Tag     { return u.inner.Tag() }

// BytesRead and BytesWritten report plaintext octet counts, mirroring
// tlsoverlay.Overlay's accessors of the same name.
func (u *UnifiedStream) BytesRead() uint64    { return u.bytesIn.Load() }
func (u *UnifiedStream) BytesWritten() uint64 { return u.bytesOut.Load() }
