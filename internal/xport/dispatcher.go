package xport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tor-wasm/transportcore/internal/blind"
	"github.com/tor-wasm/transportcore/internal/config"
	"github.com/tor-wasm/transportcore/internal/logging"
	"github.com/tor-wasm/transportcore/internal/metrics"
)

// dialAttempt pairs a transport tag with the closure that performs that
// adapter's dial, so Connect's ordered fallback chain can be built and
// reordered as plain data.
type dialAttempt struct {
	tag Tag
	try func(context.Context) (Stream, error)
}

// Stats is a snapshot of the dispatcher's lifetime counters, the
// connection-statistics extension supplementing §4.1's data model.
type Stats struct {
	Attempts  uint64
	Successes uint64
	Failures  uint64

	PerTransport map[Tag]*TransportStats
}

// TransportStats carries per-adapter attempt/success counts and byte
// totals, mirroring the original's NetworkStats.
type TransportStats struct {
	Attempts  uint64
	Successes uint64
	BytesIn   uint64
	BytesOut  uint64
}

// Dispatcher tries the attempts of §4.1's connect operation in order,
// returning the first stream that reaches Connected.
type Dispatcher struct {
	cfg      config.BridgeConfig
	log      *slog.Logger
	timeouts config.DialTimeouts
	metrics  *metrics.Metrics

	mu           sync.Mutex
	attempts     uint64
	successes    uint64
	failures     uint64
	perTransport map[Tag]*TransportStats
}

// NewDispatcher builds a dispatcher bound to one bridge configuration,
// enforcing config.DefaultDialTimeouts() and reporting to the process-wide
// metrics.Default() instance.
func NewDispatcher(cfg config.BridgeConfig, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		log:      logging.OrDefault(log),
		timeouts: config.DefaultDialTimeouts(),
		metrics:  metrics.Default(),
		perTransport: map[Tag]*TransportStats{
			TagWebSocket: {},
			TagWebTunnel: {},
			TagMeek:      {},
			TagPeer:      {},
		},
	}
}

// WithDialTimeouts overrides the per-adapter handshake budgets, returning
// the dispatcher for chaining.
func (d *Dispatcher) WithDialTimeouts(t config.DialTimeouts) *Dispatcher {
	d.timeouts = t
	return d
}

// timeoutFor returns the configured dial budget for tag.
func (d *Dispatcher) timeoutFor(tag Tag) time.Duration {
	switch tag {
	case TagWebSocket:
		return d.timeouts.WebSocket
	case TagWebTunnel:
		return d.timeouts.WebTunnel
	case TagMeek:
		return d.timeouts.Meek
	case TagPeer:
		return d.timeouts.Peer
	default:
		return 10 * time.Second
	}
}

// Connect runs the ordered attempts of §4.1 and returns the first
// stream to reach Connected, wrapped as a UnifiedStream. If every
// configured attempt fails it returns an error wrapping
// ErrConnectionRefused whose message includes the first adapter's error.
func (d *Dispatcher) Connect(ctx context.Context, req ConnectRequest) (*UnifiedStream, error) {
	var order []dialAttempt
	order = append(order, dialAttempt{TagWebSocket, func(ctx context.Context) (Stream, error) {
		return DialWebSocket(ctx, d.cfg.BridgeURL, req, d.blindedDest(req), d.log)
	}})
	if d.cfg.HasWebTunnel() {
		order = append(order, dialAttempt{TagWebTunnel, func(ctx context.Context) (Stream, error) {
			return DialWebTunnel(ctx, d.cfg.WebTunnelCoverHost, d.cfg.WebTunnelSecretPath, d.log)
		}})
	}
	if d.cfg.HasMeek() {
		order = append(order, dialAttempt{TagMeek, func(ctx context.Context) (Stream, error) {
			return DialMeek(ctx, d.cfg.CDNURL, req, d.log)
		}})
	}
	if d.cfg.HasPeer() {
		order = append(order, dialAttempt{TagPeer, func(ctx context.Context) (Stream, error) {
			return DialPeer(ctx, d.cfg.BrokerURL, d.cfg.BridgeURL, d.cfg.STUNServers, d.log)
		}})
	}

	if d.cfg.PreferPeer && d.cfg.HasPeer() {
		order = reorderPeerFirst(order)
	}

	var firstErr error
	for _, a := range order {
		d.recordAttempt(a.tag)

		attemptCtx, cancel := context.WithTimeout(ctx, d.timeoutFor(a.tag))
		start := time.Now()
		stream, err := a.try(attemptCtx)
		cancel()
		d.metrics.DispatchLatency.WithLabelValues(string(a.tag)).Observe(time.Since(start).Seconds())

		if err == nil {
			d.recordSuccess(a.tag)
			d.log.Info("transport connected", logging.KeyTransport, string(a.tag), logging.KeyAddress, req.Addr())
			return Wrap(stream), nil
		}
		d.log.Debug("transport attempt failed", logging.KeyTransport, string(a.tag), logging.KeyError, err)
		if firstErr == nil {
			firstErr = err
		}
	}

	d.recordFailure()
	if firstErr == nil {
		return nil, fmt.Errorf("%w: no transports configured", ErrConnectionRefused)
	}
	return nil, fmt.Errorf("%w: all transports failed, first error: %v", ErrConnectionRefused, firstErr)
}

// reorderPeerFirst moves the peer-relayed attempt to the front, used
// when BridgeConfig.PreferPeer is set.
func reorderPeerFirst(order []dialAttempt) []dialAttempt {
	out := make([]dialAttempt, 0, len(order))
	var peer *dialAttempt
	for i := range order {
		if order[i].tag == TagPeer {
			peer = &order[i]
			continue
		}
		out = append(out, order[i])
	}
	if peer != nil {
		out = append([]dialAttempt{*peer}, out...)
	}
	return out
}

// blindedDest encrypts req's address under Bridge B's key when the
// bridge config carries one, returning "" otherwise so the direct
// ?addr= form is used. A blinding failure falls back to direct mode
// with a warning rather than aborting the WebSocket attempt: it
// indicates a programming error (a malformed or low-order key), not an
// attacker, and the always-tried transport should still get a chance.
func (d *Dispatcher) blindedDest(req ConnectRequest) string {
	key, ok, err := d.cfg.BridgeBKey()
	if err != nil {
		d.log.Warn("bridge b key invalid, falling back to direct mode", logging.KeyError, err)
		return ""
	}
	if !ok {
		return ""
	}
	dest, err := blind.Encrypt(key, req.Addr())
	if err != nil {
		d.log.Warn("bridge blinding failed, falling back to direct mode", logging.KeyError, err)
		return ""
	}
	return dest
}

// ConnectWithRetry layers bounded linear-backoff retries around Connect.
// Each retry is a fresh dispatch: Connect itself always makes at most
// one attempt chain per call, preserving the "one stream per
// ConnectRequest" invariant.
func (d *Dispatcher) ConnectWithRetry(ctx context.Context, req ConnectRequest, maxRetries int, backoff time.Duration) (*UnifiedStream, error) {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		stream, err := d.Connect(ctx, req)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		if i == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff * time.Duration(i+1)):
		}
	}
	return nil, lastErr
}

func (d *Dispatcher) recordAttempt(tag Tag) {
	d.mu.Lock()
	d.attempts++
	d.perTransport[tag].Attempts++
	d.mu.Unlock()
	d.metrics.DispatchAttempts.WithLabelValues(string(tag)).Inc()
}

func (d *Dispatcher) recordSuccess(tag Tag) {
	d.mu.Lock()
	d.successes++
	d.perTransport[tag].Successes++
	d.mu.Unlock()
	d.metrics.DispatchSuccesses.WithLabelValues(string(tag)).Inc()
}

func (d *Dispatcher) recordFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures++
}

// Stats returns a point-in-time snapshot of the dispatcher's counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make(map[Tag]*TransportStats, len(d.perTransport))
	for k, v := range d.perTransport {
		vv := *v
		cp[k] = &vv
	}
	return Stats{
		Attempts:     d.attempts,
		Successes:    d.successes,
		Failures:     d.failures,
		PerTransport: cp,
	}
}

// AddBytesIn records inbound plaintext bytes attributed to tag, used by
// the CLI to report the TLS overlay's or the unified stream's counters.
func (d *Dispatcher) AddBytesIn(tag Tag, n uint64) {
	d.mu.Lock()
	if ts, ok := d.perTransport[tag]; ok {
		ts.BytesIn += n
	}
	d.mu.Unlock()
	d.metrics.BytesIn.WithLabelValues(string(tag)).Add(float64(n))
}

// AddBytesOut records outbound plaintext bytes attributed to tag.
func (d *Dispatcher) AddBytesOut(tag Tag, n uint64) {
	d.mu.Lock()
	if ts, ok := d.perTransport[tag]; ok {
		ts.BytesOut += n
	}
	d.mu.Unlock()
	d.metrics.BytesOut.WithLabelValues(string(tag)).Add(float64(n))
}
