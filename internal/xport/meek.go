package xport

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/tor-wasm/transportcore/internal/logging"
)

const (
	meekExchangePeriod  = 100 * time.Millisecond
	meekHandshakeBudget = 10 * time.Second
)

// MeekStream tunnels a byte stream through short-lived HTTPS POST
// exchanges to a CDN, indistinguishable from ordinary web traffic. Each
// exchange is an independent request; the HTTP/2 client may reuse a
// pooled connection between them.
type MeekStream struct {
	client    *http.Client
	cdnURL    string
	sessionID string
	target    string

	st *state

	limiter *rate.Limiter

	outMu sync.Mutex
	out   bytes.Buffer

	stopOnce sync.Once
	stopCh   chan struct{}

	log *slog.Logger
}

// DialMeek generates a session id, performs the first exchange
// synchronously (it may carry zero payload), and starts the background
// periodic exchange loop on success.
func DialMeek(ctx context.Context, cdnURL string, req ConnectRequest, log *slog.Logger) (*MeekStream, error) {
	log = logging.OrDefault(log)

	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("%w: session id: %v", ErrInvalidData, err)
	}

	client := &http.Client{
		Transport: &http2.Transport{},
		Timeout:   meekHandshakeBudget,
	}

	m := &MeekStream{
		client:    client,
		cdnURL:    cdnURL,
		sessionID: id,
		target:    req.Addr(),
		st:        newState(),
		limiter:   rate.NewLimiter(rate.Every(meekExchangePeriod), 1),
		stopCh:    make(chan struct{}),
		log:       log,
	}

	ctx, cancel := context.WithTimeout(ctx, meekHandshakeBudget)
	defer cancel()
	if err := m.exchange(ctx, nil); err != nil {
		return nil, err
	}
	m.st.setConnected()

	go m.exchangeLoop()

	log.Debug("meek session established", logging.KeySessionID, id, logging.KeyAddress, m.target)
	return m, nil
}

func newSessionID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// exchange performs one POST carrying body (nil for an empty payload)
// and appends the response body to the inbound queue.
func (m *MeekStream) exchange(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cdnURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: meek request: %v", ErrInvalidData, err)
	}
	req.Header.Set("X-Session-Id", m.sessionID)
	req.Header.Set("X-Target", m.target)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: meek exchange: %v", ErrTimedOut, err)
		}
		return fmt.Errorf("%w: meek exchange: %v", ErrConnectionRefused, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: meek response body: %v", ErrConnectionReset, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: meek exchange status %d", ErrConnectionRefused, resp.StatusCode)
	}
	m.st.push(data)
	return nil
}

// exchangeLoop issues one POST per tick carrying whatever outbound
// bytes are queued. A failed exchange ends the session.
func (m *MeekStream) exchangeLoop() {
	for {
		if err := m.limiter.Wait(context.Background()); err != nil {
			return
		}
		select {
		case <-m.stopCh:
			return
		default:
		}

		m.outMu.Lock()
		payload := append([]byte(nil), m.out.Bytes()...)
		m.out.Reset()
		m.outMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), meekHandshakeBudget)
		err := m.exchange(ctx, payload)
		cancel()
		if err != nil {
			m.st.fail(err)
			return
		}
	}
}

func (m *MeekStream) Read(p []byte) (int, error) {
	return m.st.read(p)
}

// Write queues bytes for the next periodic exchange; it never forces an
// immediate POST.
func (m *MeekStream) Write(p []byte) (int, error) {
	if err := m.st.canWrite(); err != nil {
		return 0, err
	}
	m.outMu.Lock()
	m.out.Write(p)
	m.outMu.Unlock()
	return len(p), nil
}

// Flush is a no-op: draining the outbound queue is the periodic tick's
// job, not the caller's.
func (m *MeekStream) Flush() error {
	return nil
}

func (m *MeekStream) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.st.closeLocal()
	return nil
}

func (m *MeekStream) Tag() Tag { return TagMeek }
