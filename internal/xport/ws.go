package xport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/tor-wasm/transportcore/internal/logging"
)

const (
	wsDefaultReadLimit = 16 * 1024 * 1024
	wsHandshakeBudget  = 10 * time.Second
)

// WebSocketStream is the direct WebSocket adapter of §4.2: a single
// binary-framed connection to a bridge URL carrying either a clear-text
// target (?addr=) or a blinded blob (?dest=).
type WebSocketStream struct {
	conn *websocket.Conn
	st   *state
	log  *slog.Logger

	writeMu sync.Mutex
}

// DialWebSocket forms the bridge URL from req (or a pre-blinded
// destination blob when dest is non-empty) and opens the WebSocket in
// binary mode, blocking until the connection is open or the handshake
// budget elapses.
func DialWebSocket(ctx context.Context, bridgeURL string, req ConnectRequest, dest string, log *slog.Logger) (*WebSocketStream, error) {
	log = logging.OrDefault(log)

	u, err := url.Parse(bridgeURL)
	if err != nil {
		return nil, fmt.Errorf("%w: bridge url: %v", ErrInvalidData, err)
	}
	q := u.Query()
	if dest != "" {
		q.Set("dest", dest)
	} else {
		q.Set("addr", req.Addr())
	}
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, wsHandshakeBudget)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: websocket dial: %v", ErrTimedOut, err)
		}
		return nil, fmt.Errorf("%w: websocket dial: %v", ErrConnectionRefused, err)
	}
	conn.SetReadLimit(wsDefaultReadLimit)

	s := &WebSocketStream{
		conn: conn,
		st:   newState(),
		log:  log,
	}
	s.st.setConnected()
	go s.readLoop()

	log.Debug("websocket connected", logging.KeyAddress, req.Addr())
	return s, nil
}

func (s *WebSocketStream) readLoop() {
	for {
		typ, data, err := s.conn.Read(context.Background())
		if err != nil {
			s.st.fail(fmt.Errorf("%w: %v", ErrConnectionReset, err))
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		s.st.push(data)
	}
}

func (s *WebSocketStream) Read(p []byte) (int, error) {
	return s.st.read(p)
}

func (s *WebSocketStream) Write(p []byte) (int, error) {
	if err := s.st.canWrite(); err != nil {
		return 0, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(context.Background(), websocket.MessageBinary, p); err != nil {
		s.st.fail(fmt.Errorf("%w: %v", ErrConnectionReset, err))
		return 0, s.st.getErr()
	}
	return len(p), nil
}

// Flush is a no-op: each Write sends a complete binary frame, so there
// is no outbound batching to drain.
func (s *WebSocketStream) Flush() error {
	return nil
}

func (s *WebSocketStream) Close() error {
	s.st.closeLocal()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *WebSocketStream) Tag() Tag { return TagWebSocket }
