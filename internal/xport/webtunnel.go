package xport

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/tor-wasm/transportcore/internal/logging"
)

// webtunnelClockWindow bounds how far the challenge's embedded
// timestamp may drift from the verifier's clock, matching the server's
// configured tolerance described in the probe-resistance handshake.
const webtunnelClockWindow = 2 * time.Minute

// BuildChallenge computes the WebTunnel probe-resistance token:
// "v1." + hex(HMAC-SHA256(secretPath, unixSeconds))[:16] + "." + unixSeconds.
func BuildChallenge(secretPath string, now time.Time) string {
	ts := strconv.FormatInt(now.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secretPath))
	mac.Write([]byte(ts))
	sum := mac.Sum(nil)
	return "v1." + hex.EncodeToString(sum)[:16] + "." + ts
}

// VerifyChallenge re-derives the expected token for the timestamp
// embedded in challenge and compares it in constant time, rejecting
// tokens whose timestamp has drifted outside the clock window. This is
// the client-side twin of the server check described in the design
// notes, kept here so the probe-resistance property is testable without
// a live WebTunnel server.
func VerifyChallenge(secretPath, challenge string, now time.Time) bool {
	parts := strings.SplitN(challenge, ".", 3)
	if len(parts) != 3 || parts[0] != "v1" {
		return false
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return false
	}
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > webtunnelClockWindow {
		return false
	}
	want := BuildChallenge(secretPath, time.Unix(ts, 0))
	return hmac.Equal([]byte(want), []byte(challenge))
}

// WebTunnelStream disguises the connection as an ordinary HTTPS request
// to a cover site; only a request carrying a valid challenge subprotocol
// reaches the relay instead of the cover response.
type WebTunnelStream struct {
	*WebSocketStream
}

// DialWebTunnel opens the disguised connection at {coverHost}/{secretPath}
// with the probe-resistance challenge carried as the WebSocket
// subprotocol.
func DialWebTunnel(ctx context.Context, coverHost, secretPath string, log *slog.Logger) (*WebTunnelStream, error) {
	log = logging.OrDefault(log)

	challenge := BuildChallenge(secretPath, time.Now())
	target := strings.TrimRight(coverHost, "/") + "/" + strings.TrimLeft(secretPath, "/")

	ctx, cancel := context.WithTimeout(ctx, wsHandshakeBudget)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		Subprotocols: []string{challenge},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: webtunnel dial: %v", ErrTimedOut, err)
		}
		return nil, fmt.Errorf("%w: webtunnel dial: %v", ErrConnectionRefused, err)
	}
	conn.SetReadLimit(wsDefaultReadLimit)

	inner := &WebSocketStream{conn: conn, st: newState(), log: log}
	inner.st.setConnected()
	go inner.readLoop()

	log.Debug("webtunnel connected", logging.KeyAddress, target)
	return &WebTunnelStream{WebSocketStream: inner}, nil
}

func (s *WebTunnelStream) Tag() Tag { return TagWebTunnel }
