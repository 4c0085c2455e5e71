package xport

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/http2"
)

func meekEchoServer(t *testing.T) (*httptest.Server, *sync.Map) {
	t.Helper()
	seen := &sync.Map{}
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get("X-Session-Id")
		if sessionID == "" {
			http.Error(w, "missing session id", http.StatusBadRequest)
			return
		}
		if r.Header.Get("X-Target") == "" {
			http.Error(w, "missing target", http.StatusBadRequest)
			return
		}
		seen.Store(sessionID, true)
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(body)
	}))
	srv.EnableHTTP2 = true
	srv.StartTLS()
	return srv, seen
}

func TestMeekExchange_EstablishesSession(t *testing.T) {
	srv, seen := meekEchoServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := &MeekStream{
		cdnURL: srv.URL,
		target: "relay.example:9001",
		st:     newState(),
		stopCh: make(chan struct{}),
		client: &http.Client{
			Transport: &http2.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
			Timeout:   meekHandshakeBudget,
		},
	}
	id, err := newSessionID()
	if err != nil {
		t.Fatalf("newSessionID: %v", err)
	}
	m.sessionID = id

	if err := m.exchange(ctx, nil); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	m.st.setConnected()
	defer m.Close()

	if m.Tag() != TagMeek {
		t.Errorf("Tag() = %v, want %v", m.Tag(), TagMeek)
	}

	count := 0
	seen.Range(func(_, _ any) bool { count++; return true })
	if count != 1 {
		t.Errorf("observed %d distinct sessions, want 1", count)
	}
}

func TestDialMeek_RejectsUnreachableCDN(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := DialMeek(ctx, "https://127.0.0.1:1", ConnectRequest{Host: "relay.example", Port: 9001}, nil)
	if err == nil {
		t.Fatal("expected error dialing an unreachable CDN")
	}
}
