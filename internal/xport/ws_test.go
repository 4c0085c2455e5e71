package xport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if err := conn.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketStream_RoundtripAndTag(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := DialWebSocket(ctx, wsURL, ConnectRequest{Host: "relay.example", Port: 9001}, "", nil)
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer stream.Close()

	if stream.Tag() != TagWebSocket {
		t.Errorf("Tag() = %v, want %v", stream.Tag(), TagWebSocket)
	}

	if _, err := stream.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 16)
	n, err := stream.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("Read() = %q, want %q", buf[:n], "ping")
	}
}

func TestWebSocketStream_WriteAfterCloseFails(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := DialWebSocket(ctx, wsURL, ConnectRequest{Host: "relay.example", Port: 9001}, "", nil)
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	stream.Close()

	if _, err := stream.Write([]byte("x")); err == nil {
		t.Error("expected write after close to fail")
	}
}

func TestConnectRequest_Addr(t *testing.T) {
	req := ConnectRequest{Host: "192.0.2.1", Port: 9001}
	if got, want := req.Addr(), "192.0.2.1:9001"; got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
