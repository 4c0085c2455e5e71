package xport

import (
	"errors"
	"io"
	"testing"
	"time"
)

func TestStateReadBlocksUntilPush(t *testing.T) {
	s := newState()
	done := make(chan struct{})
	var got []byte
	var err error

	go func() {
		buf := make([]byte, 16)
		n, e := s.read(buf)
		got = buf[:n]
		err = e
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	s.push([]byte("hello"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read did not unblock after push")
	}
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("read() = %q, want %q", got, "hello")
	}
}

func TestStateReadReturnsEOFOnCleanClose(t *testing.T) {
	s := newState()
	done := make(chan struct{})
	var n int
	var err error

	go func() {
		buf := make([]byte, 16)
		n, err = s.read(buf)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	s.closeLocal()

	<-done
	if n != 0 || err != io.EOF {
		t.Errorf("read() = (%d, %v), want (0, EOF)", n, err)
	}
}

func TestStateReadReturnsRecordedError(t *testing.T) {
	s := newState()
	sentinel := errors.New("boom")
	s.fail(sentinel)

	buf := make([]byte, 16)
	_, err := s.read(buf)
	if !errors.Is(err, sentinel) {
		t.Errorf("read() err = %v, want %v", err, sentinel)
	}
}

func TestStateCanWriteAfterClose(t *testing.T) {
	s := newState()
	s.closeLocal()
	if err := s.canWrite(); !errors.Is(err, ErrBrokenPipe) {
		t.Errorf("canWrite() = %v, want ErrBrokenPipe", err)
	}
}

func TestStatePhaseTransitions(t *testing.T) {
	s := newState()
	if s.getPhase() != PhaseConnecting {
		t.Fatalf("initial phase = %v, want Connecting", s.getPhase())
	}
	s.setConnected()
	if s.getPhase() != PhaseConnected {
		t.Fatalf("phase after setConnected = %v, want Connected", s.getPhase())
	}
	s.closeLocal()
	if s.getPhase() != PhaseClosed {
		t.Fatalf("phase after closeLocal = %v, want Closed", s.getPhase())
	}
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		PhaseConnecting: "CONNECTING",
		PhaseConnected:  "CONNECTED",
		PhaseClosing:    "CLOSING",
		PhaseClosed:     "CLOSED",
		Phase(99):       "UNKNOWN",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", phase, got, want)
		}
	}
}
