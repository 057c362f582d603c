package loop

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestListenBindError(t *testing.T) {
	first, err := Listen("127.0.0.1:0", testLogger())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer first.Close()

	// Second bind to the same port must fail with a BindError.
	_, err = Listen(first.Addr().String(), testLogger())
	if err == nil {
		t.Fatal("expected bind error on occupied port")
	}
	var bindErr *BindError
	if !errors.As(err, &bindErr) {
		t.Fatalf("error is %T, want *BindError", err)
	}
	if bindErr.Addr != first.Addr().String() {
		t.Errorf("BindError.Addr = %q, want %q", bindErr.Addr, first.Addr().String())
	}
}

func TestListenerServeHandsOffConnections(t *testing.T) {
	l, err := Listen("127.0.0.1:0", testLogger())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	serveDone := make(chan struct{})
	go func() {
		l.Serve(func(c net.Conn) { accepted <- c })
		close(serveDone)
	}()

	client, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	select {
	case c := <-accepted:
		c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not handed to the handler")
	}

	l.Close()
	select {
	case <-serveDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestListenerCloseIsIdempotent(t *testing.T) {
	l, err := Listen("127.0.0.1:0", testLogger())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
