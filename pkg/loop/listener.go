package loop

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// BindError reports that a listening socket could not be opened, bound,
// or listened on. It is fatal to construction only; accept-time errors
// never surface as BindError.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("loop: bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Listener owns one listening TCP socket and hands every accepted
// connection to a handler.
type Listener struct {
	ln     net.Listener
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Listen opens a TCP listening socket on addr. A failure to bind is
// returned as a *BindError and leaves no socket open.
func Listen(addr string, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}
	return &Listener{
		ln:     ln,
		logger: logger.With("component", "listener", "addr", ln.Addr().String()),
	}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until Close is called, invoking handle for
// each one. Individual accept failures are logged and accepting
// continues; only closing the listener ends the loop.
func (l *Listener) Serve(handle func(net.Conn)) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Error("accept failed", "error", err)
			continue
		}
		handle(conn)
	}
}

// Close shuts the listening socket. It is idempotent and unblocks a
// concurrent Serve.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.ln.Close()
	})
	return l.closeErr
}
