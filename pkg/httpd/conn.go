package httpd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
)

// ServerName is sent in the Server header of every response.
const ServerName = "parlor"

// ErrHijacked is returned by Hijack when the connection was already
// taken over.
var ErrHijacked = errors.New("httpd: connection already hijacked")

// ClientConn owns one accepted socket that has not yet been promoted to
// room membership. It runs the request/response/upgrade state machine
// and is consumed either by closing or by a successful upgrade handoff.
type ClientConn struct {
	conn   net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
	router *Router
	logger *slog.Logger

	hijacked bool
	closing  bool
}

// ServeConn runs the request lifecycle for conn until the peer
// disconnects, an error occurs, or a rule takes the socket over. It
// blocks; callers run it on the connection's own goroutine.
func ServeConn(conn net.Conn, router *Router, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &ClientConn{
		conn:   conn,
		br:     bufio.NewReader(conn),
		bw:     bufio.NewWriter(conn),
		router: router,
		logger: logger.With("component", "httpd", "remote", conn.RemoteAddr().String()),
	}
	c.serve()
}

func (c *ClientConn) serve() {
	defer func() {
		if !c.hijacked {
			c.conn.Close()
		}
	}()

	for {
		req, err := http.ReadRequest(c.br)
		if err != nil {
			if isPeerClose(err) {
				// Clean close from the peer: shut our write side and end
				// without error.
				c.shutdownWrite()
				return
			}
			c.logger.Error("read failed", "error", err)
			return
		}

		if req.Method == http.MethodOptions {
			// CORS preflight is answered before the router ever sees the
			// request.
			if err := c.WriteResponse(req, preflightResponse()); err != nil {
				return
			}
		} else {
			c.router.Handle(req, c)
			if c.hijacked {
				return
			}
		}

		// Discard any unread body so the next read starts at a request
		// boundary.
		io.Copy(io.Discard, req.Body)
		req.Body.Close()

		if c.closing {
			c.shutdownWrite()
			return
		}
	}
}

// WriteResponse sends res for req. Every response carries the Server
// identification header and Access-Control-Allow-Origin: *; the body is
// closed after writing. When the exchange demands it (HTTP/1.0, an
// explicit Connection: close, or a write failure) the connection is
// marked for closing and the serve loop ends after this response.
func (c *ClientConn) WriteResponse(req *http.Request, res *Response) error {
	if c.hijacked {
		panic("httpd: response written after hijack")
	}

	res.Header.Set("Server", ServerName)
	res.Header.Set("Access-Control-Allow-Origin", "*")

	body := res.Body
	if body == nil {
		body = http.NoBody
	}
	hr := &http.Response{
		StatusCode:    res.Status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Request:       req,
		Header:        res.Header,
		Body:          body,
		ContentLength: res.ContentLength,
		Close:         req.Close,
	}

	err := hr.Write(c.bw)
	if err == nil {
		err = c.bw.Flush()
	}
	if res.Body != nil {
		res.Body.Close()
	}
	if err != nil {
		c.logger.Error("write failed", "error", err)
		c.closing = true
		return err
	}

	c.router.observeStatus(res.Status)
	c.logger.Debug("response sent",
		"status", res.Status,
		"method", req.Method,
		"target", req.URL.RequestURI(),
		"bytes", res.ContentLength)

	if hr.Close {
		c.closing = true
	}
	return nil
}

// Hijack yields the raw connection and its buffered reader/writer for a
// protocol upgrade and consumes the ClientConn: the serve loop ends and
// no further responses may be written.
func (c *ClientConn) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if c.hijacked {
		return nil, nil, ErrHijacked
	}
	c.hijacked = true
	return c.conn, bufio.NewReadWriter(c.br, c.bw), nil
}

// UpgradeWriter returns an http.ResponseWriter view of the connection.
// It implements http.Hijacker, which lets net/http-style upgraders
// (gorilla/websocket's Upgrader in particular) negotiate directly on the
// raw socket. Writing through it on a non-hijack path marks the
// connection for closing, since the bytes bypass the keep-alive
// bookkeeping of WriteResponse.
func (c *ClientConn) UpgradeWriter() http.ResponseWriter {
	return &upgradeWriter{c: c, header: make(http.Header)}
}

func (c *ClientConn) shutdownWrite() {
	if tc, ok := c.conn.(*net.TCPConn); ok {
		tc.CloseWrite()
	}
}

// isPeerClose recognizes a clean close between requests. A peer that
// dies mid-request surfaces as io.ErrUnexpectedEOF and takes the error
// path instead.
func isPeerClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func preflightResponse() *Response {
	res := Empty(http.StatusNoContent)
	res.Header.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	res.Header.Set("Access-Control-Allow-Headers", "Content-Type")
	res.Header.Set("Access-Control-Max-Age", "86400")
	return res
}

// upgradeWriter adapts a ClientConn to http.ResponseWriter for the
// upgrade handshake. The happy path never writes through it: the
// upgrader hijacks and speaks on the socket itself. The writer paths
// exist for the upgrader's error responses.
type upgradeWriter struct {
	c           *ClientConn
	header      http.Header
	wroteHeader bool
}

func (w *upgradeWriter) Header() http.Header {
	return w.header
}

func (w *upgradeWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.c.closing = true

	w.header.Set("Server", ServerName)
	w.header.Set("Access-Control-Allow-Origin", "*")
	// Bytes written through this path are not length-framed, so the
	// connection must not linger in keep-alive.
	w.header.Set("Connection", "close")

	fmt.Fprintf(w.c.bw, "HTTP/1.1 %03d %s\r\n", status, http.StatusText(status))
	w.header.Write(w.c.bw)
	io.WriteString(w.c.bw, "\r\n")
	w.c.bw.Flush()
}

func (w *upgradeWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.c.bw.Write(b)
	if err == nil {
		err = w.c.bw.Flush()
	}
	return n, err
}

func (w *upgradeWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.c.Hijack()
}
