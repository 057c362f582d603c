// Package httpd implements the per-connection HTTP request lifecycle and
// the ordered rule router that sits between the listener and the rooms.
//
// # Connection lifecycle
//
// Every accepted socket is wrapped in a ClientConn whose serve loop runs
// read -> route -> respond -> (keep-alive: read again | close). Two exits
// are special:
//
//   - OPTIONS requests are answered with a CORS preflight response before
//     routing, unconditionally.
//   - A rule may take the socket over for a protocol upgrade; the serve
//     loop then ends and ownership of the connection leaves the package.
//
// # Routing
//
// A Router holds an ordered list of Rules fixed at construction time.
// Dispatch tries each rule in registration order; the first rule that
// reports "handled" has consumed the connection exactly once (response
// written or socket taken). Requests no rule claims are answered with
// 400 Bad Request.
package httpd
