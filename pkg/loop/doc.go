// Package loop provides the serialized work queue and the TCP listener
// that together form the server's event loop.
//
// A Loop executes posted functions one at a time on the goroutine that
// called Run. All state that must never be touched concurrently (the
// server's room table, seat claims) is mutated only from work posted to
// the loop; the FIFO queue is the synchronization discipline.
//
// A Listener owns exactly one listening socket. Bind failures are
// reported at construction time as a *BindError; per-accept failures are
// logged and the listener keeps accepting.
package loop
