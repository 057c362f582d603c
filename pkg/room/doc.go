// Package room implements one isolated game instance's network
// membership: a fixed set of seats, a dynamic set of anonymous
// spectators, message fan-out to all of them, and the dedicated
// goroutine that runs the game itself.
//
// # Seats and spectators
//
// A Member with a nonzero agent id is a seat: it is created when the
// room is built and lives for the room's entire lifetime, whether or not
// a socket is currently attached. Claiming a seat attaches a live
// WebSocket to it, exclusively; after a disconnect the seat reverts to
// FREE and can be claimed again. A Member with agent id 0 is an
// anonymous spectator, created and destroyed per connection.
//
// # Concurrency
//
// Membership collections are guarded by the room's mutex so that
// Broadcast and Interrupt are safe to call from the game goroutine at
// any time, including during server shutdown. Seat claims are expected
// to be serialized externally (the server performs them on its event
// loop), which is what makes "exactly one winner" observable for
// concurrent claim attempts.
//
// # Lifecycle
//
// Teardown is a two-phase protocol: Interrupt signals the game context
// and every member, then Close joins the game goroutine. Calling Close
// without a prior Interrupt blocks until the game ends on its own.
package room
