package room

import "errors"

// Sentinel errors for seat claiming and member I/O.
var (
	// ErrNoSuchSeat is returned when claiming a seat id that was never
	// created in this room.
	ErrNoSuchSeat = errors.New("room: no such seat")

	// ErrSeatClaimed is returned when claiming a seat that already has a
	// live socket attached.
	ErrSeatClaimed = errors.New("room: seat already claimed")

	// ErrRoomClosing is returned when claiming into a room that has been
	// interrupted ahead of deletion.
	ErrRoomClosing = errors.New("room: room is closing")

	// ErrInterrupted unblocks Receive when the member is interrupted by
	// the server.
	ErrInterrupted = errors.New("room: interrupted by server")
)
