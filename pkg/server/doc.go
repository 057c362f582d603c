// Package server ties the event loop, the rule router, and the room
// table together and exposes the room lifecycle over HTTP.
//
// # Endpoints
//
//   - GET  /heartbeat           liveness probe, 204
//   - POST /room                create a room with an auto-assigned id, 204
//   - GET  /room/               plain-text listing of live room ids
//   - DELETE /room/{id}         schedule a room's deletion, 204 (404 if unknown)
//   - GET  /{roomId}/{agentId}  WebSocket upgrade into room membership;
//     agentId 0 joins as an anonymous spectator, any other value claims
//     that seat (404 unknown room, 400 unknown or claimed seat)
//   - GET  {staticPrefix}/...   static files, when a document root is
//     configured
//
// # Concurrency
//
// The room table is mutated only from work posted to the event loop;
// request handlers running on connection goroutines marshal their
// critical sections onto the loop and wait for the reply. That posting
// discipline is also what serializes seat claims. Room deletion posts
// two work items in strict order, interrupt then erase, so the erase
// (which joins the game goroutine) can never race an in-flight handler
// holding a reference into the table.
package server
