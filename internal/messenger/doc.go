// Package messenger delivers best-effort messages between sibling host
// instances and cooperating external participants.
//
// Delivery is at most once with no ordering across senders; only messages
// from a single sender keep their order. Participants that never send a
// heartbeat are never tracked, so their silence is not treated as closure.
// Participants that stop sending heartbeats are reported through a
// synthesized participant-lost message.
//
// Transports:
//   - MemoryTransport: deterministic in-process fake that can drop and reorder
//   - FSTransport: spool directory watched with fsnotify, for same-origin siblings
//   - WSLink: websocket endpoint for external participants
package messenger
