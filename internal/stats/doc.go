// Package stats publishes dispatch telemetry over websocket and accepts
// remote console commands.
//
// A Feed observes the event registry. Each dispatch becomes a JSON message:
//
//	{"type":"dispatch","event":"client_command","args":{"client_id":3,"value":"say hi"},"decision":"allow","ran":2}
//
// Messages pass through a bounded Pool to per-client buffers. Both drop
// rather than block, so the server thread never waits on a client.
//
// Clients send commands on the same socket:
//
//	{"type":"command","password":"secret","command":"map qzdm6"}
//
// The password is checked against a bcrypt hash and accepted commands are
// queued for the next server frame.
package stats
