// Package protocol defines the envelopes exchanged between the client facade
// and the execution host, and the closed set of host commands.
//
// Wire shapes (JSON, one envelope per frame):
//
//	request:  {"id": 3, "type": "open", "payload": {"path": "a.wallet", "password": "x"}}
//	response: {"id": 3, "type": "open", "result": {...}}
//	failure:  {"id": 3, "type": "open", "error": "Invalid wallet password"}
//	event:    {"type": "event_log", "result": {...}}
//
// The "event_" type prefix is the only thing that separates a broadcast from
// a response. Responses are matched to requests purely by id.
package protocol
