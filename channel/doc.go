// Package channel carries encoded envelopes between the client and the
// execution host.
//
// Pipe connects both sides inside one process. NewStream frames envelopes
// as newline-delimited JSON over any byte stream, and Spawn runs the host as
// a child process speaking that framing over its stdin and stdout; when the
// child dies its exit status surfaces as a host failure from Recv.
package channel
