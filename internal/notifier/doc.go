// Package notifier delivers release messages to the configured chat.
//
// Send is synchronous: it waits on a token bucket, calls the transport with a
// per-attempt timeout and retries with jittered exponential backoff. The
// caller learns whether the message went out, so the tracker only marks an
// event posted after a confirmed send.
//
// A small in-memory history of delivered messages backs the status command.
package notifier
