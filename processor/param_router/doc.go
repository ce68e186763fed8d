// Package paramrouter provides the parameter router of the relay.
//
// The Router reads (sender, command topic, data) envelopes from the command
// channel. Commands whose topic starts with the configured prefix carry a JSON
// array of numbers that replaces the shared multiplier as a whole; an empty
// array resets it to the identity. Other command topics are ignored.
//
// When a MultiplierStore is configured, every installed vector is written to
// it and Restore reinstalls the last one at startup. KVMultiplierStore keeps
// the vector in a NATS KV bucket.
package paramrouter
