// Package coordinator ties three pieces together: the slave Registry
// (consistent-hash placement), the 2PC Driver (vote collection and
// decision delivery), and the Coordinator itself (the client-facing
// request handler, §4.9). None of the three depends on how a caller
// gets bytes on and off the wire — that's netsvc and wire.
package coordinator
