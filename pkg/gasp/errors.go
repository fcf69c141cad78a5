package gasp

import "errors"

// Sentinel errors returned by Storage implementations.
var (
	// ErrNotFound is returned by Storage.HydrateGASPNode when the requested
	// outpoint is not known locally.
	ErrNotFound = errors.New("gasp: node not found")

	// ErrUnwanted is returned by Storage.AppendToGraph when the graph the
	// node belongs to is not one the host wants to receive.
	ErrUnwanted = errors.New("gasp: graph unwanted")

	// ErrTooLarge is returned by Storage.AppendToGraph when appending the
	// node would exceed an implementation-defined graph size bound.
	ErrTooLarge = errors.New("gasp: graph too large")

	// ErrAnchorInvalid is returned by Storage.ValidateGraphAnchor when a
	// frontier leaf is neither chain-proven nor pre-trusted.
	ErrAnchorInvalid = errors.New("gasp: graph anchor invalid")

	// ErrTransport wraps any error returned by a Remote call that isn't
	// one of the above -- i.e. something went wrong on the wire.
	ErrTransport = errors.New("gasp: transport error")
)
