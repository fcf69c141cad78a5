package gasp

import (
	"fmt"

	"github.com/bsv-blockchain/go-sdk/transaction"
)

// InitialRequest is the first message of a sync session: A -> B.
type InitialRequest struct {
	Version int    `json:"version"`
	Since   uint32 `json:"since"`
}

// InitialResponse is B's reply to InitialRequest: the tips B knows,
// filtered by the requested Since, plus B's own clock for the next session.
type InitialResponse struct {
	UTXOList []*transaction.Outpoint `json:"UTXOList"`
	Since    uint32                  `json:"since"`
}

// InitialReply carries the tips the initiator has that the responder
// didn't list. Only sent in bidirectional mode.
type InitialReply struct {
	UTXOList []*transaction.Outpoint `json:"UTXOList"`
}

// Input is the ancestor hint carried on a Node when metadata was requested:
// it lets the recipient decide whether it needs a fresher copy of that ancestor.
type Input struct {
	Hash string `json:"hash"`
}

// Node is an ancestor-or-tip record. GraphID identifies which graph this
// node belongs to; RawTx is opaque hex-encoded transaction bytes.
type Node struct {
	GraphID        *transaction.Outpoint `json:"graphID"`
	RawTx          string                `json:"rawTx"`
	OutputIndex    uint32                `json:"outputIndex"`
	Proof          *string               `json:"proof,omitempty"`
	TxMetadata     string                `json:"txMetadata,omitempty"`
	OutputMetadata string                `json:"outputMetadata,omitempty"`
	Inputs         map[string]*Input     `json:"inputs,omitempty"`
	AncillaryBeef  []byte                `json:"ancillaryBeef,omitempty"`
}

// NodeResponseData is the per-ancestor directive returned alongside a
// requested outpoint: whether the follow-up fetch should include metadata.
type NodeResponseData struct {
	Metadata bool `json:"metadata"`
}

// NodeResponse is what a SubmitNode call returns: the set of ancestor
// outpoints (36-byte form) the recipient still needs. Nil/empty means
// nothing further is needed for this branch.
type NodeResponse struct {
	RequestedInputs map[string]*NodeResponseData `json:"requestedInputs,omitempty"`
}

// VersionMismatchError is returned by GetInitialResponse when the caller's
// protocol version disagrees with ours. Sync returns it to the caller and
// stops the session.
type VersionMismatchError struct {
	CurrentVersion int
	ForeignVersion int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("GASP version mismatch: current=%d, foreign=%d", e.CurrentVersion, e.ForeignVersion)
}

func newVersionMismatchError(current, foreign int) *VersionMismatchError {
	return &VersionMismatchError{CurrentVersion: current, ForeignVersion: foreign}
}

// GraphError wraps an error encountered while processing a graph,
// preserving the offending graphID so the caller can discard it without
// relying on ambient state.
type GraphError struct {
	GraphID *transaction.Outpoint
	Err     error
}

func (e *GraphError) Error() string {
	if e.GraphID == nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("graph %s: %v", e.GraphID.String(), e.Err)
}

func (e *GraphError) Unwrap() error { return e.Err }

func newGraphError(graphID *transaction.Outpoint, err error) *GraphError {
	if err == nil {
		return nil
	}
	return &GraphError{GraphID: graphID, Err: err}
}
