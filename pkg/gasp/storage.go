package gasp

import (
	"context"

	"github.com/bsv-blockchain/go-sdk/transaction"
)

// Storage is the local collaborator: it owns the authoritative known-UTXO
// set and the transient per-graph scratch space used while a sync session
// is in flight.
//
// Implementations must make AppendToGraph idempotent per
// (graphID, txid(node.RawTx), node.OutputIndex): a second call for an
// already-appended node extends the temporary graph in place rather than
// erroring.
type Storage interface {
	// FindKnownUTXOs returns every known tip with a timestamp greater than
	// since, plus every tip with no timestamp at all (unconfirmed UTXOs are
	// always returned regardless of since).
	FindKnownUTXOs(ctx context.Context, since uint32) ([]*transaction.Outpoint, error)

	// HydrateGASPNode materializes the Node for outpoint within graphID.
	// metadata controls whether TxMetadata/OutputMetadata/Inputs are
	// populated. Returns ErrNotFound if the node isn't known.
	HydrateGASPNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*Node, error)

	// FindNeededInputs inspects node and reports which of its ancestor
	// inputs the host still needs, if any. A nil response (or one with an
	// empty RequestedInputs map) means nothing further is needed.
	FindNeededInputs(ctx context.Context, node *Node) (*NodeResponse, error)

	// AppendToGraph adds node to the temporary graph identified by
	// node.GraphID. spentBy is the 36-byte-form outpoint of the
	// already-appended node that consumes this one as an input. It is nil
	// for the tip (root) of the graph, and also for every node received
	// through Engine.SubmitNode, which has no consumer to report; linking
	// such a node is left to the implementation (memstore scans the graph
	// for the node that spends it).
	AppendToGraph(ctx context.Context, node *Node, spentBy *transaction.Outpoint) error

	// ValidateGraphAnchor checks that every frontier leaf of the temporary
	// graph identified by graphID is either chain-proven or pre-trusted.
	ValidateGraphAnchor(ctx context.Context, graphID *transaction.Outpoint) error

	// DiscardGraph removes every node of the temporary graph. Must succeed
	// even if the graph doesn't exist (best-effort cleanup).
	DiscardGraph(ctx context.Context, graphID *transaction.Outpoint) error

	// FinalizeGraph atomically promotes every temporary node of graphID
	// into the known set. Only called after a successful
	// ValidateGraphAnchor with no intervening failure on that graph.
	FinalizeGraph(ctx context.Context, graphID *transaction.Outpoint) error
}
