package gasp

import (
	"context"

	"github.com/bsv-blockchain/go-sdk/transaction"
)

// Remote is the symmetric peer endpoint: it exposes the same four
// operations an Engine exposes to the outside world, so that a Remote
// implementation may be a network transport (see httpremote) or, in
// tests, another Engine instance in the same process.
type Remote interface {
	GetInitialResponse(ctx context.Context, req *InitialRequest) (*InitialResponse, error)
	GetInitialReply(ctx context.Context, resp *InitialResponse) (*InitialReply, error)
	RequestNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*Node, error)
	SubmitNode(ctx context.Context, node *Node) (*NodeResponse, error)
}
