package gasp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bsv-blockchain/go-sdk/transaction"
)

// EngineParams configures a new Engine. Storage and Remote are the two
// collaborators an Engine drives; Remote may be set after construction
// (see SetRemote) to support the two-phase wiring tests need when two
// engines hold each other as peers.
type EngineParams struct {
	Storage         Storage
	Remote          Remote
	LastInteraction uint32
	LogPrefix       string
	Unidirectional  bool
	// Version defaults to 1 when zero.
	Version int
	// Concurrency bounds fan-out across independent graphs and sibling
	// ancestor fetches. Defaults to 8 when <= 0.
	Concurrency int
}

// Engine drives one side of a GASP sync session: it runs the handshake,
// walks incoming graphs recursively to fetch needed ancestors, and
// pushes outgoing graphs.
type Engine struct {
	Storage         Storage
	Remote          Remote
	LastInteraction uint32
	LogPrefix       string
	Unidirectional  bool
	Version         int

	limiter chan struct{}
}

// NewEngine constructs an Engine from the given parameters.
func NewEngine(params EngineParams) *Engine {
	version := params.Version
	if version == 0 {
		version = 1
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Engine{
		Storage:         params.Storage,
		Remote:          params.Remote,
		LastInteraction: params.LastInteraction,
		LogPrefix:       params.LogPrefix,
		Unidirectional:  params.Unidirectional,
		Version:         version,
		limiter:         make(chan struct{}, concurrency),
	}
}

// SetRemote late-binds the peer endpoint. Needed when two engines must
// hold each other as Remote: build A with a nil Remote, build B with A as
// its Remote, then call A.SetRemote(B).
func (e *Engine) SetRemote(remote Remote) { e.Remote = remote }

func (e *Engine) logf(level slog.Level, format string, args ...any) {
	slog.Log(context.Background(), level, e.LogPrefix+fmt.Sprintf(format, args...))
}

// GetInitialResponse handles an incoming InitialRequest. It fails with
// *VersionMismatchError if req.Version disagrees with e.Version;
// otherwise it makes no Storage mutation and returns the tips known since
// req.Since plus our own clock for the peer's next session.
func (e *Engine) GetInitialResponse(ctx context.Context, req *InitialRequest) (*InitialResponse, error) {
	e.logf(slog.LevelInfo, "received initial request: version=%d since=%d", req.Version, req.Since)
	if req.Version != e.Version {
		e.logf(slog.LevelError, "version mismatch: current=%d foreign=%d", e.Version, req.Version)
		return nil, newVersionMismatchError(e.Version, req.Version)
	}
	utxos, err := e.Storage.FindKnownUTXOs(ctx, req.Since)
	if err != nil {
		return nil, err
	}
	return &InitialResponse{UTXOList: utxos, Since: e.LastInteraction}, nil
}

// GetInitialReply computes the set-difference of our known tips against
// what resp.UTXOList already lists. Not invoked by the initiator in
// unidirectional mode.
func (e *Engine) GetInitialReply(ctx context.Context, resp *InitialResponse) (*InitialReply, error) {
	mine, err := e.Storage.FindKnownUTXOs(ctx, resp.Since)
	if err != nil {
		return nil, err
	}
	extra := make([]*transaction.Outpoint, 0, len(mine))
	for _, outpoint := range mine {
		if !slices.ContainsFunc(resp.UTXOList, func(o *transaction.Outpoint) bool { return o.Equal(outpoint) }) {
			extra = append(extra, outpoint)
		}
	}
	return &InitialReply{UTXOList: extra}, nil
}

// RequestNode delegates to Storage.HydrateGASPNode.
func (e *Engine) RequestNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*Node, error) {
	node, err := e.Storage.HydrateGASPNode(ctx, graphID, outpoint, metadata)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, ErrNotFound
	}
	return node, nil
}

// SubmitNode is the entry point by which a peer pushes a node to us. It
// runs incoming-node processing for exactly this node (spentBy is always
// nil here -- the recursive descent for the peer's own graph is driven
// from their side) and reports back which further ancestors we need.
func (e *Engine) SubmitNode(ctx context.Context, node *Node) (*NodeResponse, error) {
	if err := e.Storage.AppendToGraph(ctx, node, nil); err != nil {
		return nil, err
	}
	needed, err := e.Storage.FindNeededInputs(ctx, node)
	if err != nil {
		return nil, err
	}
	if needed == nil || len(needed.RequestedInputs) == 0 {
		if err := e.completeGraph(ctx, node.GraphID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return needed, nil
}

// Sync drives a full session as the initiator: request the peer's known
// tips, pull and validate every graph we're missing, then (unless
// Unidirectional) push every graph the peer is missing.
func (e *Engine) Sync(ctx context.Context) error {
	e.logf(slog.LevelInfo, "starting sync, last interaction=%d", e.LastInteraction)
	req := &InitialRequest{Version: e.Version, Since: e.LastInteraction}
	resp, err := e.Remote.GetInitialResponse(ctx, req)
	if err != nil {
		return err
	}

	if err := e.pullPhase(ctx, resp); err != nil {
		return err
	}

	e.LastInteraction = resp.Since

	if !e.Unidirectional {
		if err := e.pushPhase(ctx, resp); err != nil {
			return err
		}
	}

	e.logf(slog.LevelInfo, "sync completed")
	return nil
}

func (e *Engine) pullPhase(ctx context.Context, resp *InitialResponse) error {
	if len(resp.UTXOList) == 0 {
		return nil
	}
	localTips, err := e.Storage.FindKnownUTXOs(ctx, 0)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, outpoint := range resp.UTXOList {
		if slices.ContainsFunc(localTips, func(local *transaction.Outpoint) bool { return local.Equal(outpoint) }) {
			continue
		}
		wg.Add(1)
		e.acquire()
		go func(outpoint *transaction.Outpoint) {
			defer func() {
				e.release()
				wg.Done()
			}()
			e.syncOneTip(ctx, outpoint)
		}(outpoint)
	}
	wg.Wait()
	return nil
}

// syncOneTip pulls a single missing tip's graph. Failures are scoped to
// this graph: the graph is discarded, the error logged, and other graphs
// continue.
func (e *Engine) syncOneTip(ctx context.Context, outpoint *transaction.Outpoint) {
	e.logf(slog.LevelInfo, "requesting node for tip %s", outpoint.String())
	node, err := e.Remote.RequestNode(ctx, outpoint, outpoint, true)
	if err != nil {
		e.logf(slog.LevelWarn, "error requesting tip %s: %v", outpoint.String(), err)
		return
	}
	seen := &sync.Map{}
	if err := e.processIncoming(ctx, node, nil, seen); err != nil {
		e.logf(slog.LevelWarn, "error processing incoming graph %s: %v", outpoint.String(), err)
		if discardErr := e.Storage.DiscardGraph(ctx, outpoint); discardErr != nil {
			e.logf(slog.LevelWarn, "error discarding graph %s: %v", outpoint.String(), discardErr)
		}
		return
	}
	if err := e.completeGraph(ctx, outpoint); err != nil {
		e.logf(slog.LevelWarn, "error completing graph %s: %v", outpoint.String(), err)
	}
}

// pushPhase computes the InitialReply locally -- GetInitialReply is
// defined purely in terms of our own Storage, so it is called against
// ourselves using the InitialResponse we just received from the peer,
// not round-tripped through Remote. The method remains part of the
// Remote/Engine contract because a Remote implementation (httpremote,
// gaspserver) must still expose it for peers that sync from us.
func (e *Engine) pushPhase(ctx context.Context, resp *InitialResponse) error {
	reply, err := e.GetInitialReply(ctx, resp)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, tip := range reply.UTXOList {
		wg.Add(1)
		e.acquire()
		go func(tip *transaction.Outpoint) {
			defer func() {
				e.release()
				wg.Done()
			}()
			e.pushOneTip(ctx, tip)
		}(tip)
	}
	wg.Wait()
	return nil
}

func (e *Engine) pushOneTip(ctx context.Context, tip *transaction.Outpoint) {
	node, err := e.Storage.HydrateGASPNode(ctx, tip, tip, true)
	if err != nil {
		e.logf(slog.LevelWarn, "error hydrating outgoing tip %s: %v", tip.String(), err)
		return
	}
	seen := &sync.Map{}
	if err := e.processOutgoing(ctx, node, seen); err != nil {
		e.logf(slog.LevelWarn, "error pushing graph %s: %v", tip.String(), err)
	}
}

// processIncoming appends node to the graph, recursively fetches any
// ancestors Storage still needs, and returns once every branch below
// node has resolved.
func (e *Engine) processIncoming(ctx context.Context, node *Node, spentBy *transaction.Outpoint, seen *sync.Map) error {
	id, err := nodeIdentity(node)
	if err != nil {
		return err
	}
	if _, ok := seen.Load(id); ok {
		return nil
	}
	seen.Store(id, struct{}{})

	if err := e.Storage.AppendToGraph(ctx, node, spentBy); err != nil {
		return err
	}

	needed, err := e.Storage.FindNeededInputs(ctx, node)
	if err != nil {
		return err
	}
	if needed == nil || len(needed.RequestedInputs) == 0 {
		return nil
	}

	parentOutpoint, err := nodeOutpoint(node)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(needed.RequestedInputs))
	for outpointStr, data := range needed.RequestedInputs {
		wg.Add(1)
		e.acquire()
		go func(outpointStr string, data *NodeResponseData) {
			defer func() {
				e.release()
				wg.Done()
			}()
			outpoint, err := transaction.OutpointFromString(outpointStr)
			if err != nil {
				errs <- err
				return
			}
			child, err := e.Remote.RequestNode(ctx, node.GraphID, outpoint, data.Metadata)
			if err != nil {
				errs <- err
				return
			}
			errs <- e.processIncoming(ctx, child, parentOutpoint, seen)
		}(outpointStr, data)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// processOutgoing pushes a node to the peer and, for every ancestor it
// asks back for, hydrates and sends that too. It never mutates local
// storage.
func (e *Engine) processOutgoing(ctx context.Context, node *Node, seen *sync.Map) error {
	id, err := nodeIdentity(node)
	if err != nil {
		return err
	}
	if _, ok := seen.Load(id); ok {
		return nil
	}
	seen.Store(id, struct{}{})

	resp, err := e.Remote.SubmitNode(ctx, node)
	if err != nil {
		return err
	}
	if resp == nil || len(resp.RequestedInputs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(resp.RequestedInputs))
	for outpointStr, data := range resp.RequestedInputs {
		wg.Add(1)
		e.acquire()
		go func(outpointStr string, data *NodeResponseData) {
			defer func() {
				e.release()
				wg.Done()
			}()
			outpoint, err := transaction.OutpointFromString(outpointStr)
			if err != nil {
				errs <- err
				return
			}
			child, err := e.Storage.HydrateGASPNode(ctx, node.GraphID, outpoint, data.Metadata)
			if err != nil {
				errs <- err
				return
			}
			errs <- e.processOutgoing(ctx, child, seen)
		}(outpointStr, data)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// completeGraph validates and finalizes graphID, discarding it on any
// failure.
func (e *Engine) completeGraph(ctx context.Context, graphID *transaction.Outpoint) error {
	if err := e.Storage.ValidateGraphAnchor(ctx, graphID); err != nil {
		e.logf(slog.LevelWarn, "anchor invalid for graph %s: %v", graphID.String(), err)
		return e.discard(ctx, graphID, err)
	}
	if err := e.Storage.FinalizeGraph(ctx, graphID); err != nil {
		e.logf(slog.LevelWarn, "finalize failed for graph %s: %v", graphID.String(), err)
		return e.discard(ctx, graphID, err)
	}
	return nil
}

func (e *Engine) discard(ctx context.Context, graphID *transaction.Outpoint, cause error) error {
	if err := e.Storage.DiscardGraph(ctx, graphID); err != nil {
		e.logf(slog.LevelWarn, "discard failed for graph %s: %v", graphID.String(), err)
	}
	return newGraphError(graphID, cause)
}

func (e *Engine) acquire() { e.limiter <- struct{}{} }
func (e *Engine) release() { <-e.limiter }

func nodeOutpoint(node *Node) (*transaction.Outpoint, error) {
	tx, err := transaction.NewTransactionFromHex(node.RawTx)
	if err != nil {
		return nil, err
	}
	return &transaction.Outpoint{Txid: *tx.TxID(), Index: node.OutputIndex}, nil
}

func nodeIdentity(node *Node) (string, error) {
	outpoint, err := nodeOutpoint(node)
	if err != nil {
		return "", err
	}
	return outpoint.String(), nil
}
