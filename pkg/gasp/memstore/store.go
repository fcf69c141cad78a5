// Package memstore provides a reference, in-process implementation of
// gasp.Storage. It keeps the known-UTXO ledger and the per-graph scratch
// space entirely in memory, and anchors graphs using SPV verification
// against an injected chaintracker.ChainTracker.
package memstore

import (
	"context"
	"errors"
	"sync"

	"github.com/bsv-blockchain/go-sdk/spv"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/bsv-blockchain/go-sdk/transaction/chaintracker"

	"github.com/bsv-blockchain/gasp-sync/pkg/gasp"
)

// knownUTXO is a finalized, persisted tip.
type knownUTXO struct {
	outpoint *transaction.Outpoint
	rawTx    string
	proof    *string
	// time is nil for unconfirmed UTXOs, which FindKnownUTXOs always
	// returns regardless of the requested since.
	time *uint32
}

// graphNode is one node of a temporary, in-flight graph.
type graphNode struct {
	node     *gasp.Node
	txid     transaction.Outpoint
	parent   *graphNode
	children []*graphNode
}

// Store is a reference gasp.Storage. Trust is modeled with two
// complementary mechanisms: a ChainTracker that can prove inclusion via
// Merkle path, and an explicit trusted-roots set (see TrustRoot) for leaves the host
// already trusts without a chain proof (e.g. its own freshly broadcast
// transactions).
type Store struct {
	ChainTracker chaintracker.ChainTracker

	// MaxNodesInGraph bounds the size of any single temporary graph. Nil
	// means unbounded.
	MaxNodesInGraph *int

	mu           sync.Mutex
	known        map[string]*knownUTXO
	trustedRoots map[string]struct{}

	graphMu   sync.Mutex
	graphRefs map[string]*graphNode // outpoint(36-byte form) -> node, across ALL in-flight graphs
	graphSize map[string]int        // graphID -> node count
}

// New constructs an empty Store. chainTracker may be nil if the host only
// ever deals in pre-trusted roots (e.g. in tests).
func New(chainTracker chaintracker.ChainTracker) *Store {
	return &Store{
		ChainTracker: chainTracker,
		known:        make(map[string]*knownUTXO),
		trustedRoots: make(map[string]struct{}),
		graphRefs:    make(map[string]*graphNode),
		graphSize:    make(map[string]int),
	}
}

// Seed registers a known UTXO outside of the sync protocol -- used to
// bootstrap a Store's initial knowledge in tests and at node startup.
func (s *Store) Seed(outpoint *transaction.Outpoint, rawTx string, proof *string, at *uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known[outpoint.String()] = &knownUTXO{outpoint: outpoint, rawTx: rawTx, proof: proof, time: at}
}

// TrustRoot marks outpoint as pre-trusted: ValidateGraphAnchor accepts it
// as a frontier leaf even without a chain proof.
func (s *Store) TrustRoot(outpoint *transaction.Outpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trustedRoots[outpoint.String()] = struct{}{}
}

// FindKnownUTXOs implements gasp.Storage.
func (s *Store) FindKnownUTXOs(_ context.Context, since uint32) ([]*transaction.Outpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*transaction.Outpoint, 0, len(s.known))
	for _, utxo := range s.known {
		if utxo.time == nil || *utxo.time > since {
			result = append(result, utxo.outpoint)
		}
	}
	return result, nil
}

// HydrateGASPNode implements gasp.Storage.
func (s *Store) HydrateGASPNode(_ context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*gasp.Node, error) {
	s.mu.Lock()
	utxo, ok := s.known[outpoint.String()]
	s.mu.Unlock()
	if !ok {
		return nil, gasp.ErrNotFound
	}

	node := &gasp.Node{
		GraphID:     graphID,
		RawTx:       utxo.rawTx,
		OutputIndex: outpoint.Index,
		Proof:       utxo.proof,
	}
	if !metadata {
		return node, nil
	}

	tx, err := transaction.NewTransactionFromHex(utxo.rawTx)
	if err != nil {
		return nil, err
	}

	if utxo.proof != nil {
		if mp, err := transaction.NewMerklePathFromHex(*utxo.proof); err == nil {
			tx.MerklePath = mp
			if beef, err := transaction.NewBeefFromTransaction(tx); err == nil {
				if beefBytes, err := beef.AtomicBytes(tx.TxID()); err == nil {
					node.AncillaryBeef = beefBytes
				}
			}
		}
	}

	node.Inputs = make(map[string]*gasp.Input, len(tx.Inputs))
	for _, in := range tx.Inputs {
		inOutpoint := &transaction.Outpoint{Txid: *in.SourceTXID, Index: in.SourceTxOutIndex}
		hash := in.SourceTXID.String()
		node.Inputs[inOutpoint.String()] = &gasp.Input{Hash: hash}
	}
	return node, nil
}

// FindNeededInputs implements gasp.Storage. A node needs an ancestor
// input unless that ancestor is already part of our known set or already
// sitting in the temporary graph scratch space.
func (s *Store) FindNeededInputs(_ context.Context, node *gasp.Node) (*gasp.NodeResponse, error) {
	if node.Proof != nil {
		// The node already carries a chain-inclusion proof: it's its own
		// frontier leaf and needs no further ancestors.
		return nil, nil
	}
	tx, err := transaction.NewTransactionFromHex(node.RawTx)
	if err != nil {
		return nil, err
	}

	resp := &gasp.NodeResponse{RequestedInputs: make(map[string]*gasp.NodeResponseData)}
	for _, in := range tx.Inputs {
		inOutpoint := &transaction.Outpoint{Txid: *in.SourceTXID, Index: in.SourceTxOutIndex}
		key := inOutpoint.String()

		s.mu.Lock()
		_, known := s.known[key]
		s.mu.Unlock()
		if known {
			continue
		}
		s.graphMu.Lock()
		_, inGraph := s.graphRefs[key]
		s.graphMu.Unlock()
		if inGraph {
			continue
		}
		resp.RequestedInputs[key] = &gasp.NodeResponseData{Metadata: true}
	}
	if len(resp.RequestedInputs) == 0 {
		return nil, nil
	}
	return resp, nil
}

// AppendToGraph implements gasp.Storage. Idempotent per
// (graphID, txid, outputIndex): a repeated append for the same node
// returns nil without double-counting it against MaxNodesInGraph.
//
// spentBy may be nil for a node other than the graph's tip: SubmitNode
// (the push-receive path) has no consumer to report, since NodeResponse
// only ever carries bare outpoints. When that happens, the consumer is
// found by scanning the graph's already-appended nodes for one whose
// inputs reference this node -- the same edge the pull path (processIncoming)
// supplies explicitly.
func (s *Store) AppendToGraph(_ context.Context, node *gasp.Node, spentBy *transaction.Outpoint) error {
	tx, err := transaction.NewTransactionFromHex(node.RawTx)
	if err != nil {
		return err
	}
	self := transaction.Outpoint{Txid: *tx.TxID(), Index: node.OutputIndex}
	key := self.String()

	s.graphMu.Lock()
	defer s.graphMu.Unlock()

	if _, exists := s.graphRefs[key]; exists {
		return nil
	}

	graphKey := node.GraphID.String()
	if s.MaxNodesInGraph != nil && s.graphSize[graphKey] >= *s.MaxNodesInGraph {
		return gasp.ErrTooLarge
	}

	gn := &graphNode{node: node, txid: self}

	consumer := spentBy
	if consumer == nil && s.graphSize[graphKey] > 0 {
		consumer = s.findConsumer(graphKey, self)
	}
	if consumer != nil {
		parent, ok := s.graphRefs[consumer.String()]
		if !ok {
			return errors.New("memstore: parent node for spentBy not found in temporary graph")
		}
		parent.children = append(parent.children, gn)
		gn.parent = parent
	}

	s.graphRefs[key] = gn
	s.graphSize[graphKey]++
	return nil
}

// findConsumer scans the nodes already appended to graphKey for one
// whose transaction spends self, so a pushed ancestor can be linked
// under the tip even though SubmitNode never supplies spentBy directly.
func (s *Store) findConsumer(graphKey string, self transaction.Outpoint) *transaction.Outpoint {
	for _, gn := range s.graphRefs {
		if gn.node.GraphID.String() != graphKey {
			continue
		}
		tx, err := transaction.NewTransactionFromHex(gn.node.RawTx)
		if err != nil {
			continue
		}
		for _, in := range tx.Inputs {
			if in.SourceTXID.IsEqual(&self.Txid) && in.SourceTxOutIndex == self.Index {
				return &gn.txid
			}
		}
	}
	return nil
}

// ValidateGraphAnchor implements gasp.Storage: walks the temporary graph
// and requires every frontier leaf (a node with no children appended
// under it) to be pre-trusted, chain-proven via SPV, or, when it carries
// no proof, to spend only already-known UTXOs.
func (s *Store) ValidateGraphAnchor(ctx context.Context, graphID *transaction.Outpoint) error {
	s.graphMu.Lock()
	root, ok := s.graphRefs[graphID.String()]
	s.graphMu.Unlock()
	if !ok {
		return errors.New("memstore: graph not found")
	}

	var leaves []*graphNode
	var walk func(n *graphNode)
	walk = func(n *graphNode) {
		if len(n.children) == 0 {
			leaves = append(leaves, n)
			return
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(root)

	for _, leaf := range leaves {
		if err := s.validateLeaf(ctx, leaf); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) validateLeaf(_ context.Context, leaf *graphNode) error {
	if s.isTrustedRoot(leaf.txid.String()) {
		return nil
	}
	if leaf.node.Proof == nil {
		// No proof of its own: it's still anchored if every input it
		// spends is already a previously-validated known UTXO.
		if s.allInputsKnown(leaf.node.RawTx) {
			return nil
		}
		return gasp.ErrAnchorInvalid
	}
	tx, err := transaction.NewTransactionFromHex(leaf.node.RawTx)
	if err != nil {
		return err
	}
	mp, err := transaction.NewMerklePathFromHex(*leaf.node.Proof)
	if err != nil {
		return err
	}
	tx.MerklePath = mp
	if s.ChainTracker == nil {
		return gasp.ErrAnchorInvalid
	}
	valid, err := spv.Verify(tx, s.ChainTracker, nil)
	if err != nil {
		return err
	}
	if !valid {
		return gasp.ErrAnchorInvalid
	}
	return nil
}

func (s *Store) allInputsKnown(rawTx string) bool {
	tx, err := transaction.NewTransactionFromHex(rawTx)
	if err != nil || len(tx.Inputs) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range tx.Inputs {
		key := (&transaction.Outpoint{Txid: *in.SourceTXID, Index: in.SourceTxOutIndex}).String()
		if _, ok := s.known[key]; !ok {
			return false
		}
	}
	return true
}

func (s *Store) isTrustedRoot(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.trustedRoots[key]
	return ok
}

// DiscardGraph implements gasp.Storage: best-effort, succeeds even if the
// graph doesn't exist.
func (s *Store) DiscardGraph(_ context.Context, graphID *transaction.Outpoint) error {
	s.graphMu.Lock()
	defer s.graphMu.Unlock()

	root, ok := s.graphRefs[graphID.String()]
	if !ok {
		return nil
	}
	var drop func(n *graphNode)
	drop = func(n *graphNode) {
		delete(s.graphRefs, n.txid.String())
		for _, c := range n.children {
			drop(c)
		}
	}
	drop(root)
	delete(s.graphSize, graphID.String())
	return nil
}

// FinalizeGraph implements gasp.Storage: atomically promotes every
// temporary node of graphID into the known set, then discards the
// scratch space.
func (s *Store) FinalizeGraph(ctx context.Context, graphID *transaction.Outpoint) error {
	s.graphMu.Lock()
	root, ok := s.graphRefs[graphID.String()]
	s.graphMu.Unlock()
	if !ok {
		return errors.New("memstore: graph not found")
	}

	var nodes []*graphNode
	var collect func(n *graphNode)
	collect = func(n *graphNode) {
		nodes = append(nodes, n)
		for _, c := range n.children {
			collect(c)
		}
	}
	collect(root)

	s.mu.Lock()
	for _, gn := range nodes {
		s.known[gn.txid.String()] = &knownUTXO{
			outpoint: &gn.txid,
			rawTx:    gn.node.RawTx,
			proof:    gn.node.Proof,
		}
	}
	s.mu.Unlock()

	return s.DiscardGraph(ctx, graphID)
}
