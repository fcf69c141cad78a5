package gasp_test

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/require"

	"github.com/bsv-blockchain/gasp-sync/pkg/gasp"
)

// mockUTXO is a finalized or in-flight tip used by mockStorage.
type mockUTXO struct {
	Outpoint *transaction.Outpoint
	RawTx    string
	Time     uint32
}

type mockStorage struct {
	mu        sync.Mutex
	known     []*mockUTXO
	tempGraph map[string]*mockUTXO

	findKnownUTXOsFunc      func(ctx context.Context, since uint32) ([]*transaction.Outpoint, error)
	findNeededInputsFunc    func(ctx context.Context, node *gasp.Node) (*gasp.NodeResponse, error)
	appendToGraphFunc       func(ctx context.Context, node *gasp.Node, spentBy *transaction.Outpoint) error
	validateGraphAnchorFunc func(ctx context.Context, graphID *transaction.Outpoint) error
	discardGraphFunc        func(ctx context.Context, graphID *transaction.Outpoint) error
	finalizeGraphFunc       func(ctx context.Context, graphID *transaction.Outpoint) error
}

func newMockStorage(known []*mockUTXO) *mockStorage {
	return &mockStorage{known: known, tempGraph: make(map[string]*mockUTXO)}
}

func (m *mockStorage) FindKnownUTXOs(ctx context.Context, since uint32) ([]*transaction.Outpoint, error) {
	if m.findKnownUTXOsFunc != nil {
		return m.findKnownUTXOsFunc(ctx, since)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*transaction.Outpoint
	for _, u := range m.known {
		if u.Time >= since {
			result = append(result, u.Outpoint)
		}
	}
	return result, nil
}

func (m *mockStorage) HydrateGASPNode(_ context.Context, graphID, outpoint *transaction.Outpoint, _ bool) (*gasp.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.known {
		if u.Outpoint.Equal(outpoint) {
			return &gasp.Node{GraphID: graphID, RawTx: u.RawTx, OutputIndex: outpoint.Index}, nil
		}
	}
	if u, ok := m.tempGraph[outpoint.String()]; ok {
		return &gasp.Node{GraphID: graphID, RawTx: u.RawTx, OutputIndex: outpoint.Index}, nil
	}
	return nil, gasp.ErrNotFound
}

func (m *mockStorage) FindNeededInputs(ctx context.Context, node *gasp.Node) (*gasp.NodeResponse, error) {
	if m.findNeededInputsFunc != nil {
		return m.findNeededInputsFunc(ctx, node)
	}
	return nil, nil
}

func (m *mockStorage) AppendToGraph(ctx context.Context, node *gasp.Node, spentBy *transaction.Outpoint) error {
	if m.appendToGraphFunc != nil {
		return m.appendToGraphFunc(ctx, node, spentBy)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := transaction.NewTransactionFromHex(node.RawTx)
	if err != nil {
		return err
	}
	self := &transaction.Outpoint{Txid: *tx.TxID(), Index: node.OutputIndex}
	m.tempGraph[self.String()] = &mockUTXO{Outpoint: self, RawTx: node.RawTx}
	return nil
}

func (m *mockStorage) ValidateGraphAnchor(ctx context.Context, graphID *transaction.Outpoint) error {
	if m.validateGraphAnchorFunc != nil {
		return m.validateGraphAnchorFunc(ctx, graphID)
	}
	return nil
}

func (m *mockStorage) DiscardGraph(ctx context.Context, graphID *transaction.Outpoint) error {
	if m.discardGraphFunc != nil {
		return m.discardGraphFunc(ctx, graphID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tempGraph, graphID.String())
	return nil
}

func (m *mockStorage) FinalizeGraph(ctx context.Context, graphID *transaction.Outpoint) error {
	if m.finalizeGraphFunc != nil {
		return m.finalizeGraphFunc(ctx, graphID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if tempNode, ok := m.tempGraph[graphID.String()]; ok {
		m.known = append(m.known, tempNode)
		delete(m.tempGraph, graphID.String())
	}
	return nil
}

// createMockUTXO builds a minimal, validly-encoded transaction so the
// engine's hex parsing and TxID derivation succeed.
func createMockUTXO(outputIndex uint32, at uint32) *mockUTXO {
	tx := transaction.NewTransaction()
	// LockTime varies with at/outputIndex so each mock transaction encodes
	// to distinct bytes and therefore gets a distinct txid.
	tx.LockTime = at*1000 + outputIndex
	tx.AddOutput(&transaction.TransactionOutput{Satoshis: uint64(1000 + outputIndex), LockingScript: &script.Script{}})
	rawTx := hex.EncodeToString(tx.Bytes())
	return &mockUTXO{
		Outpoint: &transaction.Outpoint{Txid: *tx.TxID(), Index: outputIndex},
		RawTx:    rawTx,
		Time:     at,
	}
}

func newEngine(storage gasp.Storage) *gasp.Engine {
	return gasp.NewEngine(gasp.EngineParams{Storage: storage})
}

func TestEngineSync(t *testing.T) {
	t.Run("rejects a version mismatch before touching storage", func(t *testing.T) {
		ctx := context.Background()
		storage1 := newMockStorage(nil)
		storage2 := newMockStorage(nil)

		touched1, touched2 := false, false
		storage1.findKnownUTXOsFunc = func(ctx context.Context, since uint32) ([]*transaction.Outpoint, error) {
			touched1 = true
			return nil, nil
		}
		storage2.findKnownUTXOsFunc = func(ctx context.Context, since uint32) ([]*transaction.Outpoint, error) {
			touched2 = true
			return nil, nil
		}

		alice := gasp.NewEngine(gasp.EngineParams{Storage: storage1, Version: 2})
		bob := gasp.NewEngine(gasp.EngineParams{Storage: storage2, Version: 1})
		alice.SetRemote(bob)

		err := alice.Sync(ctx)
		require.Error(t, err)
		var mismatch *gasp.VersionMismatchError
		require.ErrorAs(t, err, &mismatch)
		require.False(t, touched1, "initiator storage should not be read after a version mismatch")
		require.False(t, touched2, "responder storage should not be read after a version mismatch")
	})

	t.Run("pulls a single tip from the remote", func(t *testing.T) {
		ctx := context.Background()
		utxo := createMockUTXO(0, 111)
		storage1 := newMockStorage(nil)
		storage2 := newMockStorage([]*mockUTXO{utxo})

		alice := newEngine(storage1)
		bob := newEngine(storage2)
		alice.SetRemote(bob)

		require.NoError(t, alice.Sync(ctx))

		got, err := storage1.FindKnownUTXOs(ctx, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.True(t, got[0].Equal(utxo.Outpoint))
	})

	t.Run("pushes our own tip when syncing bidirectionally", func(t *testing.T) {
		ctx := context.Background()
		utxo := createMockUTXO(0, 111)
		storage1 := newMockStorage([]*mockUTXO{utxo})
		storage2 := newMockStorage(nil)

		alice := newEngine(storage1)
		bob := newEngine(storage2)
		alice.SetRemote(bob)

		require.NoError(t, alice.Sync(ctx))

		got, err := storage2.FindKnownUTXOs(ctx, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
	})

	t.Run("discards a graph that fails anchor validation", func(t *testing.T) {
		ctx := context.Background()
		utxo := createMockUTXO(0, 111)
		storage1 := newMockStorage(nil)
		storage2 := newMockStorage([]*mockUTXO{utxo})

		discardCalled := false
		storage1.validateGraphAnchorFunc = func(ctx context.Context, graphID *transaction.Outpoint) error {
			return errors.New("invalid anchor")
		}
		storage1.discardGraphFunc = func(ctx context.Context, graphID *transaction.Outpoint) error {
			discardCalled = true
			require.True(t, graphID.Equal(utxo.Outpoint))
			return nil
		}

		alice := newEngine(storage1)
		bob := newEngine(storage2)
		alice.SetRemote(bob)

		require.NoError(t, alice.Sync(ctx))

		got, err := storage1.FindKnownUTXOs(ctx, 0)
		require.NoError(t, err)
		require.Len(t, got, 0)
		require.True(t, discardCalled)
	})

	t.Run("syncs multiple independent graphs", func(t *testing.T) {
		ctx := context.Background()
		utxo1 := createMockUTXO(0, 111)
		utxo2 := createMockUTXO(0, 222)
		storage1 := newMockStorage(nil)
		storage2 := newMockStorage([]*mockUTXO{utxo1, utxo2})

		alice := newEngine(storage1)
		bob := newEngine(storage2)
		alice.SetRemote(bob)

		require.NoError(t, alice.Sync(ctx))

		got, err := storage1.FindKnownUTXOs(ctx, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
	})

	t.Run("filters by since on the initial request", func(t *testing.T) {
		ctx := context.Background()
		older := createMockUTXO(0, 100)
		newer := createMockUTXO(1, 200)
		storage1 := newMockStorage(nil)
		storage2 := newMockStorage([]*mockUTXO{older, newer})

		alice := gasp.NewEngine(gasp.EngineParams{Storage: storage1, LastInteraction: 150})
		bob := gasp.NewEngine(gasp.EngineParams{Storage: storage2})
		alice.SetRemote(bob)

		require.NoError(t, alice.Sync(ctx))

		got, err := storage1.FindKnownUTXOs(ctx, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, newer.Outpoint.Index, got[0].Index)
	})

	t.Run("does not finalize when both peers already know the tip", func(t *testing.T) {
		ctx := context.Background()
		utxo := createMockUTXO(0, 111)
		storage1 := newMockStorage([]*mockUTXO{utxo})
		storage2 := newMockStorage([]*mockUTXO{utxo})

		finalized1, finalized2 := false, false
		storage1.finalizeGraphFunc = func(ctx context.Context, graphID *transaction.Outpoint) error {
			finalized1 = true
			return nil
		}
		storage2.finalizeGraphFunc = func(ctx context.Context, graphID *transaction.Outpoint) error {
			finalized2 = true
			return nil
		}

		alice := newEngine(storage1)
		bob := newEngine(storage2)
		alice.SetRemote(bob)

		require.NoError(t, alice.Sync(ctx))

		require.False(t, finalized1, "finalize should not run when nothing new was synced")
		require.False(t, finalized2, "finalize should not run when nothing new was synced")
	})

	t.Run("unidirectional sync never pushes local tips", func(t *testing.T) {
		ctx := context.Background()
		utxo := createMockUTXO(0, 111)
		storage1 := newMockStorage([]*mockUTXO{utxo})
		storage2 := newMockStorage(nil)

		alice := gasp.NewEngine(gasp.EngineParams{Storage: storage1, Unidirectional: true})
		bob := newEngine(storage2)
		alice.SetRemote(bob)

		require.NoError(t, alice.Sync(ctx))

		got, err := storage2.FindKnownUTXOs(ctx, 0)
		require.NoError(t, err)
		require.Len(t, got, 0)
	})
}
