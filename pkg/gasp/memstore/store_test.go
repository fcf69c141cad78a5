package memstore_test

import (
	"context"
	"testing"

	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/require"

	"github.com/bsv-blockchain/gasp-sync/pkg/gasp"
	"github.com/bsv-blockchain/gasp-sync/pkg/gasp/memstore"
)

func newTx(lockTime uint32, satoshis uint64) *transaction.Transaction {
	tx := transaction.NewTransaction()
	tx.LockTime = lockTime
	tx.AddOutput(&transaction.TransactionOutput{Satoshis: satoshis, LockingScript: &script.Script{}})
	return tx
}

func TestStoreAppendToGraph(t *testing.T) {
	t.Run("appends a root node and a child it spends", func(t *testing.T) {
		ctx := context.Background()
		store := memstore.New(nil)

		rootTx := newTx(1, 1000)
		graphID := &transaction.Outpoint{Txid: *rootTx.TxID(), Index: 0}
		root := &gasp.Node{GraphID: graphID, RawTx: rootTx.Hex(), OutputIndex: 0}

		require.NoError(t, store.AppendToGraph(ctx, root, nil))

		childTx := newTx(2, 500)
		child := &gasp.Node{GraphID: graphID, RawTx: childTx.Hex(), OutputIndex: 0}
		require.NoError(t, store.AppendToGraph(ctx, child, graphID))
	})

	t.Run("rejects the node once the graph is full", func(t *testing.T) {
		ctx := context.Background()
		store := memstore.New(nil)
		maxNodes := 2
		store.MaxNodesInGraph = &maxNodes

		var graphID *transaction.Outpoint
		for i := uint32(0); i < uint32(maxNodes); i++ {
			tx := newTx(i+1, 1000)
			outpoint := &transaction.Outpoint{Txid: *tx.TxID(), Index: i}
			if graphID == nil {
				graphID = outpoint
			}
			node := &gasp.Node{GraphID: graphID, RawTx: tx.Hex(), OutputIndex: i}
			require.NoError(t, store.AppendToGraph(ctx, node, nil))
		}

		overflow := newTx(99, 1000)
		node := &gasp.Node{GraphID: graphID, RawTx: overflow.Hex(), OutputIndex: 99}
		err := store.AppendToGraph(ctx, node, nil)
		require.ErrorIs(t, err, gasp.ErrTooLarge)
	})

	t.Run("returns an error for invalid transaction hex", func(t *testing.T) {
		ctx := context.Background()
		store := memstore.New(nil)
		node := &gasp.Node{
			GraphID: &transaction.Outpoint{},
			RawTx:   "not-hex",
		}
		err := store.AppendToGraph(ctx, node, nil)
		require.Error(t, err)
	})
}

func TestStoreFindKnownUTXOs(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)

	oldTx := newTx(1, 1000)
	newTxn := newTx(2, 2000)
	oldAt := uint32(100)
	newAt := uint32(200)

	store.Seed(&transaction.Outpoint{Txid: *oldTx.TxID(), Index: 0}, oldTx.Hex(), nil, &oldAt)
	store.Seed(&transaction.Outpoint{Txid: *newTxn.TxID(), Index: 0}, newTxn.Hex(), nil, &newAt)

	got, err := store.FindKnownUTXOs(ctx, 150)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, got[0].Equal(&transaction.Outpoint{Txid: *newTxn.TxID(), Index: 0}))
}

func TestStoreFindKnownUTXOsAlwaysReturnsUnconfirmed(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)

	tx := newTx(1, 1000)
	store.Seed(&transaction.Outpoint{Txid: *tx.TxID(), Index: 0}, tx.Hex(), nil, nil)

	got, err := store.FindKnownUTXOs(ctx, 999999)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestStoreDiscardGraph(t *testing.T) {
	t.Run("discards the graph and all its nodes", func(t *testing.T) {
		ctx := context.Background()
		store := memstore.New(nil)

		rootTx := newTx(1, 1000)
		graphID := &transaction.Outpoint{Txid: *rootTx.TxID(), Index: 0}
		root := &gasp.Node{GraphID: graphID, RawTx: rootTx.Hex(), OutputIndex: 0}
		require.NoError(t, store.AppendToGraph(ctx, root, nil))

		childTx := newTx(2, 500)
		child := &gasp.Node{GraphID: graphID, RawTx: childTx.Hex(), OutputIndex: 0}
		require.NoError(t, store.AppendToGraph(ctx, child, graphID))

		require.NoError(t, store.DiscardGraph(ctx, graphID))

		// The parent no longer exists in the scratch space, so a further
		// append claiming to be spent by it fails.
		newChildTx := newTx(3, 250)
		newChild := &gasp.Node{GraphID: graphID, RawTx: newChildTx.Hex(), OutputIndex: 0}
		err := store.AppendToGraph(ctx, newChild, graphID)
		require.Error(t, err)
	})

	t.Run("is a no-op for an unknown graph", func(t *testing.T) {
		ctx := context.Background()
		store := memstore.New(nil)
		require.NoError(t, store.DiscardGraph(ctx, &transaction.Outpoint{}))
	})
}

func TestStoreValidateGraphAnchorAndFinalize(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)

	rootTx := newTx(1, 1000)
	graphID := &transaction.Outpoint{Txid: *rootTx.TxID(), Index: 0}
	store.TrustRoot(graphID)

	root := &gasp.Node{GraphID: graphID, RawTx: rootTx.Hex(), OutputIndex: 0}
	require.NoError(t, store.AppendToGraph(ctx, root, nil))

	require.NoError(t, store.ValidateGraphAnchor(ctx, graphID))
	require.NoError(t, store.FinalizeGraph(ctx, graphID))

	got, err := store.FindKnownUTXOs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestStoreValidateGraphAnchorRejectsUnproven(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)

	rootTx := newTx(1, 1000)
	graphID := &transaction.Outpoint{Txid: *rootTx.TxID(), Index: 0}
	root := &gasp.Node{GraphID: graphID, RawTx: rootTx.Hex(), OutputIndex: 0}
	require.NoError(t, store.AppendToGraph(ctx, root, nil))

	err := store.ValidateGraphAnchor(ctx, graphID)
	require.ErrorIs(t, err, gasp.ErrAnchorInvalid)
}
