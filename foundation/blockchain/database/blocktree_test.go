package database_test

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"testing"

	"github.com/jrsong/nakamoto-node/foundation/blockchain/database"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/signature"
)

// testWallet is a minimal in-memory signer used only to build valid
// transactions for tests; it is not the core's wallet (that is an
// external subprocess per spec.md's scope).
type testWallet struct {
	priv   *rsa.PrivateKey
	userID string
}

func newTestWallet(t *testing.T) testWallet {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 512)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return testWallet{priv: priv, userID: signature.PublicKeyToUserID(&priv.PublicKey)}
}

func (w testWallet) send(t *testing.T, receiver string, amount int, nonceTag string) database.Tx {
	t.Helper()
	tx := database.NewTx(w.userID, receiver, fmt.Sprintf("SEND $%d   // %s", amount, nonceTag), "")
	sig, err := signature.SignMessage(w.priv, tx.SigningPayload())
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	tx.Sig = sig
	return tx
}

// buildBlock constructs and mines (at difficulty 0, so any nonce
// works) a valid block extending parent with the given transactions.
func buildBlock(t *testing.T, parent database.Block, rewardReceiver string, txs []database.Tx, depthSeed int) database.Block {
	t.Helper()

	tree, root, err := database.BuildMerkleTree(txs)
	if err != nil {
		t.Fatalf("BuildMerkleTree: %v", err)
	}

	puzzle := database.Puzzle{
		Parent:         parent.Header.BlockID,
		MerkleRoot:     root,
		RewardReceiver: rewardReceiver,
	}
	nonce := fmt.Sprintf("nonce-%d", depthSeed)
	blockID := database.ComputeBlockID(nonce, puzzle)

	return database.Block{
		Header: database.BlockHeader{
			Parent:         parent.Header.BlockID,
			MerkleRoot:     root,
			Timestamp:      1,
			BlockID:        blockID,
			Nonce:          nonce,
			RewardReceiver: rewardReceiver,
		},
		MerkleTree:   tree,
		Transactions: txs,
	}
}

// newTestTree builds a tree whose genesis credits receiver, so a test
// wallet passed here is funded for the simulated balance walk.
func newTestTree(t *testing.T, receiver database.UserID) (*database.BlockTree, database.Genesis) {
	t.Helper()
	g := database.Genesis{Receiver: receiver, Amount: database.DefaultGenesisAmount}
	return database.New(g, 0, nil), g
}

func TestGenesisOnlyTree(t *testing.T) {
	tree, g := newTestTree(t, database.DefaultGenesisReceiver)

	if tree.WorkingBlockID() != signature.ZeroHash {
		t.Fatalf("working id = %q, want %q", tree.WorkingBlockID(), signature.ZeroHash)
	}
	if tree.FinalizedBlockID() != signature.ZeroHash {
		t.Fatalf("finalized id = %q, want %q", tree.FinalizedBlockID(), signature.ZeroHash)
	}
	if got := tree.BalanceOf(g.Receiver); got != g.Amount {
		t.Fatalf("genesis receiver balance = %d, want %d", got, g.Amount)
	}

	if got := tree.PendingFinalizationTxs(); len(got) != 0 {
		t.Fatalf("expected no pending txs on a genesis-only tree, got %d", len(got))
	}
}

func TestLinearInsertionOfEightBlocks(t *testing.T) {
	wallet := newTestWallet(t)
	tree, g := newTestTree(t, wallet.userID)

	genesis := g.Block()
	parent := genesis

	var blocks []database.Block
	for i := 1; i <= 8; i++ {
		tx := wallet.send(t, "receiver-"+fmt.Sprint(i), 1, fmt.Sprint(i))
		block := buildBlock(t, parent, "miner-1", []database.Tx{tx}, i)
		if result := tree.Add(block); result != database.AddAccepted {
			t.Fatalf("block %d: Add result = %v, want AddAccepted", i, result)
		}
		blocks = append(blocks, block)
		parent = block
	}

	last := blocks[len(blocks)-1]
	if tree.WorkingBlockID() != last.Header.BlockID {
		t.Fatalf("working id = %s, want block 8's id %s", tree.WorkingBlockID(), last.Header.BlockID)
	}
	depth, _ := tree.Depth(last.Header.BlockID)
	if depth != 8 {
		t.Fatalf("depth(block 8) = %d, want 8", depth)
	}

	wantFinalized := blocks[1].Header.BlockID // block 2 (index 1): 8 - 6 = 2
	if tree.FinalizedBlockID() != wantFinalized {
		t.Fatalf("finalized id = %s, want block 2's id %s", tree.FinalizedBlockID(), wantFinalized)
	}
}

func TestOutOfOrderInsertionMatchesLinear(t *testing.T) {
	wallet := newTestWallet(t)
	tree, g := newTestTree(t, wallet.userID)

	genesis := g.Block()

	// Build the whole chain up front against a throwaway parent chain
	// so every block's parent/merkle root is fixed regardless of
	// insertion order.
	parent := genesis
	var blocks []database.Block
	for i := 1; i <= 8; i++ {
		tx := wallet.send(t, "receiver-"+fmt.Sprint(i), 1, fmt.Sprint(i))
		block := buildBlock(t, parent, "miner-1", []database.Tx{tx}, i)
		blocks = append(blocks, block)
		parent = block
	}

	order := []int{3, 6, 1, 4, 2, 8, 5, 7}
	for _, n := range order {
		tree.Add(blocks[n-1])
	}

	last := blocks[len(blocks)-1]
	if tree.WorkingBlockID() != last.Header.BlockID {
		t.Fatalf("working id = %s, want block 8's id %s", tree.WorkingBlockID(), last.Header.BlockID)
	}
	if depth, _ := tree.Depth(last.Header.BlockID); depth != 8 {
		t.Fatalf("depth(block 8) = %d, want 8", depth)
	}
	wantFinalized := blocks[1].Header.BlockID
	if tree.FinalizedBlockID() != wantFinalized {
		t.Fatalf("finalized id = %s, want block 2's id %s", tree.FinalizedBlockID(), wantFinalized)
	}
}

func TestAdd_DuplicateTransactionInDescendantIsDiscarded(t *testing.T) {
	wallet := newTestWallet(t)
	tree, g := newTestTree(t, wallet.userID)
	genesis := g.Block()

	tx := wallet.send(t, "receiver-1", 1, "only")
	block1 := buildBlock(t, genesis, "miner-1", []database.Tx{tx}, 1)
	if result := tree.Add(block1); result != database.AddAccepted {
		t.Fatalf("block1: Add result = %v", result)
	}

	block2 := buildBlock(t, block1, "miner-1", []database.Tx{tx}, 2)
	before := tree.WorkingBlockID()
	if result := tree.Add(block2); result != database.AddRejected {
		t.Fatalf("block2 (dup tx): Add result = %v, want AddRejected", result)
	}
	if tree.WorkingBlockID() != before {
		t.Fatalf("tree state changed after a rejected Add")
	}
}

func TestAdd_OverdraftIsDiscarded(t *testing.T) {
	wallet := newTestWallet(t)
	tree, g := newTestTree(t, wallet.userID)
	genesis := g.Block()

	tx := wallet.send(t, "receiver-1", 1_000_000_000, "too much")
	block := buildBlock(t, genesis, "miner-1", []database.Tx{tx}, 1)

	if result := tree.Add(block); result != database.AddRejected {
		t.Fatalf("Add result = %v, want AddRejected (overdraft)", result)
	}
}

func TestAdd_TieBreakPicksGreaterBlockID(t *testing.T) {
	wallet := newTestWallet(t)
	tree, g := newTestTree(t, wallet.userID)
	genesis := g.Block()

	tx1 := wallet.send(t, "receiver-1", 1, "a")
	tx2 := wallet.send(t, "receiver-1", 1, "b")

	left := buildBlock(t, genesis, "miner-left", []database.Tx{tx1}, 100)
	right := buildBlock(t, genesis, "miner-right", []database.Tx{tx2}, 200)

	if result := tree.Add(left); result != database.AddAccepted {
		t.Fatalf("left: Add result = %v", result)
	}
	if result := tree.Add(right); result != database.AddAccepted {
		t.Fatalf("right: Add result = %v", result)
	}

	want := left.Header.BlockID
	if right.Header.BlockID > want {
		want = right.Header.BlockID
	}
	if tree.WorkingBlockID() != want {
		t.Fatalf("working id = %s, want the lexicographically greater of the two tied blocks %s", tree.WorkingBlockID(), want)
	}
}

func TestAdd_OrphanIsParkedThenResolved(t *testing.T) {
	wallet := newTestWallet(t)
	tree, g := newTestTree(t, wallet.userID)
	genesis := g.Block()

	tx1 := wallet.send(t, "receiver-1", 1, "1")
	block1 := buildBlock(t, genesis, "miner-1", []database.Tx{tx1}, 1)

	tx2 := wallet.send(t, "receiver-1", 1, "2")
	block2 := buildBlock(t, block1, "miner-1", []database.Tx{tx2}, 2)

	if result := tree.Add(block2); result != database.AddOrphaned {
		t.Fatalf("block2 before parent: Add result = %v, want AddOrphaned", result)
	}
	if result := tree.Add(block1); result != database.AddAccepted {
		t.Fatalf("block1: Add result = %v", result)
	}

	if tree.WorkingBlockID() != block2.Header.BlockID {
		t.Fatalf("working id = %s, want block2's id %s (orphan should resolve)", tree.WorkingBlockID(), block2.Header.BlockID)
	}
}

func TestAdd_DuplicateBlockIDRejected(t *testing.T) {
	wallet := newTestWallet(t)
	tree, g := newTestTree(t, wallet.userID)
	genesis := g.Block()

	tx := wallet.send(t, "receiver-1", 1, "1")
	block := buildBlock(t, genesis, "miner-1", []database.Tx{tx}, 1)

	if result := tree.Add(block); result != database.AddAccepted {
		t.Fatalf("first Add = %v, want AddAccepted", result)
	}
	if result := tree.Add(block); result != database.AddRejected {
		t.Fatalf("second Add of same block = %v, want AddRejected", result)
	}
}
