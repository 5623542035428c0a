package database

import (
	"encoding/json"
	"fmt"

	"github.com/jrsong/nakamoto-node/foundation/blockchain/merkle"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/signature"
)

// MiningReward is the fixed credit applied to a block's reward
// receiver, after the block's own transactions are walked.
const MiningReward = 10

// MerkleTree is the serializable form of a block's transaction merkle
// tree: level 0 holds the leaf hashes in transaction order, each
// later level the pairwise hash of its predecessor.
type MerkleTree struct {
	Hashes [][]string `json:"hashes"`
}

// BlockHeader carries everything needed to identify and validate a
// block without its transaction bodies.
type BlockHeader struct {
	Parent         BlockID `json:"parent"`
	MerkleRoot     string  `json:"merkle_root"`
	Timestamp      uint64  `json:"timestamp"`
	BlockID        BlockID `json:"block_id"`
	Nonce          string  `json:"nonce"`
	RewardReceiver UserID  `json:"reward_receiver"`
}

// Puzzle is the canonical document a miner searches a nonce against:
// SHA-256(nonce || json(Puzzle)) must meet the difficulty threshold.
type Puzzle struct {
	Parent         BlockID `json:"parent"`
	MerkleRoot     string  `json:"merkle_root"`
	RewardReceiver UserID  `json:"reward_receiver"`
}

// JSON returns the puzzle's canonical serialization.
func (p Puzzle) JSON() []byte {
	raw, err := json.Marshal(p)
	if err != nil {
		panic(fmt.Sprintf("database: puzzle is not serializable: %v", err))
	}
	return raw
}

// Block is a header plus its body: an ordered transaction list and
// the merkle tree built over it.
type Block struct {
	Header       BlockHeader `json:"header"`
	MerkleTree   MerkleTree  `json:"merkle_tree"`
	Transactions []Tx        `json:"transactions"`
}

// Puzzle returns the puzzle document this block's header was mined
// against.
func (b Block) Puzzle() Puzzle {
	return Puzzle{
		Parent:         b.Header.Parent,
		MerkleRoot:     b.Header.MerkleRoot,
		RewardReceiver: b.Header.RewardReceiver,
	}
}

// ComputeBlockID returns SHA-256(nonce || puzzle JSON) in hex, the
// value the header's BlockID field must equal.
func ComputeBlockID(nonce string, puzzle Puzzle) BlockID {
	return signature.Hash(append([]byte(nonce), puzzle.JSON()...))
}

// LeadingZeros returns the number of leading hex '0' characters in a
// block id.
func LeadingZeros(blockID BlockID) int {
	n := 0
	for n < len(blockID) && blockID[n] == '0' {
		n++
	}
	return n
}

// BuildMerkleTree builds the merkle tree over an ordered transaction
// list. It mirrors merkle.NewTree but returns the serializable
// MerkleTree form used by Block.
func BuildMerkleTree(txs []Tx) (MerkleTree, string, error) {
	if len(txs) == 0 {
		return MerkleTree{}, "", merkle.ErrEmptyTree
	}

	tree, err := merkle.NewTree(txs)
	if err != nil {
		return MerkleTree{}, "", err
	}

	return MerkleTree{Hashes: tree.Levels()}, tree.RootHex(), nil
}

// Validate checks a block's validity in isolation, independent of any
// tree context:
//  1. block_id == SHA-256(nonce || puzzle JSON), and has at least
//     difficultyAcc leading hex zeros;
//  2. the merkle root recomputed from the transaction list equals the
//     header's stored root (genesis is exempt, see IsGenesis);
//  3. every transaction's signature verifies.
//
// It returns (ok, recomputed block id).
func Validate(b Block, difficultyAcc uint16) (bool, BlockID) {
	if IsGenesis(b) {
		return true, b.Header.BlockID
	}

	recomputed := ComputeBlockID(b.Header.Nonce, b.Puzzle())
	if recomputed != b.Header.BlockID {
		return false, recomputed
	}
	if LeadingZeros(recomputed) < int(difficultyAcc) {
		return false, recomputed
	}

	if len(b.Transactions) == 0 {
		return false, recomputed
	}
	_, root, err := BuildMerkleTree(b.Transactions)
	if err != nil || root != b.Header.MerkleRoot {
		return false, recomputed
	}

	for _, tx := range b.Transactions {
		if !tx.VerifySignature() {
			return false, recomputed
		}
		if _, err := tx.Amount(); err != nil {
			return false, recomputed
		}
	}

	if b.Header.Timestamp < 1 {
		return false, recomputed
	}

	return true, recomputed
}

// IsGenesis reports whether b is the distinguished genesis block.
func IsGenesis(b Block) bool {
	return b.Header.BlockID == signature.ZeroHash && b.Header.Parent == signature.ZeroHash
}

// String renders a block's identity for logging.
func (b Block) String() string {
	return fmt.Sprintf("block[%s..]<-%s..", short(b.Header.BlockID), short(b.Header.Parent))
}

func short(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
