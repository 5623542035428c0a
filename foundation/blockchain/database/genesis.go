package database

import (
	"fmt"

	"github.com/jrsong/nakamoto-node/foundation/blockchain/signature"
)

// DefaultGenesisReceiver is the well-known RSA public key id credited
// by the default genesis block.
const DefaultGenesisReceiver UserID = "MDgCMQCqrJ1yIJ7cDQIdTuS+4CkKn/tQPN7bZFbbGCBhvjQxs71f6Vu+sD9eh8JGpfiZSckCAwEAAQ=="

// DefaultGenesisAmount is the amount credited to DefaultGenesisReceiver
// by the default genesis block — 299,792,458, the speed of light in
// m/s.
const DefaultGenesisAmount = 299792458

// Genesis describes the synthetic first block every node starts from.
// Parent, merkle root, block id and nonce are all the sentinel "0";
// the single transaction credits Receiver with Amount.
type Genesis struct {
	Receiver UserID
	Amount   int64
}

// DefaultGenesis is the genesis configuration used when none is
// supplied explicitly.
func DefaultGenesis() Genesis {
	return Genesis{Receiver: DefaultGenesisReceiver, Amount: DefaultGenesisAmount}
}

// Block constructs the genesis Block for this configuration.
func (g Genesis) Block() Block {
	tx := NewTx(GenesisSender, g.Receiver, fmt.Sprintf("SEND $%d", g.Amount), GenesisSender)

	return Block{
		Header: BlockHeader{
			Parent:         signature.ZeroHash,
			MerkleRoot:     signature.ZeroHash,
			Timestamp:      0,
			BlockID:        signature.ZeroHash,
			Nonce:          signature.ZeroHash,
			RewardReceiver: GenesisSender,
		},
		MerkleTree:   MerkleTree{},
		Transactions: []Tx{tx},
	}
}
