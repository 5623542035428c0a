// Package database implements the block tree: block and transaction
// types, validation, orphan handling, finalization and balance
// accounting.
package database

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jrsong/nakamoto-node/foundation/blockchain/signature"
)

// UserID identifies a participant: the base64 PKCS1 DER encoding of
// their RSA public key.
type UserID = string

// BlockID identifies a block: the hex SHA-256 of (nonce || puzzle JSON).
type BlockID = string

// TxID identifies a transaction: the hex SHA-256 of its serialized
// document.
type TxID = string

// GenesisSender is the synthetic sender of the genesis credit.
const GenesisSender = "GENESIS"

// Tx represents one value-transfer transaction.
type Tx struct {
	Sender   UserID `json:"sender"`
	Receiver UserID `json:"receiver"`
	Message  string `json:"message"`
	Sig      string `json:"sig"`
}

// signingPayload is the canonical (sender, receiver, message) triple
// that a wallet signs and that VerifySignature checks against.
type signingPayload struct {
	Sender   UserID `json:"sender"`
	Receiver UserID `json:"receiver"`
	Message  string `json:"message"`
}

// NewTx constructs a transaction from its four fields.
func NewTx(sender, receiver UserID, message, sig string) Tx {
	return Tx{Sender: sender, Receiver: receiver, Message: message, Sig: sig}
}

// Hash returns the transaction id: the hex SHA-256 of the
// transaction's canonical JSON serialization (sender, receiver,
// message and signature all included). It satisfies merkle.Hashable.
func (tx Tx) Hash() TxID {
	raw, err := json.Marshal(tx)
	if err != nil {
		panic(fmt.Sprintf("database: tx is not serializable: %v", err))
	}
	return signature.Hash(raw)
}

// ID is an alias for Hash, used where "transaction id" reads more
// naturally than "hash".
func (tx Tx) ID() TxID {
	return tx.Hash()
}

// SigningPayload returns the canonical bytes a wallet signs: the JSON
// triple of sender, receiver and message, signature excluded.
func (tx Tx) SigningPayload() []byte {
	raw, err := json.Marshal(signingPayload{Sender: tx.Sender, Receiver: tx.Receiver, Message: tx.Message})
	if err != nil {
		panic(fmt.Sprintf("database: tx signing payload is not serializable: %v", err))
	}
	return raw
}

// VerifySignature reports whether the transaction's signature is a
// valid PKCS1v15/SHA-256 signature over SigningPayload(), produced by
// the sender's private key. The genesis sender is exempt and always
// verifies true — the genesis transaction is constructed by the node,
// never signed by a wallet.
func (tx Tx) VerifySignature() bool {
	if tx.Sender == GenesisSender {
		return true
	}
	return signature.VerifySignature(tx.Sender, tx.SigningPayload(), tx.Sig)
}

// Amount parses the positive integer amount from a message of the
// form "SEND $<amount>   // <comment>": the token after the first '$'.
func (tx Tx) Amount() (int64, error) {
	idx := strings.IndexByte(tx.Message, '$')
	if idx < 0 || idx == len(tx.Message)-1 {
		return 0, fmt.Errorf("database: message %q has no amount", tx.Message)
	}

	rest := tx.Message[idx+1:]
	end := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' })
	if end == 0 {
		return 0, fmt.Errorf("database: message %q has no digits after '$'", tx.Message)
	}
	if end < 0 {
		end = len(rest)
	}

	amount, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("database: message %q has unparseable amount: %w", tx.Message, err)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("database: message %q has non-positive amount %d", tx.Message, amount)
	}

	return amount, nil
}
