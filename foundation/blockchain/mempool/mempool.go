// Package mempool implements the transaction pool: admission with
// signature verification, deduplication against a retired set, and
// deterministic selection for block assembly.
package mempool

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/jrsong/nakamoto-node/foundation/blockchain/database"
)

// MaxTxPool is the maximum number of transactions the pool will hold
// at once; further admissions are rejected until some are retired.
const MaxTxPool = 10_000

// Mempool is the ordered set of received, signature-valid,
// not-yet-finalized transactions.
type Mempool struct {
	mu sync.RWMutex

	ids             []database.TxID
	byID            map[database.TxID]database.Tx
	retired         map[database.TxID]struct{}
	lastFinalizedID database.BlockID
}

// New constructs an empty transaction pool.
func New() *Mempool {
	return &Mempool{
		byID:            map[database.TxID]database.Tx{},
		retired:         map[database.TxID]struct{}{},
		lastFinalizedID: "0",
	}
}

// Admit adds tx to the pool. It rejects the transaction (returning
// false) if its id is already in the pool or the retired set, the
// pool is full, or its signature does not verify.
func (m *Mempool) Admit(tx database.Tx) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := tx.ID()

	if _, exists := m.byID[id]; exists {
		return false
	}
	if _, retired := m.retired[id]; retired {
		return false
	}
	if len(m.ids) >= MaxTxPool {
		return false
	}
	if !tx.VerifySignature() {
		return false
	}

	m.ids = append(m.ids, id)
	m.byID[id] = tx

	return true
}

// Retire removes txID from the pool if present and unconditionally
// marks it retired, so that a later Admit of the same id is rejected.
func (m *Mempool) Retire(txID database.TxID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retireLocked(txID)
}

func (m *Mempool) retireLocked(txID database.TxID) {
	if _, exists := m.byID[txID]; exists {
		delete(m.byID, txID)
		m.ids = removeID(m.ids, txID)
	}
	m.retired[txID] = struct{}{}
}

func removeID(ids []database.TxID, target database.TxID) []database.TxID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Select returns up to maxCount pool transactions in insertion order,
// skipping any whose id is in exclude.
func (m *Mempool) Select(maxCount int, exclude []database.Tx) []database.Tx {
	m.mu.RLock()
	defer m.mu.RUnlock()

	excluded := make(map[database.TxID]struct{}, len(exclude))
	for _, tx := range exclude {
		excluded[tx.ID()] = struct{}{}
	}

	var selected []database.Tx
	for _, id := range m.ids {
		if _, skip := excluded[id]; skip {
			continue
		}
		tx, ok := m.byID[id]
		if !ok {
			continue
		}
		selected = append(selected, tx)
		if len(selected) == maxCount {
			break
		}
	}

	return selected
}

// RetireFinalized retires every transaction contained in each block,
// in order, and advances the last-finalized-block marker to the last
// block's id.
func (m *Mempool) RetireFinalized(blocks []database.Block) {
	if len(blocks) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, block := range blocks {
		for _, tx := range block.Transactions {
			m.retireLocked(tx.ID())
		}
		m.lastFinalizedID = block.Header.BlockID
	}
}

// Status returns a snapshot of diagnostic fields for the orchestrator's
// status query.
func (m *Mempool) Status() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]string{
		"pool_size":               strconv.Itoa(len(m.ids)),
		"retired_count":           strconv.Itoa(len(m.retired)),
		"last_finalized_block_id": m.lastFinalizedID,
	}
}

// persistedMempool is the wire/disk representation described in
// spec.md section 6.
type persistedMempool struct {
	PoolTxIDs            []database.TxID               `json:"pool_tx_ids"`
	PoolTxMap            map[database.TxID]database.Tx `json:"pool_tx_map"`
	RemovedTxIDs         []database.TxID                `json:"removed_tx_ids"`
	LastFinalizedBlockID database.BlockID                `json:"last_finalized_block_id"`
}

// MarshalJSON serializes the pool as the persisted document described
// in spec.md section 6.
func (m *Mempool) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	removed := make([]database.TxID, 0, len(m.retired))
	for id := range m.retired {
		removed = append(removed, id)
	}

	return json.Marshal(persistedMempool{
		PoolTxIDs:            m.ids,
		PoolTxMap:            m.byID,
		RemovedTxIDs:         removed,
		LastFinalizedBlockID: m.lastFinalizedID,
	})
}

// UnmarshalJSON restores a pool from its persisted document form.
func (m *Mempool) UnmarshalJSON(data []byte) error {
	var doc persistedMempool
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ids = doc.PoolTxIDs
	m.byID = doc.PoolTxMap
	if m.byID == nil {
		m.byID = map[database.TxID]database.Tx{}
	}
	m.retired = map[database.TxID]struct{}{}
	for _, id := range doc.RemovedTxIDs {
		m.retired[id] = struct{}{}
	}
	m.lastFinalizedID = doc.LastFinalizedBlockID

	return nil
}
