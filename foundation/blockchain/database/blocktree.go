package database

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FinalizationDepth is the number of confirmations a block needs on
// the working chain before it is finalized: a block becomes finalized
// once it has six descendants on the working chain (the 7th block
// back from the tip). This is a fixed property of the design, not a
// tunable.
const FinalizationDepth = 6

// AddResult reports how Add disposed of a candidate block, which the
// caller (the node orchestrator) uses to decide whether to rebroadcast
// it: accepted and orphaned blocks are rebroadcast, rejected blocks
// are not.
type AddResult int

const (
	// AddRejected means the block failed validation, was a known
	// duplicate, contained a transaction also present in an ancestor,
	// or failed the simulated balance walk.
	AddRejected AddResult = iota
	// AddAccepted means the block was inserted into the tree.
	AddAccepted
	// AddOrphaned means the block validated in isolation but its
	// parent is not yet known; it is parked until the parent arrives.
	AddOrphaned
)

// EventHandler receives free-form diagnostic log lines from the block
// tree, decoupling its business logic from any particular logging
// implementation (the orchestrator wires this to zap).
type EventHandler func(format string, args ...any)

// BlockTree is the authoritative store of every block this node has
// validated, together with the bookkeeping needed to find the working
// tip, resolve orphans and account finalized balances.
type BlockTree struct {
	mu sync.RWMutex

	allBlocks           map[BlockID]Block
	childrenMap         map[BlockID][]BlockID
	blockDepth          map[BlockID]uint64
	rootID              BlockID
	workingBlockID      BlockID
	orphans             map[BlockID]Block
	finalizedBlockID    BlockID
	finalizedBalanceMap map[UserID]int64
	finalizedTxIDs      map[TxID]struct{}

	// difficultyAcc is the leading-zero-hex-character count required
	// to accept a block, applied uniformly whether the block arrives
	// fresh or is replayed out of the orphan map.
	difficultyAcc uint16

	evHandler EventHandler
}

func noopEventHandler(string, ...any) {}

// New constructs a BlockTree seeded with the genesis block described
// by g. difficultyAcc is the leading-zero-hex-character count every
// non-genesis block must satisfy to be accepted.
func New(g Genesis, difficultyAcc uint16, evHandler EventHandler) *BlockTree {
	if evHandler == nil {
		evHandler = noopEventHandler
	}

	genesisBlock := g.Block()

	bt := BlockTree{
		allBlocks:           map[BlockID]Block{genesisBlock.Header.BlockID: genesisBlock},
		childrenMap:         map[BlockID][]BlockID{},
		blockDepth:          map[BlockID]uint64{genesisBlock.Header.BlockID: 0},
		rootID:              genesisBlock.Header.BlockID,
		workingBlockID:      genesisBlock.Header.BlockID,
		orphans:             map[BlockID]Block{},
		finalizedBlockID:    genesisBlock.Header.BlockID,
		finalizedBalanceMap: map[UserID]int64{},
		finalizedTxIDs:      map[TxID]struct{}{},
		difficultyAcc:       difficultyAcc,
		evHandler:           evHandler,
	}

	for _, tx := range genesisBlock.Transactions {
		amount, _ := tx.Amount()
		bt.finalizedBalanceMap[tx.Receiver] += amount
	}

	return &bt
}

// RootID returns the genesis block id.
func (bt *BlockTree) RootID() BlockID {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.rootID
}

// WorkingBlockID returns the id of the current tip: the block with
// the greatest depth, ties broken by the greater block id.
func (bt *BlockTree) WorkingBlockID() BlockID {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.workingBlockID
}

// FinalizedBlockID returns the id of the most recently finalized
// block.
func (bt *BlockTree) FinalizedBlockID() BlockID {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.finalizedBlockID
}

// Get returns the block with the given id, if this node has it.
func (bt *BlockTree) Get(id BlockID) (Block, bool) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	b, ok := bt.allBlocks[id]
	return b, ok
}

// Depth returns the depth (distance from genesis) of a known block.
func (bt *BlockTree) Depth(id BlockID) (uint64, bool) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	d, ok := bt.blockDepth[id]
	return d, ok
}

// SetDifficultyAcc sets the acceptance difficulty applied by Add. It
// exists so a BlockTree restored from its persisted document (which
// carries no difficulty of its own — that lives in the separate
// config document) can be given the difficulty the orchestrator loads
// alongside it.
func (bt *BlockTree) SetDifficultyAcc(difficultyAcc uint16) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.difficultyAcc = difficultyAcc
}

// BalanceOf returns the finalized balance of a user id; unknown
// addresses have balance 0.
func (bt *BlockTree) BalanceOf(userID UserID) int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.finalizedBalanceMap[userID]
}

// Add validates block against the tree and, if it passes, inserts it,
// updates the working tip, advances finalization at most one step,
// and re-attempts any orphan whose parent is this block.
func (bt *BlockTree) Add(block Block) AddResult {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	return bt.addLocked(block)
}

func (bt *BlockTree) addLocked(block Block) AddResult {
	id := block.Header.BlockID

	if ok, recomputed := Validate(block, bt.difficultyAcc); !ok {
		bt.evHandler("blocktree: add: rejected: validate failed: block[%s] recomputed[%s]", short(id), short(recomputed))
		return AddRejected
	}

	if _, exists := bt.allBlocks[id]; exists {
		return AddRejected
	}
	if _, exists := bt.orphans[id]; exists {
		return AddRejected
	}

	parent, parentKnown := bt.allBlocks[block.Header.Parent]
	if !parentKnown {
		bt.orphans[id] = block
		bt.evHandler("blocktree: add: orphaned: block[%s] awaiting parent[%s]", short(id), short(block.Header.Parent))
		return AddOrphaned
	}

	ancestorTxIDs := bt.ancestorTxIDs(parent.Header.BlockID)
	for _, tx := range block.Transactions {
		if _, dup := ancestorTxIDs[tx.ID()]; dup {
			bt.evHandler("blocktree: add: rejected: duplicate tx[%s] in ancestor", short(tx.ID()))
			return AddRejected
		}
	}

	if !bt.simulateBalances(parent.Header.BlockID, block) {
		bt.evHandler("blocktree: add: rejected: overdraft in block[%s]", short(id))
		return AddRejected
	}

	depth := bt.blockDepth[parent.Header.BlockID] + 1
	bt.allBlocks[id] = block
	bt.blockDepth[id] = depth
	bt.childrenMap[parent.Header.BlockID] = append(bt.childrenMap[parent.Header.BlockID], id)

	bt.updateWorkingBlock(id, depth)
	bt.advanceFinalization()

	bt.evHandler("blocktree: add: accepted: block[%s] depth[%d]", short(id), depth)

	bt.resolveOrphans(id)

	return AddAccepted
}

// resolveOrphans re-attempts every orphan whose parent is newParent.
// Each orphan is tried at most once per call; a successful insertion
// recurses to resolve any orphan waiting on it in turn.
func (bt *BlockTree) resolveOrphans(newParent BlockID) {
	var ready []Block
	for id, orphan := range bt.orphans {
		if orphan.Header.Parent == newParent {
			ready = append(ready, orphan)
			delete(bt.orphans, id)
		}
	}

	for _, orphan := range ready {
		bt.addLocked(orphan)
	}
}

// ancestorTxIDs returns the set of every transaction id appearing in
// blockID or any of its ancestors, walking back to the root.
func (bt *BlockTree) ancestorTxIDs(blockID BlockID) map[TxID]struct{} {
	seen := map[TxID]struct{}{}

	for {
		block, ok := bt.allBlocks[blockID]
		if !ok {
			break
		}
		for _, tx := range block.Transactions {
			seen[tx.ID()] = struct{}{}
		}
		if blockID == bt.rootID {
			break
		}
		blockID = block.Header.Parent
	}

	return seen
}

// simulateBalances walks from genesis through parentID and then
// applies candidate's own transactions and reward, on a throwaway
// copy of balances. It never mutates finalizedBalanceMap; that only
// happens when advanceFinalization actually advances.
func (bt *BlockTree) simulateBalances(parentID BlockID, candidate Block) bool {
	balances := bt.balancesAtLocked(parentID)
	return applyBlock(balances, candidate)
}

// balancesAtLocked returns a fresh balance map reflecting every block
// from genesis through blockID, inclusive.
func (bt *BlockTree) balancesAtLocked(blockID BlockID) map[UserID]int64 {
	var chain []Block
	for {
		block, ok := bt.allBlocks[blockID]
		if !ok {
			break
		}
		chain = append(chain, block)
		if blockID == bt.rootID {
			break
		}
		blockID = block.Header.Parent
	}

	balances := map[UserID]int64{}
	for i := len(chain) - 1; i >= 0; i-- {
		applyBlock(balances, chain[i])
	}

	return balances
}

// applyBlock applies a block's transactions (debit sender, credit
// receiver) followed by its mining reward to balances in place.
// Genesis's synthetic sender is exempt from debit. Returns false if
// any debit would leave a non-genesis sender with a negative balance.
func applyBlock(balances map[UserID]int64, block Block) bool {
	for _, tx := range block.Transactions {
		amount, err := tx.Amount()
		if err != nil {
			return false
		}

		if tx.Sender != GenesisSender {
			next := balances[tx.Sender] - amount
			if next < 0 {
				return false
			}
			balances[tx.Sender] = next
		}

		balances[tx.Receiver] += amount
	}

	if !IsGenesis(block) {
		balances[block.Header.RewardReceiver] += MiningReward
	}

	return true
}

// updateWorkingBlock promotes id to the working tip if it has greater
// depth than the current tip, or equal depth with a lexicographically
// greater block id.
func (bt *BlockTree) updateWorkingBlock(id BlockID, depth uint64) {
	currentDepth := bt.blockDepth[bt.workingBlockID]

	switch {
	case depth > currentDepth:
		bt.workingBlockID = id
	case depth == currentDepth && id > bt.workingBlockID:
		bt.workingBlockID = id
	}
}

// advanceFinalization finalizes the single oldest pending block when
// the working tip is more than FinalizationDepth ahead of the current
// finalized block.
func (bt *BlockTree) advanceFinalization() {
	tipDepth := bt.blockDepth[bt.workingBlockID]
	finalizedDepth := bt.blockDepth[bt.finalizedBlockID]

	if tipDepth <= finalizedDepth+FinalizationDepth {
		return
	}

	pending := bt.pendingChainLocked()
	if len(pending) == 0 {
		return
	}

	next := pending[0]
	applyBlock(bt.finalizedBalanceMap, next)
	for _, tx := range next.Transactions {
		bt.finalizedTxIDs[tx.ID()] = struct{}{}
	}
	bt.finalizedBlockID = next.Header.BlockID

	bt.evHandler("blocktree: finalize: block[%s] depth[%d]", short(next.Header.BlockID), bt.blockDepth[next.Header.BlockID])
}

// pendingChainLocked returns the blocks strictly after finalizedBlockID
// up to and including workingBlockID, oldest first.
func (bt *BlockTree) pendingChainLocked() []Block {
	var reverse []Block

	id := bt.workingBlockID
	for id != bt.finalizedBlockID {
		block, ok := bt.allBlocks[id]
		if !ok {
			break
		}
		reverse = append(reverse, block)
		id = block.Header.Parent
	}

	pending := make([]Block, len(reverse))
	for i, b := range reverse {
		pending[len(reverse)-1-i] = b
	}

	return pending
}

// FinalizedSince returns the finalized blocks after sinceBlockID, from
// oldest to newest. sinceBlockID must be the current finalized block
// or one of its ancestors.
func (bt *BlockTree) FinalizedSince(sinceBlockID BlockID) ([]Block, error) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	var reverse []Block
	id := bt.finalizedBlockID
	for id != sinceBlockID {
		block, ok := bt.allBlocks[id]
		if !ok {
			return nil, fmt.Errorf("database: %s is not an ancestor of the finalized block", sinceBlockID)
		}
		reverse = append(reverse, block)
		if id == bt.rootID {
			return nil, fmt.Errorf("database: %s is not an ancestor of the finalized block", sinceBlockID)
		}
		id = block.Header.Parent
	}

	since := make([]Block, len(reverse))
	for i, b := range reverse {
		since[len(reverse)-1-i] = b
	}

	return since, nil
}

// PendingFinalizationTxs returns the transactions of the up-to-six
// most recent blocks on the working chain that are not yet finalized,
// oldest first. It is used as the exclusion set for puzzle assembly.
func (bt *BlockTree) PendingFinalizationTxs() []Tx {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	var txs []Tx
	for _, block := range bt.pendingChainLocked() {
		txs = append(txs, block.Transactions...)
	}

	return txs
}

// Status returns a snapshot of diagnostic fields for the orchestrator's
// status query.
func (bt *BlockTree) Status() map[string]string {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	return map[string]string{
		"root_id":            bt.rootID,
		"working_block_id":   bt.workingBlockID,
		"working_depth":      fmt.Sprint(bt.blockDepth[bt.workingBlockID]),
		"finalized_block_id": bt.finalizedBlockID,
		"finalized_depth":    fmt.Sprint(bt.blockDepth[bt.finalizedBlockID]),
		"block_count":        fmt.Sprint(len(bt.allBlocks)),
		"orphan_count":       fmt.Sprint(len(bt.orphans)),
	}
}

// persistedBlockTree is the wire/disk representation of the
// BlockTree's state, serialized verbatim per spec.md section 6.
type persistedBlockTree struct {
	AllBlocks           map[BlockID]Block     `json:"all_blocks"`
	ChildrenMap         map[BlockID][]BlockID `json:"children_map"`
	BlockDepth          map[BlockID]uint64    `json:"block_depth"`
	RootID              BlockID               `json:"root_id"`
	WorkingBlockID      BlockID               `json:"working_block_id"`
	Orphans             map[BlockID]Block     `json:"orphans"`
	FinalizedBlockID    BlockID               `json:"finalized_block_id"`
	FinalizedBalanceMap map[UserID]int64      `json:"finalized_balance_map"`
	FinalizedTxIDs      []TxID                `json:"finalized_tx_ids"`
}

// MarshalJSON serializes the block tree as the persisted document
// described in spec.md section 6.
func (bt *BlockTree) MarshalJSON() ([]byte, error) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	ids := make([]TxID, 0, len(bt.finalizedTxIDs))
	for id := range bt.finalizedTxIDs {
		ids = append(ids, id)
	}

	return json.Marshal(persistedBlockTree{
		AllBlocks:           bt.allBlocks,
		ChildrenMap:         bt.childrenMap,
		BlockDepth:          bt.blockDepth,
		RootID:              bt.rootID,
		WorkingBlockID:      bt.workingBlockID,
		Orphans:             bt.orphans,
		FinalizedBlockID:    bt.finalizedBlockID,
		FinalizedBalanceMap: bt.finalizedBalanceMap,
		FinalizedTxIDs:      ids,
	})
}

// UnmarshalJSON restores a block tree from its persisted document
// form.
func (bt *BlockTree) UnmarshalJSON(data []byte) error {
	var doc persistedBlockTree
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.allBlocks = doc.AllBlocks
	bt.childrenMap = doc.ChildrenMap
	bt.blockDepth = doc.BlockDepth
	bt.rootID = doc.RootID
	bt.workingBlockID = doc.WorkingBlockID
	bt.orphans = doc.Orphans
	bt.finalizedBlockID = doc.FinalizedBlockID
	bt.finalizedBalanceMap = doc.FinalizedBalanceMap
	bt.finalizedTxIDs = map[TxID]struct{}{}
	for _, id := range doc.FinalizedTxIDs {
		bt.finalizedTxIDs[id] = struct{}{}
	}
	if bt.evHandler == nil {
		bt.evHandler = noopEventHandler
	}

	return nil
}
