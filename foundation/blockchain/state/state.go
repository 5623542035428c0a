// Package state wires the block tree, the transaction pool, the miner
// and the gossip network together into one running node: it owns the
// inbound-block task, the inbound-tx task, and the mining loop, and
// exposes the query surface the debug HTTP API and the IPC layer read
// from.
package state

import (
	"fmt"
	"time"

	"github.com/jrsong/nakamoto-node/foundation/blockchain/database"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/mempool"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/miner"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/network"
)

// Config is the node's persisted domain configuration document,
// serialized and loaded exactly as described in spec.md section 6.
type Config struct {
	Neighbors                []network.Addr  `json:"neighbors"`
	Addr                     network.Addr    `json:"addr"`
	MinerThreadCount         int             `json:"miner_thread_count"`
	NonceLen                 int             `json:"nonce_len"`
	DifficultyLeadingZeroLen uint16          `json:"difficulty_leading_zero_len"`
	DifficultyLeadingZeroAcc uint16          `json:"difficulty_leading_zero_len_acc"`
	MinerThread0Seed         int64           `json:"miner_thread_0_seed"`
	MiningRewardReceiver     database.UserID `json:"mining_reward_receiver"`
	MaxTxInOneBlock          int             `json:"max_tx_in_one_block"`
}

// EventHandler receives free-form diagnostic log lines from the
// orchestrator.
type EventHandler func(format string, args ...any)

func noopEventHandler(string, ...any) {}

// State is one running node: the composition root for every
// subsystem.
type State struct {
	cfg       Config
	evHandler EventHandler

	tree    *database.BlockTree
	pool    *mempool.Mempool
	network *network.Network

	cancel *miner.Cancel

	shutdown chan struct{}
}

// New constructs a node from its three loaded documents and starts
// nothing; call Start to bring up the network and the long-running
// tasks.
func New(cfg Config, tree *database.BlockTree, pool *mempool.Mempool, evHandler EventHandler) *State {
	if evHandler == nil {
		evHandler = noopEventHandler
	}

	tree.SetDifficultyAcc(cfg.DifficultyLeadingZeroAcc)

	net := network.New(cfg.Addr, cfg.Neighbors, func(format string, args ...any) {
		evHandler("network: "+format, args...)
	})

	return &State{
		cfg:       cfg,
		evHandler: evHandler,
		tree:      tree,
		pool:      pool,
		network:   net,
		cancel:    &miner.Cancel{},
		shutdown:  make(chan struct{}),
	}
}

// Start brings up the gossip network and the four long-running
// tasks: inbound-block, inbound-tx, inbound-block-request, and the
// mining loop.
func (s *State) Start() error {
	if err := s.network.Start(); err != nil {
		return fmt.Errorf("state: start network: %w", err)
	}

	go s.inboundBlockTask()
	go s.inboundTxTask()
	go s.inboundBlockRequestTask()
	go s.miningLoop()

	return nil
}

// Stop signals every long-running task to exit and tears down the
// network.
func (s *State) Stop() {
	close(s.shutdown)
	s.cancel.Set()
	s.network.Stop()
}

// inboundBlockTask validates and adds every block arriving from the
// network, sets the miner cancel flag when the working tip changes so
// the mining loop rebuilds its puzzle, and rebroadcasts accepted or
// orphaned blocks (never rejected ones).
func (s *State) inboundBlockTask() {
	for {
		select {
		case <-s.shutdown:
			return
		case block := <-s.network.InboundBlocks:
			before := s.tree.WorkingBlockID()
			beforeFinalized := s.tree.FinalizedBlockID()
			result := s.tree.Add(block)

			switch result {
			case database.AddAccepted, database.AddOrphaned:
				if result == database.AddAccepted {
					if s.tree.WorkingBlockID() != before {
						s.cancel.Set()
					}
					s.retireFinalized(beforeFinalized)
				}
				s.network.OutboundBlocks <- block
			case database.AddRejected:
				s.evHandler("state: rejected inbound block %s", block)
			}
		}
	}
}

// inboundTxTask admits every transaction arriving from the network
// into the pool and rebroadcasts it on successful admission.
func (s *State) inboundTxTask() {
	for {
		select {
		case <-s.shutdown:
			return
		case tx := <-s.network.InboundTxs:
			if s.pool.Admit(tx) {
				s.network.OutboundTxs <- tx
			}
		}
	}
}

// inboundBlockRequestTask serves RequestBlock messages from peers that
// are missing a block this node has.
func (s *State) inboundBlockRequestTask() {
	for {
		select {
		case <-s.shutdown:
			return
		case req := <-s.network.InboundBlockRequests:
			if block, ok := s.tree.Get(req.BlockID); ok {
				req.Respond(block)
			}
		}
	}
}

// miningLoop repeatedly assembles a puzzle from the current working
// tip and up to MaxTxInOneBlock pool transactions, excluding those
// already committed in the pending-finalization window, and races the
// miner against it. On success it completes and locally adds the
// block, then publishes it outbound. On cancellation it clears the
// flag and rebuilds against a fresh snapshot.
func (s *State) miningLoop() {
	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		parentID := s.tree.WorkingBlockID()
		if _, ok := s.tree.Get(parentID); !ok {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		pending := s.tree.PendingFinalizationTxs()
		txs := s.pool.Select(s.cfg.MaxTxInOneBlock, pending)
		if len(txs) == 0 {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		merkleTree, root, err := database.BuildMerkleTree(txs)
		if err != nil {
			continue
		}

		puzzle := database.Puzzle{
			Parent:         parentID,
			MerkleRoot:     root,
			RewardReceiver: s.cfg.MiningRewardReceiver,
		}

		s.cancel.Reset()
		solution, found := miner.SolvePuzzle(
			puzzle,
			s.cfg.NonceLen,
			s.cfg.DifficultyLeadingZeroLen,
			s.cfg.MinerThreadCount,
			s.cfg.MinerThread0Seed,
			s.cancel,
			func(format string, args ...any) { s.evHandler("miner: "+format, args...) },
		)
		if !found {
			continue
		}

		block := database.Block{
			Header: database.BlockHeader{
				Parent:         parentID,
				MerkleRoot:     root,
				Timestamp:      uint64(time.Now().Unix()),
				BlockID:        solution.BlockID,
				Nonce:          solution.Nonce,
				RewardReceiver: s.cfg.MiningRewardReceiver,
			},
			MerkleTree:   merkleTree,
			Transactions: txs,
		}

		beforeFinalized := s.tree.FinalizedBlockID()
		if result := s.tree.Add(block); result == database.AddAccepted {
			s.evHandler("state: mined block %s", block)
			s.retireFinalized(beforeFinalized)
			s.network.OutboundBlocks <- block
		}
	}
}

// retireFinalized retires every transaction in the blocks that became
// finalized since beforeFinalized, advancing the pool's
// last-finalized marker. It is called after any Add that may have
// advanced finalization, by one or more blocks when orphans resolved
// during that Add (spec.md section 4.1's
// Lifecycle: a transaction leaves the pool on finalization). A no-op
// when finalization did not advance.
func (s *State) retireFinalized(beforeFinalized database.BlockID) {
	afterFinalized := s.tree.FinalizedBlockID()
	if afterFinalized == beforeFinalized {
		return
	}

	newlyFinalized, err := s.tree.FinalizedSince(beforeFinalized)
	if err != nil {
		s.evHandler("state: retire finalized: %v", err)
		return
	}

	s.pool.RetireFinalized(newlyFinalized)
}

// GetAddressBalance returns the finalized balance of userID.
func (s *State) GetAddressBalance(userID database.UserID) int64 {
	return s.tree.BalanceOf(userID)
}

// PublishTx admits a locally submitted transaction into the pool and,
// on success, gossips it to the mesh.
func (s *State) PublishTx(tx database.Tx) bool {
	if !s.pool.Admit(tx) {
		return false
	}
	s.network.OutboundTxs <- tx
	return true
}

// RequestBlock returns a block this node already has, or asks the
// mesh for it and reports that it was not immediately available.
func (s *State) RequestBlock(blockID database.BlockID) (database.Block, bool) {
	if block, ok := s.tree.Get(blockID); ok {
		return block, true
	}
	s.network.OutboundBlockNeeded <- blockID
	return database.Block{}, false
}

// NetStatus, ChainStatus, MinerStatus and TxPoolStatus are the four
// diagnostic snapshots the debug HTTP API and the IPC layer expose.
func (s *State) NetStatus() map[string]string    { return s.network.Status() }
func (s *State) ChainStatus() map[string]string  { return s.tree.Status() }
func (s *State) TxPoolStatus() map[string]string { return s.pool.Status() }

// MinerStatus reports whether the miner's shared cancel flag is
// currently raised. The flag is lowered when a mining attempt starts
// and raised by a solution, a tip change or Stop; it stays as it was
// while the mining loop is idle.
func (s *State) MinerStatus() map[string]string {
	return map[string]string{
		"cancelled": fmt.Sprint(s.cancel.IsSet()),
	}
}

// StateSerialization returns the block tree and pool documents for
// external persistence; the orchestrator never writes files itself.
func (s *State) StateSerialization() (blockTreeJSON, poolJSON []byte, err error) {
	blockTreeJSON, err = s.tree.MarshalJSON()
	if err != nil {
		return nil, nil, fmt.Errorf("state: marshal block tree: %w", err)
	}
	poolJSON, err = s.pool.MarshalJSON()
	if err != nil {
		return nil, nil, fmt.Errorf("state: marshal pool: %w", err)
	}
	return blockTreeJSON, poolJSON, nil
}
