package miner_test

import (
	"testing"
	"time"

	"github.com/jrsong/nakamoto-node/foundation/blockchain/database"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/miner"
)

func TestSolvePuzzle_FindsAValidSolution(t *testing.T) {
	puzzle := database.Puzzle{Parent: "parent-1", MerkleRoot: "root-1", RewardReceiver: "miner-1"}

	var cancel miner.Cancel
	solution, ok := miner.SolvePuzzle(puzzle, 6, 1, 4, 1, &cancel, nil)
	if !ok {
		t.Fatalf("SolvePuzzle returned ok=false, want a solution at difficulty 1")
	}

	recomputed := database.ComputeBlockID(solution.Nonce, puzzle)
	if recomputed != solution.BlockID {
		t.Fatalf("recomputed block id %s != returned block id %s", recomputed, solution.BlockID)
	}
	if database.LeadingZeros(solution.BlockID) < 1 {
		t.Fatalf("solution block id %s has no leading zero", solution.BlockID)
	}
}

func TestSolvePuzzle_ReturnsNothingWhenCancelledUpFront(t *testing.T) {
	puzzle := database.Puzzle{Parent: "parent-1", MerkleRoot: "root-1", RewardReceiver: "miner-1"}

	var cancel miner.Cancel
	cancel.Set()

	_, ok := miner.SolvePuzzle(puzzle, 6, 64, 4, 1, &cancel, nil)
	if ok {
		t.Fatalf("SolvePuzzle returned ok=true on a pre-cancelled flag")
	}
}

func TestSolvePuzzle_TerminatesPromptlyOnExternalCancelAtImpossibleDifficulty(t *testing.T) {
	puzzle := database.Puzzle{Parent: "parent-1", MerkleRoot: "root-1", RewardReceiver: "miner-1"}

	var cancel miner.Cancel
	done := make(chan struct{})

	go func() {
		_, ok := miner.SolvePuzzle(puzzle, 6, 64, 4, 1, &cancel, nil)
		if ok {
			t.Errorf("SolvePuzzle returned ok=true at an unreachable difficulty")
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel.Set()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("SolvePuzzle did not return within 2s of cancellation")
	}
}

func TestSolvePuzzle_DifferentThreadsUseDistinctSeeds(t *testing.T) {
	puzzle := database.Puzzle{Parent: "parent-2", MerkleRoot: "root-2", RewardReceiver: "miner-2"}

	var cancel1, cancel2 miner.Cancel
	sol1, ok1 := miner.SolvePuzzle(puzzle, 6, 1, 1, 1, &cancel1, nil)
	sol2, ok2 := miner.SolvePuzzle(puzzle, 6, 1, 1, 2, &cancel2, nil)

	if !ok1 || !ok2 {
		t.Fatalf("SolvePuzzle failed to find a solution with a single thread at difficulty 1")
	}
	if sol1.Nonce == sol2.Nonce {
		t.Fatalf("seed0=1 and seed0=2 single-thread runs produced the same nonce %q", sol1.Nonce)
	}
}
