// Package miner implements the parallel proof-of-work search: a
// configurable number of worker goroutines race to find a nonce whose
// hash meets the target difficulty, cooperatively cancelling each
// other and any externally requested cancellation.
package miner

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/jrsong/nakamoto-node/foundation/blockchain/database"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/signature"
)

const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Solution is a winning (nonce, block id) pair for a puzzle.
type Solution struct {
	Puzzle  database.Puzzle
	Nonce   string
	BlockID database.BlockID
}

// Cancel is the shared, single-writer-logical/multi-reader stop flag
// threads poll between attempts. The zero value is "not cancelled".
type Cancel struct {
	flag atomic.Bool
}

// Set raises the flag. Safe to call from any goroutine, any number of
// times.
func (c *Cancel) Set() { c.flag.Store(true) }

// IsSet reports whether the flag has been raised.
func (c *Cancel) IsSet() bool { return c.flag.Load() }

// Reset lowers the flag so the same Cancel can be reused for the next
// puzzle.
func (c *Cancel) Reset() { c.flag.Store(false) }

// EventHandler receives free-form diagnostic log lines from the miner.
type EventHandler func(format string, args ...any)

func noopEventHandler(string, ...any) {}

// SolvePuzzle launches threadCount worker goroutines, each seeded
// deterministically with seed0+threadIndex, searching for a nonce of
// length nonceLen (drawn from the alphanumeric alphabet) such that
// SHA-256(nonce || puzzle JSON) has at least difficulty leading hex
// '0' characters. The first thread to find one sets cancel and
// publishes its solution; SolvePuzzle waits for every thread to exit
// before returning.
//
// It returns (Solution{}, false) if cancel was already set, or became
// set, before any thread found a solution.
func SolvePuzzle(puzzle database.Puzzle, nonceLen int, difficulty uint16, threadCount int, seed0 int64, cancel *Cancel, evHandler EventHandler) (Solution, bool) {
	if evHandler == nil {
		evHandler = noopEventHandler
	}
	if threadCount < 1 {
		threadCount = 1
	}

	puzzleJSON := puzzle.JSON()

	results := make(chan Solution, threadCount)

	var wg sync.WaitGroup
	wg.Add(threadCount)
	for i := 0; i < threadCount; i++ {
		go func(threadIndex int) {
			defer wg.Done()
			search(puzzleJSON, puzzle, nonceLen, difficulty, seed0+int64(threadIndex), cancel, results)
		}(i)
	}

	wg.Wait()
	close(results)

	for solution := range results {
		evHandler("miner: solved: block[%s] nonce[%s]", short(solution.BlockID), solution.Nonce)
		return solution, true
	}

	evHandler("miner: cancelled before any thread found a solution")
	return Solution{}, false
}

// search is one worker thread's loop: generate a candidate nonce from
// this thread's PRNG, hash it against the puzzle, and check the
// leading-zero requirement, polling cancel every attempt.
func search(puzzleJSON []byte, puzzle database.Puzzle, nonceLen int, difficulty uint16, seed int64, cancel *Cancel, results chan<- Solution) {
	rng := rand.New(rand.NewSource(seed))
	buf := make([]byte, nonceLen)

	for {
		if cancel.IsSet() {
			return
		}

		nonce := randomNonce(rng, buf)
		blockID := signature.Hash(append([]byte(nonce), puzzleJSON...))

		if database.LeadingZeros(blockID) >= int(difficulty) {
			cancel.Set()
			select {
			case results <- Solution{Puzzle: puzzle, Nonce: nonce, BlockID: blockID}:
			default:
			}
			return
		}
	}
}

func randomNonce(rng *rand.Rand, buf []byte) string {
	for i := range buf {
		buf[i] = nonceAlphabet[rng.Intn(len(nonceAlphabet))]
	}
	return string(buf)
}

func short(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
