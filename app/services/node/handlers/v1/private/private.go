// Package private maintains the group of handlers intended for
// trusted, node-internal callers only: full-state serialization and a
// combined status view across every subsystem.
package private

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/jrsong/nakamoto-node/foundation/blockchain/state"
	"github.com/jrsong/nakamoto-node/foundation/nameservice"
	"github.com/jrsong/nakamoto-node/foundation/web"
)

// Handlers manages the set of private endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
}

// Status returns a combined snapshot across the chain, network, miner
// and transaction pool.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(w, http.StatusOK, map[string]any{
		"chain":   h.State.ChainStatus(),
		"net":     h.State.NetStatus(),
		"miner":   h.State.MinerStatus(),
		"tx_pool": h.State.TxPoolStatus(),
	})
}

// Serialize returns the block tree and pool documents verbatim, for an
// operator to snapshot node state to disk.
func (h Handlers) Serialize(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	blockTreeJSON, poolJSON, err := h.State.StateSerialization()
	if err != nil {
		return err
	}

	return web.Respond(w, http.StatusOK, map[string]any{
		"blocktree_json": json.RawMessage(blockTreeJSON),
		"txpool_json":    json.RawMessage(poolJSON),
	})
}
