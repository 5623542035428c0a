// Package public maintains the group of handlers for public access to
// the node's debug surface: status snapshots, a block by id, a balance
// by user id, a websocket event stream, and SubmitTx, which admits an
// already-signed transaction to the pool. It never writes blocks to
// the chain directly.
package public

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dimfeld/httptreemux/v5"
	"go.uber.org/zap"

	"github.com/jrsong/nakamoto-node/foundation/blockchain/database"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/state"
	"github.com/jrsong/nakamoto-node/foundation/events"
	"github.com/jrsong/nakamoto-node/foundation/nameservice"
	"github.com/jrsong/nakamoto-node/foundation/validate"
	"github.com/jrsong/nakamoto-node/foundation/web"

	"github.com/gorilla/websocket"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events
}

// ChainStatus returns a snapshot of the block tree's diagnostic
// fields.
func (h Handlers) ChainStatus(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(w, http.StatusOK, h.State.ChainStatus())
}

// NetStatus returns a snapshot of the gossip network's diagnostic
// fields.
func (h Handlers) NetStatus(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(w, http.StatusOK, h.State.NetStatus())
}

// MinerStatus returns whether the miner's cancel flag is currently
// raised.
func (h Handlers) MinerStatus(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(w, http.StatusOK, h.State.MinerStatus())
}

// TxPoolStatus returns a snapshot of the transaction pool's
// diagnostic fields.
func (h Handlers) TxPoolStatus(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(w, http.StatusOK, h.State.TxPoolStatus())
}

// Block returns a block by id, or 404 if this node doesn't have it
// (a RequestBlock is sent to the mesh as a side effect).
func (h Handlers) Block(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	params := httptreemux.ContextParams(ctx)
	blockID := params["block_id"]

	block, ok := h.State.RequestBlock(blockID)
	if !ok {
		return web.Respond(w, http.StatusNotFound, map[string]string{"block_id": blockID})
	}

	return web.Respond(w, http.StatusOK, block)
}

// Balance returns the finalized balance of a user id, displayed under
// its friendly name if one was registered.
func (h Handlers) Balance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	params := httptreemux.ContextParams(ctx)
	userID := params["user_id"]

	amount := h.State.GetAddressBalance(userID)

	return web.Respond(w, http.StatusOK, map[string]any{
		"user_id": h.NS.Lookup(userID),
		"amount":  amount,
	})
}

// submitTxRequest is the JSON body SubmitTx expects: the same
// (sender, receiver, message) triple the IPC protocol's PublishTx
// signs, plus the signature.
type submitTxRequest struct {
	Sender    database.UserID `json:"sender" validate:"required"`
	Receiver  database.UserID `json:"receiver" validate:"required"`
	Message   string          `json:"message" validate:"required"`
	Signature string          `json:"signature" validate:"required"`
}

// SubmitTx accepts a locally submitted, already-signed transaction and
// admits it to the pool.
func (h Handlers) SubmitTx(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req submitTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return web.Respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if err := validate.Check(req); err != nil {
		return web.Respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	tx := database.NewTx(req.Sender, req.Receiver, req.Message, req.Signature)
	accepted := h.State.PublishTx(tx)

	return web.Respond(w, http.StatusOK, map[string]any{"tx_id": tx.ID(), "accepted": accepted})
}

// Events upgrades the connection to a websocket and streams
// diagnostic notifications until the client disconnects.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	conn, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, unsubscribe := h.Evts.Subscribe()
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(time.Hour))
	for msg := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return nil
		}
	}

	return nil
}
