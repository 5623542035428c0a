// Package v1 contains the full set of handler functions and routes
// supported by the v1 debug web api.
package v1

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jrsong/nakamoto-node/app/services/node/handlers/v1/private"
	"github.com/jrsong/nakamoto-node/app/services/node/handlers/v1/public"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/state"
	"github.com/jrsong/nakamoto-node/foundation/events"
	"github.com/jrsong/nakamoto-node/foundation/nameservice"
	"github.com/jrsong/nakamoto-node/foundation/web"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes: read-only status
// and query endpoints, plus the debug transaction submission and
// websocket event stream.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		NS:    cfg.NS,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/chain/status", pbl.ChainStatus)
	app.Handle(http.MethodGet, version, "/net/status", pbl.NetStatus)
	app.Handle(http.MethodGet, version, "/miner/status", pbl.MinerStatus)
	app.Handle(http.MethodGet, version, "/txpool/status", pbl.TxPoolStatus)
	app.Handle(http.MethodGet, version, "/block/:block_id", pbl.Block)
	app.Handle(http.MethodGet, version, "/balance/:user_id", pbl.Balance)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitTx)
	app.Handle(http.MethodGet, version, "/events", pbl.Events)
}

// PrivateRoutes binds all the version 1 private routes: the combined
// status view and full-state serialization.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		NS:    cfg.NS,
	}

	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/serialize", prv.Serialize)
}
