// Package handlers manages the different versions of the API, wiring
// each version's routes onto a fresh web.App with the node's shared
// middleware.
package handlers

import (
	"os"

	"go.uber.org/zap"

	v1 "github.com/jrsong/nakamoto-node/app/services/node/handlers/v1"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/state"
	"github.com/jrsong/nakamoto-node/foundation/events"
	"github.com/jrsong/nakamoto-node/foundation/nameservice"
	"github.com/jrsong/nakamoto-node/foundation/web"
)

// APIMuxConfig contains all the mandatory systems required by handlers.
type APIMuxConfig struct {
	Shutdown chan os.Signal
	Log      *zap.SugaredLogger
	State    *state.State
	NS       *nameservice.NameService
	Evts     *events.Events
}

// APIMux constructs a web.App wired with the public and private v1
// routes, and the node's standard middleware stack.
func APIMux(cfg APIMuxConfig) *web.App {
	app := web.NewApp(cfg.Shutdown, Logger(cfg.Log), Errors(cfg.Log), Panics())

	v1.PublicRoutes(app, v1.Config{Log: cfg.Log, State: cfg.State, NS: cfg.NS, Evts: cfg.Evts})
	v1.PrivateRoutes(app, v1.Config{Log: cfg.Log, State: cfg.State, NS: cfg.NS, Evts: cfg.Evts})

	return app
}
