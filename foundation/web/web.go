// Package web is a thin wrapper around httptreemux that adds
// context-scoped values, middleware chaining and structured JSON
// responses to the standard library's http package.
package web

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/dimfeld/httptreemux/v5"
)

// ctxKey is the type used to store values in the request context, to
// avoid collisions with values set by other packages.
type ctxKey int

const valuesKey ctxKey = 1

// Values carries request-scoped values, set by the request wrapper
// App.Handle installs, before any handler or middleware runs.
type Values struct {
	TraceID string
	Now     time.Time
}

// Handler is the signature web handlers use, returning an error so
// middleware can centralize error handling.
type Handler func(ctx context.Context, w http.ResponseWriter, r *http.Request) error

// App is the entrypoint into the application and what configures the
// context object for each of the HTTP handlers.
type App struct {
	*httptreemux.ContextMux
	shutdown chan os.Signal
	mw       []Middleware
}

// NewApp creates an App value that handles a set of routes for the
// application, wrapping every handler with the provided global
// middleware.
func NewApp(shutdown chan os.Signal, mw ...Middleware) *App {
	return &App{
		ContextMux: httptreemux.NewContextMux(),
		shutdown:   shutdown,
		mw:         mw,
	}
}

// SignalShutdown is used to gracefully shut down the app when an
// integrity issue is identified.
func (a *App) SignalShutdown() {
	a.shutdown <- syscall.SIGTERM
}

// Handle sets a handler function for a given HTTP method and path
// pair to the application server mux, wrapped with the app's global
// middleware plus any route-specific middleware.
func (a *App) Handle(method string, group string, path string, handler Handler, mw ...Middleware) {
	handler = wrapMiddleware(mw, handler)
	handler = wrapMiddleware(a.mw, handler)

	h := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		v := Values{TraceID: httptreemux.ContextParams(ctx)["trace_id"], Now: time.Now()}
		ctx = context.WithValue(ctx, valuesKey, &v)

		if err := handler(ctx, w, r); err != nil {
			RespondError(w, http.StatusInternalServerError, err)
		}
	}

	finalPath := path
	if group != "" {
		finalPath = "/" + group + path
	}

	a.ContextMux.Handle(method, finalPath, h)
}
