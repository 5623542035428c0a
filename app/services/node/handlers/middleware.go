package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jrsong/nakamoto-node/foundation/web"
)

// Logger logs the start and completion of every request, along with
// its status code and duration.
func Logger(log *zap.SugaredLogger) web.Middleware {
	return func(next web.Handler) web.Handler {
		return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			start := time.Now()
			log.Infow("request started", "method", r.Method, "path", r.URL.Path)

			err := next(ctx, w, r)

			log.Infow("request completed", "method", r.Method, "path", r.URL.Path, "since", time.Since(start))
			return err
		}
	}
}

// Errors logs any error a handler returns and passes it on, so that
// web.App writes it back as a 500 JSON error response; this middleware
// itself exists purely for observability.
func Errors(log *zap.SugaredLogger) web.Middleware {
	return func(next web.Handler) web.Handler {
		return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			err := next(ctx, w, r)
			if err != nil {
				log.Errorw("request error", "method", r.Method, "path", r.URL.Path, "err", err)
			}
			return err
		}
	}
}

// Panics recovers from a panic inside a handler and turns it into an
// error, so one bad request can't take the whole process down.
func Panics() web.Middleware {
	return func(next web.Handler) web.Handler {
		return func(ctx context.Context, w http.ResponseWriter, r *http.Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("panic: %v", rec)
				}
			}()
			return next(ctx, w, r)
		}
	}
}
