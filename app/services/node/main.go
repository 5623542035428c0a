// This program is the node service: the consensus engine (block tree,
// transaction pool, miner, gossip network) composed into one running
// process, driven over stdin/stdout by the line-delimited IPC
// protocol and observed through a small debug HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jrsong/nakamoto-node/app/services/node/handlers"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/ipc"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/state"
	"github.com/jrsong/nakamoto-node/foundation/events"
	"github.com/jrsong/nakamoto-node/foundation/nameservice"
)

// bootstrapConfig is the process-level configuration read from flags
// and environment variables, distinct from the domain Config document
// the IPC layer's Initialize request carries.
type bootstrapConfig struct {
	Web struct {
		DebugHost       string        `conf:"default:0.0.0.0:7070"`
		ReadTimeout     time.Duration `conf:"default:5s"`
		WriteTimeout    time.Duration `conf:"default:10s"`
		ShutdownTimeout time.Duration `conf:"default:20s"`
	}
}

func main() {
	log := newLogger()
	defer log.Sync()

	root := &cobra.Command{
		Use:   "node",
		Short: "Run a nakamoto-node consensus engine process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(log)
		},
	}

	if err := root.Execute(); err != nil {
		log.Errorw("startup", "err", err)
		os.Exit(1)
	}
}

func newLogger() *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return logger.Sugar()
}

func run(log *zap.SugaredLogger) error {
	var cfg bootstrapConfig
	help, err := conf.Parse("NODE", &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	ns := nameservice.New()
	evts := events.New()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var debugServer *http.Server
	ipcServer := ipc.NewServer(os.Stdin, os.Stdout, func(format string, args ...any) {
		log.Infof(format, args...)
		evts.Send(format, args...)
	})

	ipcServer.OnInitialized = func(nodeState *state.State) {
		app := handlers.APIMux(handlers.APIMuxConfig{
			Shutdown: shutdown,
			Log:      log,
			State:    nodeState,
			NS:       ns,
			Evts:     evts,
		})

		debugServer = &http.Server{
			Addr:         cfg.Web.DebugHost,
			Handler:      app,
			ReadTimeout:  cfg.Web.ReadTimeout,
			WriteTimeout: cfg.Web.WriteTimeout,
		}

		go func() {
			log.Infow("startup", "status", "debug api started", "addr", cfg.Web.DebugHost)
			if err := debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("shutdown", "status", "debug api error", "err", err)
			}
		}()
	}

	ipcDone := make(chan error, 1)
	go func() { ipcDone <- ipcServer.Run() }()

	select {
	case err := <-ipcDone:
		if err != nil {
			return fmt.Errorf("ipc server: %w", err)
		}
	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)
	}

	if debugServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()
		if err := debugServer.Shutdown(ctx); err != nil {
			debugServer.Close()
			return fmt.Errorf("could not stop debug api gracefully: %w", err)
		}
	}

	return nil
}
