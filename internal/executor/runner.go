package executor

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/VisorEngine/internal/operation"
)

// Runner runs an operation graph and the reactor together. The reactor
// stops when the graph run ends; either one failing stops both.
type Runner struct {
	engine  *operation.Engine
	reactor *Reactor
	logger  *zap.Logger
}

// NewRunner pairs engine and reactor. Either may be nil.
func NewRunner(engine *operation.Engine, reactor *Reactor, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{engine: engine, reactor: reactor, logger: logger.Named("runner")}
}

// Run blocks until the graph finishes (from start, "" for the graph's start
// node) or ctx is done. Without an engine it serves the reactor until ctx
// is done.
func (r *Runner) Run(ctx context.Context, start string) (operation.Terminal, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	var term operation.Terminal

	if r.reactor != nil {
		g.Go(func() error {
			return r.reactor.Run(gctx)
		})
	}
	if r.engine != nil {
		g.Go(func() error {
			defer cancel()
			t, err := r.engine.Run(gctx, start)
			term = t
			if err != nil {
				r.logger.Warn("graph run ended with error", zap.Error(err))
			}
			return err
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}

	err := g.Wait()
	return term, err
}
