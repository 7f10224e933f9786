package server

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/zeusync/sensormap/internal/core/observability/log"
	"github.com/zeusync/sensormap/internal/core/world"
)

type request struct {
	fn     func(*world.World) error
	result chan error
}

// Loop owns the world and its sensor map. It ticks the simulation at a fixed
// interval and runs every Do request on the same goroutine, between ticks.
type Loop struct {
	world    *world.World
	interval time.Duration
	logger   log.Log

	requests chan request
	done     chan struct{}
	running  atomic.Bool
}

func NewLoop(w *world.World, interval time.Duration, logger log.Log) *Loop {
	return &Loop{
		world:    w,
		interval: interval,
		logger:   logger.With(log.String("component", "loop")),
		requests: make(chan request),
		done:     make(chan struct{}),
	}
}

// Do runs fn on the loop goroutine and returns its error. It blocks until the
// loop picks the request up, ctx is done or the loop has stopped.
func (l *Loop) Do(ctx context.Context, fn func(*world.World) error) error {
	req := request{fn: fn, result: make(chan error, 1)}
	select {
	case l.requests <- req:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run ticks the world until ctx is done. A Loop runs once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	dt := l.interval.Seconds()

	l.logger.Info("Simulation loop started",
		log.Duration("interval", l.interval),
		log.Int("entities", l.world.Len()))
	defer l.logger.Info("Simulation loop stopped", log.Uint64("ticks", l.world.TickCount()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.world.Tick(dt)
		case req := <-l.requests:
			req.result <- req.fn(l.world)
		}
	}
}
