// Package worker runs the engine's periodic jobs: run once, then on every
// tick until the context is done.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status struct {
	Name    string    `json:"name"`
	Runs    int64     `json:"runs"`
	LastRun time.Time `json:"last_run"`
	LastErr string    `json:"last_error,omitempty"`
	Running bool      `json:"running"`
}

// Loop calls fn every interval. Ticks never overlap: RunOnce and the ticker
// share one mutex.
type Loop struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	log      *slog.Logger

	runMu sync.Mutex

	mu     sync.RWMutex
	status Status
}

func NewLoop(name string, interval time.Duration, fn func(ctx context.Context) error, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		name:     name,
		interval: interval,
		fn:       fn,
		log:      log.With("component", "worker", "loop", name),
		status:   Status{Name: name},
	}
}

func (l *Loop) Name() string { return l.name }

// RunOnce runs a single tick synchronously.
func (l *Loop) RunOnce(ctx context.Context) error {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	started := time.Now()
	err := l.fn(ctx)

	l.mu.Lock()
	l.status.Runs++
	l.status.LastRun = started.UTC()
	l.status.LastErr = ""
	if err != nil {
		l.status.LastErr = err.Error()
	}
	l.mu.Unlock()

	if err != nil {
		l.log.Error("tick failed", "err", err, "elapsed", time.Since(started))
	} else {
		l.log.Debug("tick done", "elapsed", time.Since(started))
	}
	return err
}

// Run blocks until ctx is done. Tick errors are logged, never returned.
func (l *Loop) Run(ctx context.Context) error {
	l.setRunning(true)
	defer l.setRunning(false)

	l.log.Info("loop started", "interval", l.interval.String())
	_ = l.RunOnce(ctx)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.log.Info("loop stopped")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			_ = l.RunOnce(ctx)
		}
	}
}

func (l *Loop) setRunning(v bool) {
	l.mu.Lock()
	l.status.Running = v
	l.mu.Unlock()
}

func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// Group owns a set of loops. Stop cancels them and waits for in-flight ticks;
// a stopped group can be started again.
type Group struct {
	loops []*Loop

	mu     sync.Mutex
	cancel context.CancelFunc
	eg     *errgroup.Group
}

func NewGroup(loops ...*Loop) *Group {
	return &Group{loops: loops}
}

func (g *Group) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	for _, l := range g.loops {
		l := l
		eg.Go(func() error { return l.Run(ctx) })
	}
	g.cancel = cancel
	g.eg = eg
}

func (g *Group) Stop() error {
	g.mu.Lock()
	cancel, eg := g.cancel, g.eg
	g.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	err := eg.Wait()

	g.mu.Lock()
	if g.eg == eg {
		g.cancel = nil
		g.eg = nil
	}
	g.mu.Unlock()
	return err
}

// RunOnce runs one tick of every loop in order and joins their errors.
func (g *Group) RunOnce(ctx context.Context) error {
	var errs []error
	for _, l := range g.loops {
		if err := l.RunOnce(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.name, err))
		}
	}
	return errors.Join(errs...)
}

func (g *Group) Statuses() []Status {
	out := make([]Status, 0, len(g.loops))
	for _, l := range g.loops {
		out = append(out, l.Status())
	}
	return out
}
