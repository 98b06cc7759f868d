package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitlab.com/slon/ipcsync/rwlock"
)

// workload drives a lock with concurrent readers and writers and checks
// exclusion from the outside.
type workload struct {
	lock    *rwlock.RWLock
	clock   clockwork.Clock
	metrics *metrics
	hold    time.Duration

	readersInside int32
	writersInside int32

	reads      int64
	writes     int64
	violations int64
}

type workloadStats struct {
	Reads      int64
	Writes     int64
	Violations int64
}

func (w *workload) violation() {
	atomic.AddInt64(&w.violations, 1)
	w.metrics.lockViolations.Inc()
}

// pause holds the lock for w.hold, cut short when ctx is done.
func (w *workload) pause(ctx context.Context) {
	if w.hold <= 0 {
		return
	}
	t := w.clock.NewTimer(w.hold)
	defer t.Stop()
	select {
	case <-t.Chan():
	case <-ctx.Done():
	}
}

func (w *workload) read(ctx context.Context) {
	start := w.clock.Now()
	w.lock.RLock()
	defer w.lock.RUnlock()
	w.metrics.lockWaitSeconds.WithLabelValues("read").Observe(w.clock.Since(start).Seconds())
	w.metrics.lockAcquired.WithLabelValues("read").Inc()

	atomic.AddInt32(&w.readersInside, 1)
	if atomic.LoadInt32(&w.writersInside) != 0 {
		w.violation()
	}
	w.pause(ctx)
	atomic.AddInt32(&w.readersInside, -1)
	atomic.AddInt64(&w.reads, 1)
}

func (w *workload) write(ctx context.Context) {
	start := w.clock.Now()
	w.lock.Lock()
	defer w.lock.Unlock()
	w.metrics.lockWaitSeconds.WithLabelValues("write").Observe(w.clock.Since(start).Seconds())
	w.metrics.lockAcquired.WithLabelValues("write").Inc()

	if atomic.AddInt32(&w.writersInside, 1) != 1 || atomic.LoadInt32(&w.readersInside) != 0 {
		w.violation()
	}
	w.pause(ctx)
	atomic.AddInt32(&w.writersInside, -1)
	atomic.AddInt64(&w.writes, 1)
}

// run loops every actor until ctx is done. Actors blocked in the lock when
// ctx ends still acquire and release it once before returning.
func (w *workload) run(ctx context.Context, readers, writers int) workloadStats {
	var g errgroup.Group
	loop := func(op func(context.Context)) func() error {
		return func() error {
			for ctx.Err() == nil {
				op(ctx)
			}
			return nil
		}
	}
	for i := 0; i < readers; i++ {
		g.Go(loop(w.read))
	}
	for i := 0; i < writers; i++ {
		g.Go(loop(w.write))
	}
	_ = g.Wait()

	return workloadStats{
		Reads:      atomic.LoadInt64(&w.reads),
		Writes:     atomic.LoadInt64(&w.writes),
		Violations: atomic.LoadInt64(&w.violations),
	}
}

func (a *app) runRWLock(ctx context.Context) error {
	c := a.cfg.RWLock
	policy, err := c.policy()
	if err != nil {
		return err
	}
	if c.RunFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.RunFor)
		defer cancel()
	}

	w := &workload{
		lock:    rwlock.New(rwlock.WithPolicy(policy)),
		clock:   a.clock,
		metrics: a.metrics,
		hold:    c.Hold,
	}
	a.logger.Info("starting rwlock workload",
		zap.Stringer("policy", policy),
		zap.Int("readers", c.Readers),
		zap.Int("writers", c.Writers),
		zap.Duration("hold", c.Hold),
		zap.Duration("run_for", c.RunFor),
	)

	stats := w.run(ctx, c.Readers, c.Writers)
	a.logger.Info("rwlock workload finished",
		zap.Int64("reads", stats.Reads),
		zap.Int64("writes", stats.Writes),
		zap.Int64("violations", stats.Violations),
	)
	if stats.Violations > 0 {
		return fmt.Errorf("rwlock: %d exclusion violations", stats.Violations)
	}
	return nil
}

func newRWLockCmd(a *app, defaults *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rwlock",
		Short: "Hammer a reader/writer lock with concurrent readers and writers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), a.runRWLock)
		},
	}

	d := defaults.RWLock
	fs := cmd.Flags()
	fs.String("policy", d.Policy, "starvation policy: reader or writer")
	fs.Int("readers", d.Readers, "number of reader goroutines")
	fs.Int("writers", d.Writers, "number of writer goroutines")
	fs.Duration("hold", d.Hold, "time each actor holds the lock")
	fs.Duration("run-for", d.RunFor, "how long to run; 0 runs until interrupted")
	return cmd
}
