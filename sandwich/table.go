package sandwich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Strategy selects how the agent and the holders hand control to each other.
// Both strategies give the same guarantees.
type Strategy int

const (
	// Semaphore uses one binary semaphore per holder plus one for the agent.
	// Wakeups are counted, so a signal sent before the holder waits persists.
	Semaphore Strategy = iota
	// Monitor uses one mutex with a condition per holder and one for the
	// agent. A pending flag per holder keeps early signals from being lost.
	Monitor
)

var ErrUnknownStrategy = errors.New("unknown strategy")

func (s Strategy) String() string {
	switch s {
	case Semaphore:
		return "semaphore"
	case Monitor:
		return "monitor"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "semaphore", "sem", "":
		return Semaphore, nil
	case "monitor", "cond":
		return Monitor, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// table is the hand-off between the agent and the holders.
type table interface {
	// wake marks h as chosen for the current round. Never blocks.
	wake(h Holder)
	// await blocks until h has been woken, consuming the wakeup.
	await(ctx context.Context, h Holder) error
	// ack tells the agent that h finished its action. Never blocks.
	ack(h Holder)
	// awaitAck blocks until the woken holder has acknowledged.
	awaitAck(ctx context.Context) error
}

func newTable(s Strategy) table {
	switch s {
	case Semaphore:
		return newSemaphoreTable()
	case Monitor:
		return newMonitorTable()
	default:
		panic(fmt.Sprintf("sandwich: %v", s))
	}
}

type semaphoreTable struct {
	agent   *semaphore.Weighted
	holders map[Holder]*semaphore.Weighted
}

// drained returns a binary semaphore with a count of zero.
func drained() *semaphore.Weighted {
	s := semaphore.NewWeighted(1)
	if !s.TryAcquire(1) {
		panic("sandwich: fresh semaphore is not available")
	}
	return s
}

func newSemaphoreTable() *semaphoreTable {
	t := &semaphoreTable{
		agent:   drained(),
		holders: make(map[Holder]*semaphore.Weighted, NumHolders),
	}
	for h := Holder(0); h < NumHolders; h++ {
		t.holders[h] = drained()
	}
	return t
}

// Release panics with "released more than held" on a second wake before the
// first is consumed, which would be a double activation.
func (t *semaphoreTable) wake(h Holder) {
	t.holders[h].Release(1)
}

func (t *semaphoreTable) await(ctx context.Context, h Holder) error {
	return t.holders[h].Acquire(ctx, 1)
}

func (t *semaphoreTable) ack(Holder) {
	t.agent.Release(1)
}

func (t *semaphoreTable) awaitAck(ctx context.Context) error {
	return t.agent.Acquire(ctx, 1)
}

type monitorTable struct {
	mu      sync.Mutex
	agent   *sync.Cond
	holders map[Holder]*sync.Cond
	pending map[Holder]bool
	acked   bool
}

func newMonitorTable() *monitorTable {
	t := &monitorTable{
		holders: make(map[Holder]*sync.Cond, NumHolders),
		pending: make(map[Holder]bool, NumHolders),
	}
	t.agent = sync.NewCond(&t.mu)
	for h := Holder(0); h < NumHolders; h++ {
		t.holders[h] = sync.NewCond(&t.mu)
	}
	return t
}

func (t *monitorTable) wake(h Holder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending[h] {
		panic(fmt.Sprintf("sandwich: holder %d woken twice", int(h)))
	}
	t.pending[h] = true
	t.holders[h].Signal()
}

// wait blocks on c until ready reports true or ctx is done. t.mu must be held.
func (t *monitorTable) wait(ctx context.Context, c *sync.Cond, ready func() bool) error {
	stop := context.AfterFunc(ctx, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		c.Broadcast()
	})
	defer stop()

	for !ready() {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.Wait()
	}
	return nil
}

func (t *monitorTable) await(ctx context.Context, h Holder) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.wait(ctx, t.holders[h], func() bool { return t.pending[h] }); err != nil {
		return err
	}
	t.pending[h] = false
	return nil
}

func (t *monitorTable) ack(Holder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acked = true
	t.agent.Signal()
}

func (t *monitorTable) awaitAck(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.wait(ctx, t.agent, func() bool { return t.acked }); err != nil {
		return err
	}
	t.acked = false
	return nil
}
