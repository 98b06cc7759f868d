// Package sandwich coordinates one agent with three consumers, each owning a
// different ingredient. The agent repeatedly puts two ingredients on the
// table and wakes the consumer that owns the third; that consumer makes a
// sandwich and reports back before the agent starts the next round.
//
// Selection is random, so no consumer is guaranteed a turn within any fixed
// number of rounds; each is activated eventually with probability one.
package sandwich

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultActionDuration is how long a consumer spends on a sandwich.
const DefaultActionDuration = 2 * time.Second

// Action is the critical section a woken holder runs. It must return once
// ctx is done.
type Action func(ctx context.Context, r Round) error

type Option func(*Exchange)

func WithStrategy(s Strategy) Option {
	return func(e *Exchange) {
		e.strategy = s
	}
}

// WithAssignment sets which item each holder owns. It panics in New unless
// items is a permutation of Bread, Cheese and Meat.
func WithAssignment(items [NumHolders]Item) Option {
	return func(e *Exchange) {
		e.items = items
	}
}

func WithSource(src Source) Option {
	return func(e *Exchange) {
		e.src = src
	}
}

// WithAction replaces the default action, which waits for the action
// duration on the exchange clock.
func WithAction(a Action) Option {
	return func(e *Exchange) {
		e.action = a
	}
}

func WithActionDuration(d time.Duration) Option {
	return func(e *Exchange) {
		e.actionDuration = d
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(e *Exchange) {
		e.clock = c
	}
}

func WithObserver(o Observer) Option {
	return func(e *Exchange) {
		e.observer = o
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Exchange) {
		e.logger = l
	}
}

// ErrAborted is returned by AgentRound once an earlier round was abandoned
// before its holder acknowledged.
var ErrAborted = errors.New("exchange aborted mid-round")

// Exchange runs the agent/holder protocol. At most one round is in flight:
// the agent does not select again until the holder it woke has acknowledged.
//
// If the agent stops waiting for an acknowledgement, the exchange is aborted
// and every later AgentRound fails with ErrAborted.
type Exchange struct {
	strategy       Strategy
	table          table
	items          [NumHolders]Item
	owners         map[Item]Holder
	src            Source
	action         Action
	actionDuration time.Duration
	clock          clockwork.Clock
	observer       Observer
	logger         *zap.Logger

	// agentMu serializes rounds and guards src, seq, current and aborted.
	// The woken holder reads current after the table hand-off, which orders
	// it after the agent's write.
	agentMu sync.Mutex
	seq     uint64
	current Round
	aborted bool
}

// New creates an exchange in which the agent may start a round immediately
// and every holder blocks until it is chosen.
func New(opts ...Option) *Exchange {
	e := &Exchange{
		strategy:       Semaphore,
		items:          [NumHolders]Item{Bread, Cheese, Meat},
		actionDuration: DefaultActionDuration,
		clock:          clockwork.NewRealClock(),
		observer:       nopObserver{},
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := ValidateAssignment(e.items); err != nil {
		panic(fmt.Sprintf("sandwich: %v", err))
	}
	if e.src == nil {
		e.src = rand.New(rand.NewSource(e.clock.Now().UnixNano()))
	}
	if e.action == nil {
		e.action = e.makeSandwich
	}
	e.owners = make(map[Item]Holder, NumHolders)
	for h, it := range e.items {
		e.owners[it] = Holder(h)
	}
	e.table = newTable(e.strategy)
	return e
}

func (e *Exchange) Strategy() Strategy {
	return e.strategy
}

// Assignment returns the item owned by each holder.
func (e *Exchange) Assignment() [NumHolders]Item {
	return e.items
}

// Owner returns the holder that owns it.
func (e *Exchange) Owner(it Item) Holder {
	h, ok := e.owners[it]
	if !ok {
		panic(fmt.Sprintf("sandwich: invalid item %d", int(it)))
	}
	return h
}

func (e *Exchange) makeSandwich(ctx context.Context, _ Round) error {
	if e.actionDuration <= 0 {
		return nil
	}
	t := e.clock.NewTimer(e.actionDuration)
	defer t.Stop()
	select {
	case <-t.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AgentRound places two random items on the table, wakes the owner of the
// third and blocks until that owner acknowledges.
//
// A late acknowledgement from an abandoned round would be taken for the next
// round's, so after ctx ends mid-round the exchange refuses further rounds.
func (e *Exchange) AgentRound(ctx context.Context) (Round, error) {
	e.agentMu.Lock()
	defer e.agentMu.Unlock()

	if e.aborted {
		return Round{}, ErrAborted
	}
	if err := ctx.Err(); err != nil {
		return Round{}, err
	}

	first, second := Pick(e.src)
	heldOut := HeldOut(first, second)
	e.seq++
	r := Round{
		Seq:     e.seq,
		Items:   [2]Item{first, second},
		HeldOut: heldOut,
		Holder:  e.owners[heldOut],
	}
	e.current = r

	e.logger.Debug("agent placed items", zap.Object("round", r))
	e.observer.Placed(r)
	e.table.wake(r.Holder)

	if err := e.table.awaitAck(ctx); err != nil {
		e.aborted = true
		e.logger.Debug("agent stopped waiting", zap.Object("round", r), zap.Error(err))
		return r, err
	}
	e.observer.Acknowledged(r)
	return r, nil
}

// HolderTurn blocks until h is chosen, runs the action and acknowledges.
// It panics if h is not a valid holder.
func (e *Exchange) HolderTurn(ctx context.Context, h Holder) error {
	mustHolder(h)
	if err := e.table.await(ctx, h); err != nil {
		return err
	}

	r := e.current
	if r.Holder != h {
		panic(fmt.Sprintf("sandwich: holder %d woken for round %d of holder %d", int(h), r.Seq, int(r.Holder)))
	}
	e.logger.Debug("holder started", zap.Object("round", r))
	e.observer.Started(r)

	if err := e.action(ctx, r); err != nil {
		return fmt.Errorf("holder %d: %w", int(h), err)
	}

	e.logger.Debug("holder finished", zap.Object("round", r))
	e.observer.Finished(r)
	e.table.ack(h)
	return nil
}

// RunAgent plays rounds until ctx is done or, if rounds is positive, until
// that many rounds have completed.
func (e *Exchange) RunAgent(ctx context.Context, rounds int) error {
	for i := 0; rounds <= 0 || i < rounds; i++ {
		if _, err := e.AgentRound(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RunHolder takes turns as h until ctx is done or the action fails.
func (e *Exchange) RunHolder(ctx context.Context, h Holder) error {
	mustHolder(h)
	for {
		if err := e.HolderTurn(ctx, h); err != nil {
			return err
		}
	}
}

// Run starts the agent and every holder. It returns nil once rounds rounds
// have completed (never, if rounds is not positive), the context error if
// ctx is done first, or the first action error.
func (e *Exchange) Run(ctx context.Context, rounds int) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for h := Holder(0); h < NumHolders; h++ {
		h := h
		g.Go(func() error {
			return e.RunHolder(gctx, h)
		})
	}
	g.Go(func() error {
		defer cancel()
		return e.RunAgent(gctx, rounds)
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
