// Package rwlock provides a reader/writer lock with a selectable starvation policy.
package rwlock

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Policy decides whether newly arriving readers may overtake a waiting writer.
type Policy int

const (
	// ReaderPreference lets readers in whenever no writer is active.
	// Writers are deferred behind active and waiting readers and may starve
	// under a continuous stream of readers.
	ReaderPreference Policy = iota
	// WriterPreference stops admitting new readers once a writer is queued.
	// Readers may starve under a continuous stream of writers.
	WriterPreference
)

var ErrUnknownPolicy = errors.New("unknown policy")

func (p Policy) String() string {
	switch p {
	case ReaderPreference:
		return "reader"
	case WriterPreference:
		return "writer"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy accepts "reader" or "writer" (optionally suffixed with
// "-preference").
func ParsePolicy(s string) (Policy, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "-preference") {
	case "reader", "":
		return ReaderPreference, nil
	case "writer":
		return WriterPreference, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// State is the coarse state of the lock.
type State int

const (
	Idle State = iota
	ReadersActive
	WriterActive
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ReadersActive:
		return "readers-active"
	case WriterActive:
		return "writer-active"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stats is a point-in-time copy of the lock counters.
type Stats struct {
	Readers        int
	Writers        int
	WaitingReaders int
	WaitingWriters int
}

type Option func(*RWLock)

func WithPolicy(p Policy) Option {
	return func(rw *RWLock) {
		rw.policy = p
	}
}

// A RWLock is a reader/writer mutual exclusion lock.
// The lock can be held by an arbitrary number of readers or a single writer.
//
// Which side wins when both readers and writers are waiting depends on the
// Policy. Under ReaderPreference (the default) a writer is admitted only
// when no reader is active or waiting. Under WriterPreference a queued
// writer blocks all newly arriving readers.
//
// All counters are guarded by mu. Readers wait on read, writers on write;
// both conditions share mu, so Wait releases and reacquires it around the
// block.
type RWLock struct {
	mu    sync.Mutex
	read  *sync.Cond
	write *sync.Cond

	policy Policy

	readers        int
	writers        int
	waitingReaders int
	waitingWriters int
}

// New creates an idle *RWLock.
func New(opts ...Option) *RWLock {
	rw := &RWLock{}
	rw.read = sync.NewCond(&rw.mu)
	rw.write = sync.NewCond(&rw.mu)
	for _, opt := range opts {
		opt(rw)
	}
	return rw
}

func (rw *RWLock) Policy() Policy {
	return rw.policy
}

func (rw *RWLock) readBlocked() bool {
	if rw.writers == 1 {
		return true
	}
	return rw.policy == WriterPreference && rw.waitingWriters > 0
}

func (rw *RWLock) writeBlocked() bool {
	if rw.writers == 1 || rw.readers > 0 {
		return true
	}
	return rw.policy == ReaderPreference && rw.waitingReaders > 0
}

// RLock locks rw for reading.
//
// Once admitted, the reader broadcasts on the read condition so that every
// other blocked reader re-checks and enters alongside it.
func (rw *RWLock) RLock() {
	rw.mu.Lock()
	for rw.readBlocked() {
		rw.waitingReaders++
		rw.read.Wait()
		rw.waitingReaders--
	}
	rw.readers++
	rw.read.Broadcast()
	rw.mu.Unlock()
}

// TryRLock locks rw for reading if that is possible without blocking.
func (rw *RWLock) TryRLock() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.readBlocked() {
		return false
	}
	rw.readers++
	return true
}

// RUnlock undoes a single RLock call;
// it does not affect other simultaneous readers.
// It is a run-time error if rw is not locked for reading
// on entry to RUnlock.
func (rw *RWLock) RUnlock() {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.readers == 0 {
		panic("rwlock: RUnlock of unlocked RWLock")
	}
	rw.readers--
	if rw.readers > 0 {
		return
	}
	switch rw.policy {
	case ReaderPreference:
		if rw.waitingReaders == 0 {
			rw.write.Signal()
		}
	case WriterPreference:
		if rw.waitingWriters > 0 {
			rw.write.Signal()
		}
	}
}

// Lock locks rw for writing.
// If the lock is already locked for reading or writing,
// or the policy defers writers, Lock blocks until the lock is available.
func (rw *RWLock) Lock() {
	rw.mu.Lock()
	rw.waitingWriters++
	for rw.writeBlocked() {
		rw.write.Wait()
	}
	rw.waitingWriters--
	rw.writers = 1
	rw.mu.Unlock()
}

// TryLock locks rw for writing if that is possible without blocking.
func (rw *RWLock) TryLock() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.writeBlocked() {
		return false
	}
	rw.writers = 1
	return true
}

// Unlock unlocks rw for writing. It is a run-time error if rw is
// not locked for writing on entry to Unlock.
//
// As with Mutexes, a locked RWLock is not associated with a particular
// goroutine.
func (rw *RWLock) Unlock() {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.writers == 0 {
		panic("rwlock: Unlock of unlocked RWLock")
	}
	rw.writers = 0
	switch rw.policy {
	case ReaderPreference:
		// One reader is enough: it broadcasts to the rest once admitted.
		if rw.waitingReaders > 0 {
			rw.read.Signal()
		} else {
			rw.write.Signal()
		}
	case WriterPreference:
		if rw.waitingWriters > 0 {
			rw.write.Signal()
		} else {
			rw.read.Broadcast()
		}
	}
}

// RLocker returns a sync.Locker that calls RLock and RUnlock.
func (rw *RWLock) RLocker() sync.Locker {
	return (*rlocker)(rw)
}

type rlocker RWLock

func (r *rlocker) Lock()   { (*RWLock)(r).RLock() }
func (r *rlocker) Unlock() { (*RWLock)(r).RUnlock() }

func (rw *RWLock) Snapshot() Stats {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return Stats{
		Readers:        rw.readers,
		Writers:        rw.writers,
		WaitingReaders: rw.waitingReaders,
		WaitingWriters: rw.waitingWriters,
	}
}

func (rw *RWLock) State() State {
	s := rw.Snapshot()
	switch {
	case s.Writers == 1:
		return WriterActive
	case s.Readers > 0:
		return ReadersActive
	default:
		return Idle
	}
}
