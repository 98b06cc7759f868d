package rwlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const blockedFor = 50 * time.Millisecond

func requireBlocked(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal(msg)
	case <-time.After(blockedFor):
	}
}

func requireDone(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal(msg)
	}
}

func waitFor(t *testing.T, rw *RWLock, cond func(Stats) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(rw.Snapshot())
	}, time.Second, time.Millisecond)
}

func TestParsePolicy(t *testing.T) {
	for _, tc := range []struct {
		input    string
		expected Policy
		isErr    bool
	}{
		{input: "reader", expected: ReaderPreference},
		{input: "", expected: ReaderPreference},
		{input: "Writer", expected: WriterPreference},
		{input: "writer-preference", expected: WriterPreference},
		{input: " reader-preference ", expected: ReaderPreference},
		{input: "fair", isErr: true},
	} {
		t.Run(tc.input, func(t *testing.T) {
			actual, err := ParsePolicy(tc.input)
			if tc.isErr {
				require.ErrorIs(t, err, ErrUnknownPolicy)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, actual)
		})
	}

	require.Equal(t, "reader", ReaderPreference.String())
	require.Equal(t, "writer", WriterPreference.String())
}

func TestRWLock_StateMachine(t *testing.T) {
	rw := New()
	require.Equal(t, ReaderPreference, rw.Policy())
	require.Equal(t, Idle, rw.State())

	rw.RLock()
	require.Equal(t, ReadersActive, rw.State())
	rw.RLock()
	require.Equal(t, Stats{Readers: 2}, rw.Snapshot())

	rw.RUnlock()
	require.Equal(t, ReadersActive, rw.State())
	rw.RUnlock()
	require.Equal(t, Idle, rw.State())

	rw.Lock()
	require.Equal(t, WriterActive, rw.State())
	require.Equal(t, Stats{Writers: 1}, rw.Snapshot())
	rw.Unlock()
	require.Equal(t, Idle, rw.State())
}

func TestRWLock_TryLock(t *testing.T) {
	for _, p := range []Policy{ReaderPreference, WriterPreference} {
		t.Run(p.String(), func(t *testing.T) {
			rw := New(WithPolicy(p))

			require.True(t, rw.TryLock())
			require.False(t, rw.TryLock())
			require.False(t, rw.TryRLock())
			rw.Unlock()

			require.True(t, rw.TryRLock())
			require.True(t, rw.TryRLock())
			require.False(t, rw.TryLock())
			rw.RUnlock()
			rw.RUnlock()
			require.Equal(t, Idle, rw.State())
		})
	}
}

func TestRWLock_UnbalancedUnlockPanics(t *testing.T) {
	rw := New()
	require.Panics(t, func() { rw.RUnlock() })
	require.Panics(t, func() { rw.Unlock() })

	rw.RLock()
	require.Panics(t, func() { rw.Unlock() })
	require.Equal(t, Stats{Readers: 1}, rw.Snapshot(), "counters must survive misuse")
	rw.RUnlock()

	rw.Lock()
	require.Panics(t, func() { rw.RUnlock() })
	require.Equal(t, Stats{Writers: 1}, rw.Snapshot())
	rw.Unlock()
	require.Equal(t, Idle, rw.State())
}

func TestRWLock_ReadersShare(t *testing.T) {
	for _, p := range []Policy{ReaderPreference, WriterPreference} {
		t.Run(p.String(), func(t *testing.T) {
			const n = 10
			rw := New(WithPolicy(p))

			var inside sync.WaitGroup
			inside.Add(n)
			release := make(chan struct{})
			var done sync.WaitGroup
			done.Add(n)
			for i := 0; i < n; i++ {
				go func() {
					defer done.Done()
					rw.RLock()
					inside.Done()
					<-release
					rw.RUnlock()
				}()
			}

			inside.Wait()
			require.Equal(t, n, rw.Snapshot().Readers)
			close(release)
			done.Wait()
			require.Equal(t, Idle, rw.State())
		})
	}
}

func TestRWLock_RLocker(t *testing.T) {
	rw := New()
	l := rw.RLocker()
	l.Lock()
	require.Equal(t, ReadersActive, rw.State())
	require.False(t, rw.TryLock())
	l.Unlock()

	var _ sync.Locker = rw
}

func TestRWLock_WriterWaitsForReaders(t *testing.T) {
	for _, p := range []Policy{ReaderPreference, WriterPreference} {
		t.Run(p.String(), func(t *testing.T) {
			rw := New(WithPolicy(p))
			rw.RLock()

			locked := make(chan struct{})
			go func() {
				rw.Lock()
				close(locked)
			}()

			requireBlocked(t, locked, "writer entered while a reader is active")
			rw.RUnlock()
			requireDone(t, locked, "writer was not woken by the last reader")
			rw.Unlock()
		})
	}
}

func TestRWLock_ReaderWaitsForWriter(t *testing.T) {
	for _, p := range []Policy{ReaderPreference, WriterPreference} {
		t.Run(p.String(), func(t *testing.T) {
			rw := New(WithPolicy(p))
			rw.Lock()

			const n = 5
			var admitted sync.WaitGroup
			admitted.Add(n)
			allIn := make(chan struct{})
			for i := 0; i < n; i++ {
				go func() {
					rw.RLock()
					admitted.Done()
				}()
			}
			go func() {
				admitted.Wait()
				close(allIn)
			}()

			waitFor(t, rw, func(s Stats) bool { return s.WaitingReaders == n })
			requireBlocked(t, allIn, "reader entered while a writer is active")

			rw.Unlock()
			requireDone(t, allIn, "not every waiting reader was woken")
			require.Equal(t, Stats{Readers: n}, rw.Snapshot())
			for i := 0; i < n; i++ {
				rw.RUnlock()
			}
		})
	}
}

func TestRWLock_ReaderPreferenceLetsReadersOvertake(t *testing.T) {
	rw := New(WithPolicy(ReaderPreference))
	rw.RLock()

	locked := make(chan struct{})
	go func() {
		rw.Lock()
		close(locked)
	}()
	waitFor(t, rw, func(s Stats) bool { return s.WaitingWriters == 1 })

	// A stream of fresh readers keeps the writer out for as long as it lasts.
	for i := 0; i < 100; i++ {
		require.True(t, rw.TryRLock(), "reader %d was blocked by a waiting writer", i)
		rw.RUnlock()
	}
	rw.RLock()
	rw.RUnlock()
	requireBlocked(t, locked, "writer overtook an active reader")

	rw.RUnlock()
	requireDone(t, locked, "writer starved after readers left")
	rw.Unlock()
}

func TestRWLock_ReaderPreferenceWaitingReadersBeatWriters(t *testing.T) {
	rw := New(WithPolicy(ReaderPreference))
	rw.Lock()

	order := make(chan string, 2)
	readerIn := make(chan struct{})
	go func() {
		rw.RLock()
		order <- "reader"
		close(readerIn)
	}()
	waitFor(t, rw, func(s Stats) bool { return s.WaitingReaders == 1 })

	writerIn := make(chan struct{})
	go func() {
		rw.Lock()
		order <- "writer"
		close(writerIn)
	}()
	waitFor(t, rw, func(s Stats) bool { return s.WaitingWriters == 1 })

	rw.Unlock()
	requireDone(t, readerIn, "waiting reader was not admitted")
	requireBlocked(t, writerIn, "writer admitted next to a reader")
	require.Equal(t, "reader", <-order)

	rw.RUnlock()
	requireDone(t, writerIn, "writer was not woken")
	require.Equal(t, "writer", <-order)
	rw.Unlock()
}

func TestRWLock_WriterPreferenceBlocksNewReaders(t *testing.T) {
	rw := New(WithPolicy(WriterPreference))
	rw.RLock()

	writerIn := make(chan struct{})
	go func() {
		rw.Lock()
		close(writerIn)
	}()
	waitFor(t, rw, func(s Stats) bool { return s.WaitingWriters == 1 })

	require.False(t, rw.TryRLock(), "reader overtook a queued writer")

	readerIn := make(chan struct{})
	go func() {
		rw.RLock()
		close(readerIn)
	}()
	waitFor(t, rw, func(s Stats) bool { return s.WaitingReaders == 1 })

	rw.RUnlock()
	requireDone(t, writerIn, "queued writer was not admitted")
	requireBlocked(t, readerIn, "reader admitted while a writer is active")

	rw.Unlock()
	requireDone(t, readerIn, "reader was not woken after the writer left")
	rw.RUnlock()
	require.Equal(t, Idle, rw.State())
}

func TestRWLock_WriterPreferenceHandsOffBetweenWriters(t *testing.T) {
	rw := New(WithPolicy(WriterPreference))
	rw.Lock()

	readerIn := make(chan struct{})
	go func() {
		rw.RLock()
		close(readerIn)
	}()
	waitFor(t, rw, func(s Stats) bool { return s.WaitingReaders == 1 })

	writerIn := make(chan struct{})
	go func() {
		rw.Lock()
		close(writerIn)
	}()
	waitFor(t, rw, func(s Stats) bool { return s.WaitingWriters == 1 })

	rw.Unlock()
	requireDone(t, writerIn, "queued writer was not preferred")
	requireBlocked(t, readerIn, "reader admitted while a writer is active")

	rw.Unlock()
	requireDone(t, readerIn, "reader starved after the writers left")
	rw.RUnlock()
}

func TestRWLock_MutualExclusion(t *testing.T) {
	for _, p := range []Policy{ReaderPreference, WriterPreference} {
		t.Run(p.String(), func(t *testing.T) {
			const (
				readers    = 8
				writers    = 4
				iterations = 200
			)
			rw := New(WithPolicy(p))

			var activeReaders, activeWriters, violations, maxReaders int32
			var wg sync.WaitGroup

			for i := 0; i < readers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < iterations; j++ {
						rw.RLock()
						n := atomic.AddInt32(&activeReaders, 1)
						if atomic.LoadInt32(&activeWriters) != 0 {
							atomic.AddInt32(&violations, 1)
						}
						for {
							m := atomic.LoadInt32(&maxReaders)
							if n <= m || atomic.CompareAndSwapInt32(&maxReaders, m, n) {
								break
							}
						}
						atomic.AddInt32(&activeReaders, -1)
						rw.RUnlock()
					}
				}()
			}

			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < iterations; j++ {
						rw.Lock()
						if atomic.AddInt32(&activeWriters, 1) != 1 {
							atomic.AddInt32(&violations, 1)
						}
						if atomic.LoadInt32(&activeReaders) != 0 {
							atomic.AddInt32(&violations, 1)
						}
						atomic.AddInt32(&activeWriters, -1)
						rw.Unlock()
					}
				}()
			}

			wg.Wait()
			require.Zero(t, atomic.LoadInt32(&violations))
			require.Equal(t, Stats{}, rw.Snapshot())
			require.GreaterOrEqual(t, atomic.LoadInt32(&maxReaders), int32(1))
		})
	}
}
