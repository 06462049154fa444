// Package loop implements the single-threaded reactor every other engine
// component is driven from: a single goroutine whose Run loop selects over
// one posted-work channel and one timer heap. Every other goroutine in
// this engine (the resolver worker, transport dispatch workers) only ever
// calls Post to hand a callback to this goroutine — it never touches
// engine state directly, so no callback runs concurrently with another.
package loop

import (
	"container/heap"
	"sync"
	"time"
)

// TimerID identifies a previously armed timer for cancellation.
type TimerID uint64

// timerEntry is one entry in the deadline-ordered heap.
type timerEntry struct {
	id       TimerID
	deadline time.Time
	period   time.Duration // zero for one-shot
	repeat   bool
	cb       func() bool // repeating timers: return true to rearm
	once     func()
	index    int // heap.Interface bookkeeping
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Loop is a single-threaded event reactor. Create one with New, run it with
// Run (which blocks the calling goroutine), and stop it with Stop (callable
// from any goroutine, including from within a callback).
type Loop struct {
	mu      sync.Mutex
	timers  timerHeap
	nextID  TimerID
	post    chan func()
	stopCh  chan struct{}
	done    chan struct{}
	running bool
}

// New creates a Loop. It does nothing until Run is called.
func New() *Loop {
	return &Loop{
		post:   make(chan func(), 1024),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Reset prepares the loop for another Run/Stop cycle, replacing the
// stop/done signalling channels a prior cycle consumed. Callers that run
// one Loop through several independent Run/Stop cycles (the sync engine
// issues one such cycle per blocking request) call Reset before
// each Run, after the previous cycle's Wait has returned. Panics if the
// loop is still running — Reset is only safe between cycles, never
// concurrent with one.
func (l *Loop) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		panic("loop: Reset called while still running")
	}
	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})
}

// NowMs returns the current time in milliseconds, the clock all engine
// timestamps (LastPolled, LastResolveTry, ...) are measured in.
func (l *Loop) NowMs() int64 { return time.Now().UnixMilli() }

// Post hands a callback to the loop goroutine for serialized execution. Safe
// to call from any goroutine, including the loop goroutine itself. If the
// loop has already stopped, the callback is dropped.
func (l *Loop) Post(cb func()) {
	l.mu.Lock()
	stopCh := l.stopCh
	l.mu.Unlock()
	select {
	case l.post <- cb:
	case <-stopCh:
	}
}

// Timer arms a repeating timer. cb is invoked on the loop goroutine every
// period; if cb returns false the timer is not rearmed. A repeating timer
// whose next deadline has already passed by the time it is serviced is
// clamped to now — lateness is never accumulated into a catch-up burst.
func (l *Loop) Timer(period time.Duration, cb func() bool) TimerID {
	return l.arm(period, true, cb, nil)
}

// OneShot arms a single-fire timer.
func (l *Loop) OneShot(delay time.Duration, cb func()) TimerID {
	return l.arm(delay, false, nil, cb)
}

func (l *Loop) arm(d time.Duration, repeat bool, cb func() bool, once func()) TimerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	e := &timerEntry{
		id:       id,
		deadline: time.Now().Add(d),
		period:   d,
		repeat:   repeat,
		cb:       cb,
		once:     once,
	}
	heap.Push(&l.timers, e)
	return id
}

// Cancel removes a pending timer. A no-op if the timer already fired (for
// one-shots) or was never armed.
func (l *Loop) Cancel(id TimerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.timers {
		if e.id == id {
			heap.Remove(&l.timers, i)
			return
		}
	}
}

// Run blocks the calling goroutine, dispatching posted callbacks and timer
// firings until Stop is called. Suspension happens only here, waiting for
// posted work or the next timer deadline.
func (l *Loop) Run() {
	l.mu.Lock()
	l.running = true
	stopCh, done := l.stopCh, l.done
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		timer, wait := l.nextWait()
		if timer != nil {
			select {
			case <-stopCh:
				return
			case cb := <-l.post:
				cb()
			case <-time.After(wait):
				l.fire(timer)
			}
			continue
		}

		select {
		case <-stopCh:
			return
		case cb := <-l.post:
			cb()
		}
	}
}

// nextWait returns the next-due timer descriptor, left in place at the head
// of the heap, and the duration to wait for it.
func (l *Loop) nextWait() (*timerEntry, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return nil, 0
	}
	e := l.timers[0]
	wait := time.Until(e.deadline)
	if wait < 0 {
		wait = 0
	}
	return e, wait
}

func (l *Loop) fire(e *timerEntry) {
	l.mu.Lock()
	// The timer we waited on might have been cancelled or replaced by a
	// sooner one while we slept; re-check it is still the heap head.
	if len(l.timers) == 0 || l.timers[0].id != e.id {
		l.mu.Unlock()
		return
	}
	heap.Pop(&l.timers)
	l.mu.Unlock()

	if !e.repeat {
		e.once()
		return
	}
	if e.cb() {
		l.mu.Lock()
		now := time.Now()
		next := e.deadline.Add(e.period)
		if next.Before(now) {
			next = now // clamp: no catch-up burst
		}
		e.deadline = next
		heap.Push(&l.timers, e)
		l.mu.Unlock()
	}
}

// Stop requests the loop to exit. Cooperative: the flag is observed between
// dispatches, never pre-empting a running callback. Safe to call multiple
// times (within the same Run/Stop cycle) and from within a callback.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
}

// Stopped reports whether Stop has been called for the current cycle (the
// loop may still be unwinding its final callback).
func (l *Loop) Stopped() bool {
	l.mu.Lock()
	stopCh := l.stopCh
	l.mu.Unlock()
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

// Wait blocks until Run has returned for the current cycle.
func (l *Loop) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	<-done
}
