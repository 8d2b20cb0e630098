package util

import (
	"sync"
	"time"
)

// Clock is a source of the current time
type Clock interface {
	Now() time.Time
}

// Scheduler runs callbacks at a deadline. Every scheduled task is identified by
// a key: scheduling an existing key reschedules it, Cancel removes it so it
// never fires. Callbacks run on the scheduler's goroutine and must not block.
type Scheduler[K comparable] interface {
	Clock
	// Schedule registers fire to run at the given time
	Schedule(key K, at time.Time, fire func())
	// Cancel removes a scheduled task. Returns false if the key was not scheduled
	// (already fired or never scheduled).
	Cancel(key K) bool
}

// TimerWheel is a Scheduler backed by a single goroutine and one runtime timer.
// All pending tasks are kept in a MapHeap ordered by deadline, the runtime timer
// is always armed for the earliest one.
type TimerWheel[K comparable] struct {
	mu    sync.Mutex
	tasks *MapHeap[K, func()]
	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewTimerWheel creates a TimerWheel and starts its goroutine.
// Stop must be called to release it.
func NewTimerWheel[K comparable]() *TimerWheel[K] {
	w := &TimerWheel[K]{
		tasks: NewMapHeap[K, func()](),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// --------------------------------------------------------------------------
// Interface Methods (docu see util.Scheduler)
// --------------------------------------------------------------------------

func (w *TimerWheel[K]) Now() time.Time {
	return time.Now()
}

func (w *TimerWheel[K]) Schedule(key K, at time.Time, fire func()) {
	w.mu.Lock()
	w.tasks.AddItem(key, at, fire)
	w.mu.Unlock()
	w.poke()
}

func (w *TimerWheel[K]) Cancel(key K) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.tasks.RemoveByKey(key)
	return ok
}

// Len returns the number of pending tasks
func (w *TimerWheel[K]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tasks.Len()
}

// Stop terminates the goroutine. Pending tasks are discarded.
func (w *TimerWheel[K]) Stop() {
	w.once.Do(func() {
		close(w.stop)
		<-w.done
	})
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// poke wakes the goroutine so it re-arms the timer for a possibly earlier deadline
func (w *TimerWheel[K]) poke() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *TimerWheel[K]) run() {
	defer close(w.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		// collect everything that is due
		w.mu.Lock()
		now := time.Now()
		var due []func()
		for {
			item, ok := w.tasks.PopDue(now)
			if !ok {
				break
			}
			due = append(due, item.Value)
		}
		wait := time.Hour
		if next, ok := w.tasks.Peek(); ok {
			wait = next.Deadline.Sub(now)
		}
		w.mu.Unlock()

		// run outside the lock, callbacks may schedule new tasks
		for _, fire := range due {
			fire()
		}
		if len(due) > 0 {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-w.wake:
		case <-w.stop:
			return
		}
	}
}
