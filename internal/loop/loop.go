// Package loop runs the timed background work of an actor: periodic emitters,
// pollers and liveness watchdogs share one cancellable task type.
package loop

import (
	"sync"
	"time"
)

// Task is a background goroutine that sleeps on a timer or a stop signal.
type Task struct {
	name  string
	stop  chan struct{}
	reset chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newTask(name string) *Task {
	return &Task{
		name:  name,
		stop:  make(chan struct{}),
		reset: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Every calls tick once per period until the task is stopped or tick returns
// false. The first call happens one period after start. Stopping never
// triggers a final tick.
func Every(name string, period time.Duration, tick func() bool) *Task {
	t := newTask(name)
	go func() {
		defer close(t.done)
		timer := time.NewTimer(period)
		defer timer.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-timer.C:
			}
			// A stop that raced the timer wins.
			select {
			case <-t.stop:
				return
			default:
			}
			if !tick() {
				return
			}
			timer.Reset(period)
		}
	}()
	return t
}

// Watch starts a watchdog. Each Reset restarts the window; if a window
// elapses without one, expire runs once and the task ends. Stop ends the
// task without running expire.
func Watch(name string, window time.Duration, expire func()) *Task {
	t := newTask(name)
	go func() {
		defer close(t.done)
		timer := time.NewTimer(window)
		defer timer.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-t.reset:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(window)
			case <-timer.C:
				select {
				case <-t.stop:
					return
				case <-t.reset:
					timer.Reset(window)
					continue
				default:
				}
				t.once.Do(func() { close(t.stop) })
				expire()
				return
			}
		}
	}()
	return t
}

// Name returns the label the task was started with.
func (t *Task) Name() string { return t.name }

// Reset restarts a watchdog window. It returns false once the task has
// stopped or expired.
func (t *Task) Reset() bool {
	if t.Stopped() {
		return false
	}
	select {
	case t.reset <- struct{}{}:
	default:
	}
	return true
}

// Stop signals the task to exit. Safe to call more than once.
func (t *Task) Stop() {
	t.once.Do(func() { close(t.stop) })
}

// Stopped reports whether Stop was called or the watchdog expired.
func (t *Task) Stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

// Done is closed when the goroutine has returned.
func (t *Task) Done() <-chan struct{} { return t.done }
