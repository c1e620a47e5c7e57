package engine

import "time"

// Timer is a single pending scheduled task. Stop cancels the task and
// reports whether it was still pending.
type Timer interface {
	Stop() bool
}

// Clock abstracts time for components that schedule deferred work: the
// playback scheduler's end-of-utterance check and the cancellation
// controller's fade steps. Re-arming or cancelling a task goes through the
// returned Timer, never through implicit interval bookkeeping.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc schedules f to run after d and returns the pending task.
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock returns a Clock backed by the runtime timers.
func SystemClock() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
