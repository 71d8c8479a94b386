package session

import "time"

// Timer is a pending deferred action.
type Timer interface {
	// Stop prevents the action from running. It reports false if the action
	// already ran or was already stopped.
	Stop() bool
}

// Scheduler runs deferred actions.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemScheduler schedules actions on the wall clock.
func SystemScheduler() Scheduler {
	return clockScheduler{}
}
