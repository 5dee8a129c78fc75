// Package idle provides idle strategies for duty-cycle loops that poll
// for work without blocking.
//
// A loop calls IdleWork(n) after each unit of work, or Idle() when it has
// to wait, and Reset() before starting a new wait.
//
//	s := idle.NewBackoff(idle.BackoffConfig{})
//	s.Reset()
//	for !done() {
//	    s.IdleWork(doWork())
//	}
package idle
