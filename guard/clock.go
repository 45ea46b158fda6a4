package guard

import "time"

// Clock abstracts time for the job poller so its bounded-attempt logic can be
// driven by a virtual clock in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock used outside of tests.
var SystemClock Clock = realClock{}
