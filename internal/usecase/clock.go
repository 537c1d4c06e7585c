package usecase

import "github.com/jonboulle/clockwork"

// clock stamps output history attributes. Tests freeze it via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source for history stamps. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}
