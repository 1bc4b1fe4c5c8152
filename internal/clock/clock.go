// Package clock is the stubable time source. Anything timestamping run
// records goes through it so tests can pin the clock.
package clock

import "time"

// NowFunc yields the current time. Tests override it for determinism.
var NowFunc = time.Now

// Now returns the time reported by NowFunc.
func Now() time.Time { return NowFunc() }
