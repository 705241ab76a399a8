// Package clock provides the wall-clock source the engine reads once per
// command.
package clock

import "time"

// System reads the process wall clock in unix seconds.
type System struct{}

func (System) Now() int64 {
	return time.Now().Unix()
}
