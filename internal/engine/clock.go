package engine

import "time"

// SystemClock is the wall-clock implementation of Clock, in unix seconds.
type SystemClock struct{}

func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}
