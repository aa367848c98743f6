package tp

import "time"

// Clock supplies the time used for reassembly timeouts.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
