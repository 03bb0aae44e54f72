package service

import "time"

// Clock supplies the current instant. Every timestamp the service stores
// comes from here, always in UTC.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
