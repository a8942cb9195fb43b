package clock

import "time"

// Clock supplies the current time. Injected so dialog and reminder logic can
// be tested against a fixed instant.
type Clock interface {
	Now() time.Time
}

type System struct{}

func (System) Now() time.Time { return time.Now() }
