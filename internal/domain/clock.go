package domain

import "time"

// Clock supplies the current time. Auction deadlines are evaluated against
// it at call time; the clock is never owned by an auction instance.
type Clock interface {
	Now() time.Time
}
