package session

import "time"

// Direction distinguishes traffic a session sends from traffic it receives
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Observer receives session events for metrics. Implementations must be safe
// for concurrent use and must not block.
type Observer interface {
	SessionOpened(role Role)
	SessionClosed(role Role, lifetime time.Duration)
	RequestCompleted(dir Direction, method string, elapsed time.Duration, err error)
	NotificationObserved(dir Direction, method string)
}

type nopObserver struct{}

func (nopObserver) SessionOpened(Role) {}

func (nopObserver) SessionClosed(Role, time.Duration) {}

func (nopObserver) RequestCompleted(Direction, string, time.Duration, error) {}

func (nopObserver) NotificationObserved(Direction, string) {}
