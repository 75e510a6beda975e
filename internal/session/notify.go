package session

import (
	"time"

	"securevpn/internal/model"
)

// EventKind identifies a notification emitted by the Controller.
type EventKind int

const (
	EventDirectoryRefreshed EventKind = iota + 1
	EventDirectoryUnavailable
	EventConnected
	EventConnectFailed
	EventDisconnected
	EventDisconnectFailed
)

func (k EventKind) String() string {
	switch k {
	case EventDirectoryRefreshed:
		return "directory_refreshed"
	case EventDirectoryUnavailable:
		return "directory_unavailable"
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDisconnected:
		return "disconnected"
	case EventDisconnectFailed:
		return "disconnect_failed"
	default:
		return "unknown"
	}
}

// Event is a discrete notification for the presentation layer.
//
// Endpoint is the endpoint the event concerns (the selection for directory
// events). Err is set for the failure kinds and wraps the matching sentinel.
type Event struct {
	Kind      EventKind
	Endpoint  model.Endpoint
	SessionID string
	Err       error
	At        time.Time
}

// Notifier receives Controller events. Notify runs on the controller's
// event loop: it must not block and must not call back into the Controller.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Fanout delivers every event to each non-nil notifier in order.
func Fanout(notifiers ...Notifier) Notifier {
	return NotifierFunc(func(e Event) {
		for _, n := range notifiers {
			if n != nil {
				n.Notify(e)
			}
		}
	})
}
