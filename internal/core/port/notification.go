package port

import "github.com/Wyydra/wacall/internal/core/domain"

// NotificationFeed delivers platform push events in arrival order. The
// channel is closed when the feed stops.
type NotificationFeed interface {
	Notifications() <-chan domain.Notification
}
