package port

import "github.com/Wyydra/wacall/internal/core/domain"

// Presenter receives every snapshot the call service emits. Publish must not block.
type Presenter interface {
	Publish(snap domain.Snapshot)
}

type Client interface {
	ID() string
	SendSnapshot(snap domain.Snapshot) error
	Close() error
}
