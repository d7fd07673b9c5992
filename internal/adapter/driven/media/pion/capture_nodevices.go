//go:build !devices

package pion

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/Wyydra/wacall/internal/core/domain"
)

// DeviceSource is unavailable in builds without the devices tag; every
// capture fails with MediaUnavailable.
type DeviceSource struct{}

func NewDeviceSource() (*DeviceSource, error) {
	return &DeviceSource{}, nil
}

func (s *DeviceSource) RegisterCodecs(m *webrtc.MediaEngine) error {
	return registerOpus(m)
}

func (s *DeviceSource) Open(ctx context.Context) (Capture, error) {
	return nil, domain.NewCallError(domain.KindMediaUnavailable, "Microphone capture is not available in this build", nil)
}
