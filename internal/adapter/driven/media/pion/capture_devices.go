//go:build devices

package pion

import (
	"context"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/wacall/internal/core/domain"
)

// DeviceSource captures the default microphone through pion/mediadevices.
type DeviceSource struct {
	codecs *mediadevices.CodecSelector
}

func NewDeviceSource() (*DeviceSource, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	return &DeviceSource{
		codecs: mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&opusParams)),
	}, nil
}

func (s *DeviceSource) RegisterCodecs(m *webrtc.MediaEngine) error {
	s.codecs.Populate(m)
	return nil
}

func (s *DeviceSource) Open(ctx context.Context) (Capture, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: s.codecs,
	})
	if err != nil {
		return nil, domain.NewCallError(domain.KindMediaUnavailable, "Microphone access denied", err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, domain.NewCallError(domain.KindMediaUnavailable, "No microphone found", nil)
	}
	for _, extra := range tracks[1:] {
		extra.Close()
	}

	track := tracks[0]
	track.OnEnded(func(err error) {
		if err != nil {
			log.Warn().Err(err).Msg("Microphone track ended")
		}
	})
	return &deviceCapture{track: track}, nil
}

type deviceCapture struct {
	track mediadevices.Track
}

func (c *deviceCapture) Track() webrtc.TrackLocal {
	return c.track
}

func (c *deviceCapture) Close() error {
	return c.track.Close()
}
