package pion

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/wacall/internal/core/domain"
)

// Source produces the local audio of a call.
type Source interface {
	// RegisterCodecs adds the codecs the source can emit to m.
	RegisterCodecs(m *webrtc.MediaEngine) error
	Open(ctx context.Context) (Capture, error)
}

// Capture is one open capture handle. Close stops it.
type Capture interface {
	Track() webrtc.TrackLocal
	Close() error
}

var opusCodec = webrtc.RTPCodecParameters{
	RTPCodecCapability: webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	},
	PayloadType: 111,
}

func registerOpus(m *webrtc.MediaEngine) error {
	return m.RegisterCodec(opusCodec, webrtc.RTPCodecTypeAudio)
}

// FileSource loops an Ogg/Opus file as the microphone.
type FileSource struct {
	Path string
}

func (s *FileSource) RegisterCodecs(m *webrtc.MediaEngine) error {
	return registerOpus(m)
}

func (s *FileSource) Open(ctx context.Context) (Capture, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, domain.NewCallError(domain.KindMediaUnavailable, "Audio source unavailable", err)
	}
	if _, _, err := oggreader.NewWith(f); err != nil {
		f.Close()
		return nil, domain.NewCallError(domain.KindMediaUnavailable, "Audio source is not an Ogg/Opus file", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(opusCodec.RTPCodecCapability, "audio", "wacall")
	if err != nil {
		f.Close()
		return nil, err
	}
	c := &fileCapture{
		file:  f,
		track: track,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go c.pump()
	return c, nil
}

type fileCapture struct {
	file  *os.File
	track *webrtc.TrackLocalStaticSample
	once  sync.Once
	quit  chan struct{}
	done  chan struct{}
}

func (c *fileCapture) Track() webrtc.TrackLocal {
	return c.track
}

func (c *fileCapture) Close() error {
	c.once.Do(func() { close(c.quit) })
	<-c.done
	return nil
}

func (c *fileCapture) pump() {
	defer close(c.done)
	defer c.file.Close()

	ogg, err := c.rewind()
	if err != nil {
		log.Error().Err(err).Str("file", c.file.Name()).Msg("Cannot read audio file")
		return
	}
	var lastGranule uint64

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
		}

		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if ogg, err = c.rewind(); err != nil {
				log.Error().Err(err).Msg("Cannot loop audio file")
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("Cannot parse audio file")
			return
		}

		var samples uint64
		if header.GranulePosition > lastGranule {
			samples = header.GranulePosition - lastGranule
		}
		lastGranule = header.GranulePosition
		duration := time.Duration(samples) * time.Second / 48000

		if err := c.track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			log.Debug().Err(err).Msg("Dropped audio sample")
		}
	}
}

func (c *fileCapture) rewind() (*oggreader.OggReader, error) {
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	ogg, _, err := oggreader.NewWith(c.file)
	return ogg, err
}
