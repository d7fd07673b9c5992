package pion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/Wyydra/wacall/internal/core/domain"
)

// Sink consumes the remote party's audio.
type Sink interface {
	WriteRTP(p *rtp.Packet) error
	Close() error
}

type SinkFactory func(callID domain.CallID, codec webrtc.RTPCodecParameters) (Sink, error)

type discardSink struct{}

func (discardSink) WriteRTP(*rtp.Packet) error { return nil }
func (discardSink) Close() error               { return nil }

func Discard() SinkFactory {
	return func(domain.CallID, webrtc.RTPCodecParameters) (Sink, error) {
		return discardSink{}, nil
	}
}

// OggRecorder writes each remote Opus track to <dir>/<call>-<unix>.ogg.
// Other codecs are discarded.
func OggRecorder(dir string) SinkFactory {
	return func(callID domain.CallID, codec webrtc.RTPCodecParameters) (Sink, error) {
		if !strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus) {
			return discardSink{}, nil
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		channels := codec.Channels
		if channels == 0 {
			channels = 1
		}
		name := fmt.Sprintf("%s-%d.ogg", safeName(callID.String()), time.Now().Unix())
		w, err := oggwriter.New(filepath.Join(dir, name), codec.ClockRate, channels)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// guardedSink lets Release close a sink while its pump is still writing.
type guardedSink struct {
	mu     sync.Mutex
	sink   Sink
	closed bool
}

func (g *guardedSink) WriteRTP(p *rtp.Packet) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return os.ErrClosed
	}
	return g.sink.WriteRTP(p)
}

func (g *guardedSink) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.sink.Close()
}
