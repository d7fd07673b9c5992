package pion

import (
	"github.com/pion/rtcp"
	"github.com/rs/zerolog"
)

// drainRTCP reads RTCP until the sender or receiver is closed. Reading is
// required for the interceptors to run.
func drainRTCP(l zerolog.Logger, read func() ([]rtcp.Packet, error)) {
	for {
		pkts, err := read()
		if err != nil {
			return
		}
		for _, p := range pkts {
			switch pkt := p.(type) {
			case *rtcp.ReceiverReport:
				for _, r := range pkt.Reports {
					l.Debug().
						Uint32("ssrc", r.SSRC).
						Uint8("fraction_lost", r.FractionLost).
						Uint32("total_lost", r.TotalLost).
						Uint32("jitter", r.Jitter).
						Msg("Receiver report")
				}
			case *rtcp.SenderReport:
				l.Debug().
					Uint32("ssrc", pkt.SSRC).
					Uint32("packets", pkt.PacketCount).
					Uint32("octets", pkt.OctetCount).
					Msg("Sender report")
			}
		}
	}
}
