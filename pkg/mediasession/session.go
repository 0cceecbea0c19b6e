package mediasession

import (
	"net"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/voicecore/pkg/media"
	"github.com/arzzra/voicecore/pkg/mixer"
	rtpsession "github.com/arzzra/voicecore/pkg/rtp"
)

// Session glues one negotiated media stream's RTP transport and jitter
// buffer to the conference mixer: it is the mixer.MediaPort a call's
// audio port is built from (spec §4.6). Decoding/encoding is delegated to
// Codec, kept out of core per spec's codec non-goal.
type Session struct {
	rtpSession *rtpsession.Session
	jitter     *media.JitterBuffer
	codec      Codec

	ptime time.Duration
	log   *logrus.Entry
}

// Config configures one media session.
type Config struct {
	RTP    rtpsession.SessionConfig
	Jitter media.JitterBufferConfig
	Codec  Codec
	Log    *logrus.Entry
}

// New creates a media session: starts the underlying RTP session and wires
// its packet-received callback into a fresh jitter buffer.
func New(cfg Config) (*Session, error) {
	jb, err := media.NewJitterBuffer(cfg.Jitter)
	if err != nil {
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	codec := cfg.Codec
	if codec == nil {
		codec = NewLinearCodec(int(float64(cfg.RTP.ClockRate) * cfg.Jitter.PacketTime.Seconds()))
	}

	s := &Session{jitter: jb, codec: codec, ptime: cfg.Jitter.PacketTime, log: log}

	rc, err := rtpsession.NewSession(cfg.RTP)
	if err != nil {
		return nil, err
	}
	rc.RegisterIncomingHandler(func(pkt *rtp.Packet, _ net.Addr) {
		if err := jb.Put(pkt); err != nil {
			s.log.WithError(err).Warn("jitter buffer rejected packet")
		}
	})
	s.rtpSession = rc

	if err := rc.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// GetFrame implements mixer.MediaPort: it pulls the next jitter-buffered
// RTP packet (if any) and decodes it to linear PCM.
func (s *Session) GetFrame() ([]int16, bool) {
	pkt, ok := s.jitter.Get()
	if !ok || pkt == nil {
		return nil, false
	}
	return s.codec.Decode(pkt.Payload), true
}

// PutFrame implements mixer.MediaPort: it encodes and sends one mixed
// frame, or emits RTP comfort silence suppression by skipping the send
// entirely on a no-audio marker (spec §4.4 invariant (b): "avoid breaking
// RTP discontinuous-transmission semantics").
func (s *Session) PutFrame(f mixer.Frame) error {
	if f.NoAudio {
		return nil
	}
	payload := s.codec.Encode(f.Samples)
	return s.rtpSession.SendAudio(payload, s.ptime)
}

// Close stops the RTP session and its jitter buffer.
func (s *Session) Close() error {
	s.jitter.Stop()
	return s.rtpSession.Stop()
}
