package invite

import (
	"fmt"
	"net"
	"strconv"

	"github.com/arzzra/voicecore/pkg/media"
	"github.com/arzzra/voicecore/pkg/mediasession"
	"github.com/arzzra/voicecore/pkg/sip/core/sdp"
	rtpsession "github.com/arzzra/voicecore/pkg/rtp"
)

// negotiatedAudio is what one call's offer/answer exchange settles on: the
// remote RTP endpoint and the payload type/clock rate both sides agreed to
// use, extracted from the negotiated local/remote SDP (spec §4.6: "build one
// audio stream from negotiated SDP, extract remote RTP/RTCP address/codec/
// ptime/jitter params").
type negotiatedAudio struct {
	remoteAddr  string
	payloadType rtpsession.PayloadType
	clockRate   uint32
}

// firstAudioMedia returns the first audio m= line of an SDP session, or nil
// if it declares none.
func firstAudioMedia(s *sdp.Session) *sdp.MediaDescription {
	if s == nil {
		return nil
	}
	for _, m := range s.MediaDescriptions() {
		if m.MediaType() == "audio" {
			return m
		}
	}
	return nil
}

// negotiateAudio reconciles the local and remote SDP of a completed
// offer/answer round into the parameters a media session is built from. It
// picks the remote side's connection address/port (falling back to the
// session-level c= line) and the first shared rtpmap payload type.
func negotiateAudio(local, remote *sdp.Session) (*negotiatedAudio, error) {
	remoteMedia := firstAudioMedia(remote)
	if remoteMedia == nil {
		return nil, fmt.Errorf("invite: remote SDP has no audio media")
	}

	addr := remoteMedia.ConnectionAddress()
	if addr == "" {
		addr = remote.ConnectionAddress()
	}
	if addr == "" || remoteMedia.IsZeroConnection() {
		return nil, fmt.Errorf("invite: remote SDP has no usable connection address")
	}

	pt := rtpsession.PayloadTypePCMU
	clockRate := uint32(8000)

	localMedia := firstAudioMedia(local)
	if localMedia != nil {
		if maps := intersectRTPMaps(localMedia.RTPMaps(), remoteMedia.RTPMaps()); len(maps) > 0 {
			pt = rtpsession.PayloadType(maps[0].PayloadType)
			clockRate = uint32(maps[0].ClockRate)
		}
	}

	return &negotiatedAudio{
		remoteAddr:  net.JoinHostPort(addr, strconv.Itoa(remoteMedia.Port())),
		payloadType: pt,
		clockRate:   clockRate,
	}, nil
}

// intersectRTPMaps returns the remote rtpmap entries whose payload type also
// appears in local, in the remote side's offered order — the set both SDPs
// actually agreed on.
func intersectRTPMaps(local, remote []sdp.RTPMap) []sdp.RTPMap {
	wanted := make(map[int]bool, len(local))
	for _, m := range local {
		wanted[m.PayloadType] = true
	}
	var out []sdp.RTPMap
	for _, m := range remote {
		if wanted[m.PayloadType] {
			out = append(out, m)
		}
	}
	return out
}

// BuildMediaFromPool is BuildMedia for callers that don't want to pick a
// local RTP port themselves: it allocates one from pool, builds the media
// session on localHost:port, and arranges for the port to return to pool
// when the call disconnects.
func (s *Session) BuildMediaFromPool(localHost string, pool *mediasession.PortPool, codec mediasession.Codec, jitter media.JitterBufferConfig) (*mediasession.Session, error) {
	port, err := pool.Allocate()
	if err != nil {
		return nil, fmt.Errorf("invite: allocate rtp port: %w", err)
	}

	ms, err := s.BuildMedia(net.JoinHostPort(localHost, strconv.Itoa(int(port))), codec, jitter)
	if err != nil {
		_ = pool.Release(port)
		return nil, err
	}

	s.mu.Lock()
	s.mediaPool = pool
	s.mediaPort = port
	s.mu.Unlock()
	return ms, nil
}

// BuildMedia constructs the mediasession.Session (spec §4.6 glue) for this
// call once negotiation has completed: it binds an RTP/UDP transport on
// localRTPAddr, points it at the address/payload type the offer/answer
// exchange settled on, and returns the resulting mixer.MediaPort-compatible
// session. codec may be nil to default to 20ms-framed linear PCM.
func (s *Session) BuildMedia(localRTPAddr string, codec mediasession.Codec, jitter media.JitterBufferConfig) (*mediasession.Session, error) {
	s.mu.Lock()
	local, remote := s.Negotiator.Local(), s.Negotiator.Remote()
	s.mu.Unlock()

	if local == nil || remote == nil {
		return nil, fmt.Errorf("invite: negotiation incomplete, cannot build media")
	}

	audio, err := negotiateAudio(local, remote)
	if err != nil {
		return nil, err
	}

	if codec == nil {
		codec = mediasession.NewLinearCodec(int(audio.clockRate) / 50)
	}

	transport, err := rtpsession.NewUDPTransport(rtpsession.TransportConfig{
		LocalAddr:  localRTPAddr,
		RemoteAddr: audio.remoteAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("invite: rtp transport: %w", err)
	}

	ms, err := mediasession.New(mediasession.Config{
		RTP: rtpsession.SessionConfig{
			PayloadType: audio.payloadType,
			MediaType:   rtpsession.MediaTypeAudio,
			ClockRate:   audio.clockRate,
			Transport:   transport,
			LocalSDesc:  rtpsession.SourceDescription{CNAME: localRTPAddr},
		},
		Jitter: jitter,
		Codec:  codec,
	})
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	s.mu.Lock()
	s.media = ms
	s.mu.Unlock()
	return ms, nil
}

// Media returns the media session built for this call by BuildMedia, or nil
// if none has been built yet (e.g. negotiation hasn't completed).
func (s *Session) Media() *mediasession.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media
}

// closeMedia tears down any media session attached to this call; called
// from transition() while s.mu is already held, so a hung-up call always
// releases its RTP socket and jitter buffer (spec §5: "media teardown" in
// the Endpoint.Close sequence) without re-entering the session's lock.
func (s *Session) closeMedia() {
	ms := s.media
	s.media = nil
	pool, port := s.mediaPool, s.mediaPort
	s.mediaPool = nil
	if ms != nil {
		_ = ms.Close()
	}
	if pool != nil {
		_ = pool.Release(port)
	}
}
