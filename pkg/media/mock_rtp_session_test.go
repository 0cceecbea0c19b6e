package media

import (
	"fmt"
	"net"
	"time"

	rtpPkg "github.com/arzzra/voicecore/pkg/rtp"
	"github.com/pion/rtp"
)

// MockRTPSession is a minimal SessionRTP stand-in the session test
// suite drives directly, without a real UDP transport underneath it.
type MockRTPSession struct {
	id         string
	codec      string
	active     bool
	canSend    bool
	canReceive bool
}

func (m *MockRTPSession) Start() error {
	m.active = true
	return nil
}

func (m *MockRTPSession) Stop() error {
	m.active = false
	return nil
}

func (m *MockRTPSession) SendAudio(data []byte, ptime time.Duration) error {
	if !m.active {
		return fmt.Errorf("RTP session not active")
	}
	return nil
}

func (m *MockRTPSession) SendPacket(packet *rtp.Packet) error {
	if !m.active {
		return fmt.Errorf("RTP session not active")
	}
	return nil
}

func (m *MockRTPSession) GetState() int {
	if m.active {
		return 1
	}
	return 0
}

func (m *MockRTPSession) GetSSRC() uint32 {
	return 0x12345678
}

func (m *MockRTPSession) GetStatistics() interface{} {
	return map[string]interface{}{
		"packets_sent": 100,
		"bytes_sent":   8000,
	}
}

func (m *MockRTPSession) EnableRTCP(enabled bool) error {
	return nil
}

func (m *MockRTPSession) IsRTCPEnabled() bool {
	return false
}

func (m *MockRTPSession) GetRTCPStatistics() interface{} {
	return map[string]interface{}{
		"packets_sent":     50,
		"packets_received": 45,
		"octets_sent":      2000,
		"octets_received":  1800,
		"packets_lost":     2,
		"fraction_lost":    4,
		"jitter":           10,
	}
}

func (m *MockRTPSession) SendRTCPReport() error {
	if !m.active {
		return fmt.Errorf("RTP session not active")
	}
	return nil
}

func (m *MockRTPSession) RegisterIncomingHandler(handler func(*rtp.Packet, net.Addr)) {}

func (m *MockRTPSession) SetDirection(direction rtpPkg.Direction) error {
	m.canSend = direction == rtpPkg.DirectionSendRecv || direction == rtpPkg.DirectionSendOnly
	m.canReceive = direction == rtpPkg.DirectionSendRecv || direction == rtpPkg.DirectionRecvOnly
	return nil
}

func (m *MockRTPSession) GetDirection() rtpPkg.Direction {
	switch {
	case m.canSend && m.canReceive:
		return rtpPkg.DirectionSendRecv
	case m.canSend:
		return rtpPkg.DirectionSendOnly
	case m.canReceive:
		return rtpPkg.DirectionRecvOnly
	default:
		return rtpPkg.DirectionInactive
	}
}

func (m *MockRTPSession) CanSend() bool {
	return m.canSend
}

func (m *MockRTPSession) CanReceive() bool {
	return m.canReceive
}
