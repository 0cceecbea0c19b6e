package stack

import (
	"fmt"
	"strings"

	"github.com/arzzra/voicecore/pkg/sip/transport"
)

// newTransport builds the concrete transport.Transport an Endpoint listens
// on for the configured network ("udp", "tcp" or "tls").
func newTransport(network string) (transport.Transport, error) {
	switch strings.ToLower(network) {
	case "", "udp":
		return transport.NewUDPTransport(), nil
	case "tcp":
		return transport.NewTCPTransport(), nil
	case "tls":
		return transport.NewTLSTransport(nil), nil
	default:
		return nil, fmt.Errorf("stack: unsupported transport %q", network)
	}
}
