package transport

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/arzzra/voicecore/pkg/sip/core/parser"
	"github.com/arzzra/voicecore/pkg/sip/core/types"
)

// UDPTransport UDP транспорт
type UDPTransport struct {
	mu   sync.RWMutex
	conn *net.UDPConn

	parser            parser.Parser
	messageHandler    MessageHandler
	connectionHandler ConnectionHandler
	errorHandler      ErrorHandler

	closed  atomic.Bool
	stats   TransportStats
	statsMu sync.RWMutex
	wg      sync.WaitGroup
}

// NewUDPTransport создает новый UDP транспорт
func NewUDPTransport() Transport {
	return &UDPTransport{
		parser: parser.NewParser(),
	}
}

func (t *UDPTransport) Network() string { return "udp" }
func (t *UDPTransport) Reliable() bool  { return false }
func (t *UDPTransport) Secure() bool    { return false }

func (t *UDPTransport) Listen(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return &TransportError{Transport: "udp", Operation: "listen", Err: err}
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return &TransportError{Transport: "udp", Operation: "listen", Err: err}
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.closed.Store(false)

	t.wg.Add(1)
	go t.readLoop(conn)

	return nil
}

func (t *UDPTransport) readLoop(conn *net.UDPConn) {
	defer t.wg.Done()

	buf := make([]byte, 65535)
	for {
		n, remoteAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if t.closed.Load() {
				return
			}
			t.incrementErrors()
			if t.errorHandler != nil {
				t.errorHandler(err, t)
			}
			continue
		}

		t.incrementReceived(uint64(n))

		msg, err := t.parser.ParseMessage(buf[:n])
		if err != nil {
			t.incrementErrors()
			if t.errorHandler != nil {
				t.errorHandler(err, t)
			}
			continue
		}

		if t.messageHandler != nil {
			t.messageHandler(msg, remoteAddr, t)
		}
	}
}

func (t *UDPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	t.wg.Wait()
	return err
}

func (t *UDPTransport) Send(msg types.Message, addr string) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if conn == nil || t.closed.Load() {
		return &TransportError{Transport: "udp", Operation: "send", Err: net.ErrClosed}
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return &TransportError{Transport: "udp", Operation: "resolve", Err: err}
	}

	data := msg.Bytes()
	if len(data) > 65507 {
		return ErrMessageTooLarge
	}

	n, err := conn.WriteToUDP(data, remoteAddr)
	if err != nil {
		t.incrementErrors()
		return &TransportError{Transport: "udp", Operation: "send", Err: err}
	}

	t.incrementSent(uint64(n))
	return nil
}

// SendTo реализует Transport.SendTo; UDP не поддерживает постоянные
// соединения, поэтому делегирует Send по адресу соединения.
func (t *UDPTransport) SendTo(msg types.Message, conn Connection) error {
	if conn == nil {
		return &TransportError{Transport: "udp", Operation: "sendto", Err: net.ErrClosed}
	}
	return t.Send(msg, conn.RemoteAddr().String())
}

func (t *UDPTransport) OnMessage(handler MessageHandler) {
	t.messageHandler = handler
}

func (t *UDPTransport) OnConnection(handler ConnectionHandler) {
	t.connectionHandler = handler
}

func (t *UDPTransport) OnError(handler ErrorHandler) {
	t.errorHandler = handler
}

func (t *UDPTransport) Stats() TransportStats {
	t.statsMu.RLock()
	defer t.statsMu.RUnlock()
	return t.stats
}

func (t *UDPTransport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

func (t *UDPTransport) incrementSent(bytes uint64) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.MessagesSent++
	t.stats.BytesSent += bytes
}

func (t *UDPTransport) incrementReceived(bytes uint64) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.MessagesReceived++
	t.stats.BytesReceived += bytes
}

func (t *UDPTransport) incrementErrors() {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.Errors++
}
