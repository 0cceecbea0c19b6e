// Package stack provides Endpoint, the registry/lifecycle façade spec.md
// §6 models as one Config struct with functional options: it owns the
// transport listener, the dialog.Stack underneath it, and the max_calls
// admission check, and exposes NewInvite/OnIncomingDialog/OnRequest as the
// single entry point an application drives a call through (spec §9: "an
// explicit Endpoint value instead of global mutable state").
package stack

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/arzzra/voicecore/pkg/sip/core/types"
	"github.com/arzzra/voicecore/pkg/sip/dialog"
	"github.com/arzzra/voicecore/pkg/sip/transport"
)

// Endpoint is the concurrency-model's registry: one Endpoint owns one
// transport listener and one dialog.Stack, and serializes admission of new
// calls under registryMu (spec §5: "Endpoint registry mutex").
type Endpoint struct {
	cfg *Config

	transportMgr transport.TransportManager
	dialogStack  *dialog.Stack

	registryMu          sync.Mutex
	started             bool
	activeCalls          int
	userIncomingHandler func(dialog.IDialog)

	logger dialog.StructuredLogger
}

// New builds an Endpoint from opts without starting it. Call Start to bind
// the transport and begin accepting traffic.
func New(opts ...Option) (*Endpoint, error) {
	cfg := Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transportMgr := transport.NewTransportManager()

	host, port, err := splitHostPort(cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("stack: %w", err)
	}

	return &Endpoint{
		cfg:          cfg,
		transportMgr: transportMgr,
		dialogStack:  dialog.NewStack(transportMgr, host, port),
		logger:       dialog.GetDefaultLogger().WithComponent("endpoint"),
	}, nil
}

// Start registers the configured transport, binds the listener and brings
// up the dialog layer underneath it.
func (e *Endpoint) Start(ctx context.Context) error {
	e.registryMu.Lock()
	if e.started {
		e.registryMu.Unlock()
		return ErrAlreadyStarted
	}
	e.registryMu.Unlock()

	t, err := newTransport(e.cfg.Transport)
	if err != nil {
		e.logger.LogError(ctx, err, "failed to build transport")
		return err
	}
	if err := e.transportMgr.RegisterTransport(t); err != nil {
		wrapped := fmt.Errorf("stack: register transport: %w", err)
		e.logger.LogError(ctx, wrapped, "failed to register transport")
		return wrapped
	}
	if err := t.Listen(e.cfg.LocalAddr); err != nil {
		wrapped := fmt.Errorf("stack: listen: %w", err)
		e.logger.LogError(ctx, wrapped, "failed to listen", dialog.String("local_addr", e.cfg.LocalAddr))
		return wrapped
	}
	if err := e.transportMgr.Start(); err != nil {
		wrapped := fmt.Errorf("stack: start transport manager: %w", err)
		e.logger.LogError(ctx, wrapped, "failed to start transport manager")
		return wrapped
	}

	if err := e.dialogStack.Start(ctx); err != nil {
		wrapped := fmt.Errorf("stack: start dialog stack: %w", err)
		e.logger.LogError(ctx, wrapped, "failed to start dialog stack")
		return wrapped
	}

	e.dialogStack.OnIncomingDialog(e.admitIncoming)

	e.registryMu.Lock()
	e.started = true
	e.registryMu.Unlock()

	e.logger.Info(ctx, "endpoint started",
		dialog.String("local_addr", e.cfg.LocalAddr),
		dialog.String("transport", e.cfg.Transport),
		dialog.Int("max_calls", e.cfg.MaxCalls),
	)
	return nil
}

// Shutdown implements the quit-flag -> join -> grace -> teardown sequence
// (spec §5): it stops accepting new dialogs, lets dialog.Stack terminate
// the active ones, then releases the transport.
func (e *Endpoint) Shutdown(ctx context.Context) error {
	e.registryMu.Lock()
	if !e.started {
		e.registryMu.Unlock()
		return ErrNotStarted
	}
	e.started = false
	e.registryMu.Unlock()

	e.logger.Info(ctx, "endpoint shutting down")

	if err := e.dialogStack.Shutdown(ctx); err != nil {
		e.logger.LogError(ctx, err, "dialog stack shutdown failed")
		return err
	}
	return e.transportMgr.Stop()
}

// NewInvite originates a call, enforcing max_calls admission before
// delegating to the dialog layer.
func (e *Endpoint) NewInvite(ctx context.Context, target types.URI, opts dialog.InviteOpts) (dialog.IDialog, error) {
	if err := e.reserveSlot(); err != nil {
		return nil, err
	}

	dlg, err := e.dialogStack.NewInvite(ctx, target, opts)
	if err != nil {
		e.releaseSlot()
		return nil, err
	}
	e.trackTermination(dlg)
	return dlg, nil
}

// DialogByKey looks up an established dialog by its Call-ID/tag key.
func (e *Endpoint) DialogByKey(key dialog.DialogKey) (dialog.IDialog, bool) {
	return e.dialogStack.DialogByKey(key)
}

// OnIncomingDialog installs the handler invoked for each admitted inbound
// INVITE, before the 100 Trying is generated.
func (e *Endpoint) OnIncomingDialog(handler func(dialog.IDialog)) {
	e.registryMu.Lock()
	e.userIncomingHandler = handler
	e.registryMu.Unlock()
}

// OnRequest registers a handler for out-of-dialog requests (OPTIONS,
// MESSAGE, NOTIFY, ...).
func (e *Endpoint) OnRequest(method string, handler dialog.RequestHandler) {
	e.dialogStack.OnRequest(method, handler)
}

// ActiveCalls reports the number of dialogs currently admitted against
// max_calls.
func (e *Endpoint) ActiveCalls() int {
	e.registryMu.Lock()
	defer e.registryMu.Unlock()
	return e.activeCalls
}

// Config returns the Endpoint's effective configuration.
func (e *Endpoint) Config() *Config { return e.cfg }

func (e *Endpoint) reserveSlot() error {
	e.registryMu.Lock()
	defer e.registryMu.Unlock()
	if e.activeCalls >= e.cfg.MaxCalls {
		return ErrCapacityExceeded
	}
	e.activeCalls++
	return nil
}

func (e *Endpoint) releaseSlot() {
	e.registryMu.Lock()
	defer e.registryMu.Unlock()
	if e.activeCalls > 0 {
		e.activeCalls--
	}
}

func (e *Endpoint) trackTermination(dlg dialog.IDialog) {
	dlg.OnStateChange(func(state dialog.DialogState) {
		if state == dialog.DialogStateTerminated {
			e.releaseSlot()
		}
	})
}

// admitIncoming is installed as the dialog.Stack incoming-dialog handler:
// it enforces max_calls before forwarding to the application's handler,
// rejecting overflow calls instead of silently accepting past capacity.
func (e *Endpoint) admitIncoming(dlg dialog.IDialog) {
	if err := e.reserveSlot(); err != nil {
		e.logger.Warn(context.Background(), "rejecting call over max_calls capacity",
			dialog.String("dialog_id", dlg.Key().String()))
		_ = dlg.Reject(context.Background(), 486, "Busy Here")
		return
	}
	e.trackTermination(dlg)

	e.registryMu.Lock()
	h := e.userIncomingHandler
	e.registryMu.Unlock()
	if h != nil {
		h(dlg)
	}
}

// splitHostPort parses a "host:port" listen address, defaulting to the
// standard SIP port 5060 when port is omitted.
func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	if portStr == "" {
		return host, 5060, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}
