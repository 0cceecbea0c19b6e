package dialog

import (
	"context"
	"fmt"
	"sync"

	"github.com/arzzra/voicecore/pkg/sip/core/types"
	"github.com/arzzra/voicecore/pkg/sip/transaction"
)

// DialogTransactionManager is the subset of transaction services a dialog
// needs to originate in-dialog requests (BYE, REFER, re-INVITE, ...).
type DialogTransactionManager = transaction.TransactionManager

// DialogStateHandler is called with the new state on every transition.
type DialogStateHandler func(DialogState)

// DialogRequestHandler is called for every in-dialog request accepted by
// processRequest, after dialog-level bookkeeping (CSeq, target, state) runs.
type DialogRequestHandler func(dlg *sipDialog, req types.Message, tx transaction.Transaction)

// DialogResponseHandler is called for every in-dialog response delivered to
// a client transaction belonging to this dialog.
type DialogResponseHandler func(dlg *sipDialog, resp types.Message, tx transaction.Transaction)

// sipDialog реализация интерфейса IDialog (RFC 3261 §12)
type sipDialog struct {
	key   DialogKey
	isUAC bool

	localURI     types.URI
	remoteURI    types.URI
	localTarget  types.URI // Contact URI локальной стороны
	remoteTarget types.URI // Contact URI удаленной стороны

	stateMachine    *DialogStateMachine
	sequenceManager *SequenceManager
	targetManager   *TargetManager

	// Route set зафиксированный из Record-Route первого 2xx на INVITE
	routeSet []types.URI
	routeMu  sync.RWMutex

	transactionMgr DialogTransactionManager
	inviteTx       transaction.Transaction

	stateHandlers    []DialogStateHandler
	requestHandlers  []DialogRequestHandler
	responseHandlers []DialogResponseHandler
	bodyHandlers     []func(Body)
	handlersMu       sync.RWMutex

	// REFER (RFC 3515) подписки и активная транзакция перевода
	referTx            transaction.Transaction
	referSubscriptions map[string]*ReferSubscription
	mu                 sync.RWMutex

	// Аутентификация (повторная отправка запроса с Authorization на 401/407)
	credentials *Credentials
	authMu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	values sync.Map // для хранения произвольных данных

	secure bool // использовать SIPS

	logger StructuredLogger
}

// NewDialog создает новый диалог для переданного ключа и роли.
//
// isUAC=true для диалога, инициированного этим UA (исходящий INVITE),
// isUAC=false для диалога, принятого от удаленной стороны.
func NewDialog(key DialogKey, isUAC bool, localURI, remoteURI types.URI, txManager DialogTransactionManager) *sipDialog {
	ctx, cancel := context.WithCancel(context.Background())

	return &sipDialog{
		key:                 key,
		isUAC:               isUAC,
		localURI:            localURI,
		remoteURI:           remoteURI,
		stateMachine:        NewDialogStateMachine(isUAC),
		sequenceManager:     NewSequenceManager(GenerateInitialCSeq(), isUAC),
		targetManager:       NewTargetManager(remoteURI, isUAC),
		transactionMgr:      txManager,
		referSubscriptions:  make(map[string]*ReferSubscription),
		ctx:                 ctx,
		cancel:              cancel,
		logger:              GetDefaultLogger().WithComponent("dialog"),
	}
}

// Key возвращает идентификатор диалога
func (d *sipDialog) Key() DialogKey {
	return d.key
}

// CallID возвращает Call-ID диалога
func (d *sipDialog) CallID() string {
	return d.key.CallID
}

// LocalTag возвращает локальный tag
func (d *sipDialog) LocalTag() string {
	return d.key.LocalTag
}

// RemoteTag возвращает удаленный tag
func (d *sipDialog) RemoteTag() string {
	return d.key.RemoteTag
}

// State возвращает текущее состояние диалога
func (d *sipDialog) State() DialogState {
	return d.stateMachine.GetState()
}

// IsUAC возвращает true если этот диалог был создан исходящим INVITE
func (d *sipDialog) IsUAC() bool {
	return d.isUAC
}

// LocalURI возвращает локальный URI
func (d *sipDialog) LocalURI() types.URI {
	return d.localURI
}

// RemoteURI возвращает удаленный URI
func (d *sipDialog) RemoteURI() types.URI {
	return d.remoteURI
}

// LocalTarget возвращает локальный target (Contact)
func (d *sipDialog) LocalTarget() types.URI {
	return d.localTarget
}

// RemoteTarget возвращает удаленный target (Contact)
func (d *sipDialog) RemoteTarget() types.URI {
	return d.remoteTarget
}

// RouteSet возвращает зафиксированный route set диалога
func (d *sipDialog) RouteSet() []types.URI {
	d.routeMu.RLock()
	defer d.routeMu.RUnlock()

	routes := make([]types.URI, len(d.routeSet))
	copy(routes, d.routeSet)
	return routes
}

// LocalCSeq возвращает текущий локальный CSeq
func (d *sipDialog) LocalCSeq() uint32 {
	return d.sequenceManager.GetLocalCSeq()
}

// RemoteCSeq возвращает последний принятый удаленный CSeq
func (d *sipDialog) RemoteCSeq() uint32 {
	return d.sequenceManager.GetInviteCSeq()
}

// SetInviteTransaction связывает диалог с его исходной INVITE транзакцией
func (d *sipDialog) SetInviteTransaction(tx transaction.Transaction) {
	d.inviteTx = tx
}

// hasLRParam проверяет наличие lr параметра в URI
func hasLRParam(uri types.URI) bool {
	if uri == nil {
		return false
	}
	params := uri.Parameters()
	_, hasLR := params["lr"]
	return hasLR
}

// generateBranch генерирует уникальное значение branch для Via (RFC 3261 §8.1.1.7)
func generateBranch() string {
	return "z9hG4bK" + generateRandomString(16)
}

// buildRequest собирает in-dialog запрос: From/To с тегами, Call-ID, CSeq,
// Via, Contact, Route (из зафиксированного route set) и тело.
func (d *sipDialog) buildRequest(method string, body []byte, contentType string) (types.Message, error) {
	var cseq uint32
	if method == types.MethodACK {
		cseq = d.sequenceManager.GetInviteCSeq()
	} else {
		cseq = d.sequenceManager.NextLocalCSeq()
	}

	// Request-URI: первый route (strict routing) или remote target/URI
	requestURI := d.remoteTarget
	routes := d.RouteSet()
	if len(routes) > 0 {
		firstRoute := routes[0]
		if hasLRParam(firstRoute) {
			if requestURI == nil {
				requestURI = d.remoteTarget
			}
		} else {
			requestURI = firstRoute
			routes = routes[1:]
		}
	}
	if requestURI == nil {
		requestURI = d.remoteURI
	}
	if requestURI == nil {
		return nil, &DialogError{Code: 500, Message: "no valid request URI available"}
	}

	req := types.NewRequest(method, requestURI)

	if d.localURI == nil {
		return nil, &DialogError{Code: 500, Message: "local URI not set"}
	}
	fromAddr := types.NewAddress("", d.localURI)
	fromAddr.SetParameter("tag", d.key.LocalTag)
	req.SetHeader(types.HeaderFrom, fromAddr.String())

	if d.remoteURI == nil {
		return nil, &DialogError{Code: 500, Message: "remote URI not set"}
	}
	toAddr := types.NewAddress("", d.remoteURI)
	toAddr.SetParameter("tag", d.key.RemoteTag)
	req.SetHeader(types.HeaderTo, toAddr.String())

	req.SetHeader(types.HeaderCallID, d.key.CallID)
	req.SetHeader(types.HeaderCSeq, FormatCSeq(cseq, method))

	via := types.NewVia("SIP/2.0/UDP", "0.0.0.0", 0)
	via.Branch = generateBranch()
	req.SetHeader(types.HeaderVia, via.String())

	localTarget := d.localTarget
	if localTarget == nil {
		localTarget = d.localURI
	}
	contactAddr := types.NewAddress("", localTarget)
	req.SetHeader(types.HeaderContact, contactAddr.String())

	for _, route := range routes {
		routeAddr := types.NewAddress("", route)
		req.AddHeader(types.HeaderRoute, routeAddr.String())
	}

	req.SetHeader(types.HeaderMaxForwards, "70")

	if len(body) > 0 {
		req.SetBody(body)
		if contentType != "" {
			req.SetHeader(types.HeaderContentType, contentType)
		}
		req.SetHeader(types.HeaderContentLength, fmt.Sprintf("%d", len(body)))
	} else {
		req.SetHeader(types.HeaderContentLength, "0")
	}

	return req, nil
}

// createRequest строит in-dialog запрос не отправляя его, используется для
// ACK (отправляется напрямую, минуя транзакцию) и внутри SendRequestWithBody.
func (d *sipDialog) createRequest(method string) types.Message {
	req, err := d.buildRequest(method, nil, "")
	if err != nil {
		// Запрос все равно нужно вернуть вызывающему (ACK отправляется
		// best-effort); строим минимальный запрос напрямую на remote URI.
		return types.NewRequest(method, d.remoteURI)
	}
	return req
}

// SendRequest отправляет запрос в рамках диалога без тела
func (d *sipDialog) SendRequest(method string) (transaction.Transaction, error) {
	return d.SendRequestWithBody(method, nil, "")
}

// SendRequestWithBody отправляет запрос с телом в рамках диалога
func (d *sipDialog) SendRequestWithBody(method string, body []byte, contentType string) (transaction.Transaction, error) {
	state := d.stateMachine.GetState()
	if state == DialogStateTerminated {
		return nil, ErrTerminated
	}

	if state != DialogStateEstablished {
		switch method {
		case "BYE", "UPDATE", "INFO", "NOTIFY":
			return nil, &DialogError{
				Code:    481,
				Message: fmt.Sprintf("dialog must be confirmed for %s", method),
			}
		}
	}

	req, err := d.buildRequest(method, body, contentType)
	if err != nil {
		return nil, err
	}

	tx, err := d.transactionMgr.CreateClientTransaction(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return tx, nil
}

// Bye завершает диалог отправкой BYE
func (d *sipDialog) Bye(ctx context.Context, reason string) error {
	d.logger.WithDialog(d).Info(ctx, "sending BYE", String("reason", reason))

	req, err := d.buildRequest("BYE", nil, "")
	if err != nil {
		d.logger.WithDialog(d).LogError(ctx, err, "failed to build BYE request")
		return err
	}
	if reason != "" {
		req.SetHeader("Reason", reason)
	}

	tx, err := d.transactionMgr.CreateClientTransaction(req)
	if err != nil {
		wrapped := fmt.Errorf("failed to create BYE transaction: %w", err)
		d.logger.WithDialog(d).LogError(ctx, wrapped, "failed to create BYE transaction")
		return wrapped
	}

	tx.OnResponse(func(_ transaction.Transaction, resp types.Message) {
		if resp.StatusCode() >= 200 {
			_ = d.stateMachine.ProcessResponse("BYE", resp.StatusCode())
		}
	})

	if err := d.stateMachine.ProcessRequest("BYE", 0); err != nil {
		return err
	}

	return tx.SendRequest(req)
}

// Accept принимает входящий INVITE, отправляя 200 OK
func (d *sipDialog) Accept(ctx context.Context, opts ...ResponseOpt) error {
	if d.inviteTx == nil {
		err := fmt.Errorf("dialog: no INVITE transaction to accept")
		d.logger.WithDialog(d).LogError(ctx, err, "accept failed")
		return err
	}

	resp := types.NewResponse(200, "OK")
	resp.SetHeader(types.HeaderCallID, d.key.CallID)

	localTarget := d.localTarget
	if localTarget == nil {
		localTarget = d.localURI
	}
	if localTarget != nil {
		contactAddr := types.NewAddress("", localTarget)
		resp.SetHeader(types.HeaderContact, contactAddr.String())
	}

	for _, opt := range opts {
		opt(resp)
	}

	if err := d.inviteTx.SendResponse(resp); err != nil {
		wrapped := fmt.Errorf("failed to send 200 OK: %w", err)
		d.logger.WithDialog(d).LogError(ctx, wrapped, "accept failed")
		return wrapped
	}

	d.logger.WithDialog(d).Info(ctx, "dialog accepted")
	return d.stateMachine.ProcessResponse(types.MethodINVITE, 200)
}

// Reject отклоняет входящий INVITE заданным кодом/причиной
func (d *sipDialog) Reject(ctx context.Context, code int, reason string) error {
	if d.inviteTx == nil {
		err := fmt.Errorf("dialog: no INVITE transaction to reject")
		d.logger.WithDialog(d).LogError(ctx, err, "reject failed")
		return err
	}

	resp := types.NewResponse(code, reason)
	resp.SetHeader(types.HeaderCallID, d.key.CallID)

	if err := d.inviteTx.SendResponse(resp); err != nil {
		wrapped := fmt.Errorf("failed to send %d response: %w", code, err)
		d.logger.WithDialog(d).LogError(ctx, wrapped, "reject failed")
		return wrapped
	}

	d.logger.WithDialog(d).Info(ctx, "dialog rejected", Int("code", code), String("reason", reason))
	d.stateMachine.ForceTerminate()
	return nil
}

// OnBody регистрирует обработчик получения тела сообщения
func (d *sipDialog) OnBody(fn func(Body)) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.bodyHandlers = append(d.bodyHandlers, fn)
}

// notifyBody уведомляет зарегистрированные обработчики о новом теле
func (d *sipDialog) notifyBody(contentType string, data []byte) {
	if len(data) == 0 {
		return
	}
	d.handlersMu.RLock()
	handlers := make([]func(Body), len(d.bodyHandlers))
	copy(handlers, d.bodyHandlers)
	d.handlersMu.RUnlock()

	body := NewSimpleBody(contentType, data)
	for _, h := range handlers {
		h(body)
	}
}

// Close закрывает диалог без отправки BYE
func (d *sipDialog) Close() error {
	d.logger.WithDialog(d).Debug(d.ctx, "closing dialog")
	d.stateMachine.ForceTerminate()
	d.cancel()
	return nil
}

// OnStateChange регистрирует обработчик изменения состояния
func (d *sipDialog) OnStateChange(handler func(DialogState)) {
	d.stateMachine.OnStateChange(handler)
}

// OnRequest регистрирует обработчик входящих запросов
func (d *sipDialog) OnRequest(handler DialogRequestHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.requestHandlers = append(d.requestHandlers, handler)
}

// OnResponse регистрирует обработчик ответов
func (d *sipDialog) OnResponse(handler DialogResponseHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.responseHandlers = append(d.responseHandlers, handler)
}

// Context возвращает контекст диалога
func (d *sipDialog) Context() context.Context {
	return d.ctx
}

// SetValue сохраняет значение в контексте диалога
func (d *sipDialog) SetValue(key string, value interface{}) {
	d.values.Store(key, value)
}

// GetValue получает значение из контекста диалога
func (d *sipDialog) GetValue(key string) interface{} {
	value, _ := d.values.Load(key)
	return value
}

// notifyRequest уведомляет обработчики о входящем запросе
func (d *sipDialog) notifyRequest(req types.Message, tx transaction.Transaction) {
	d.handlersMu.RLock()
	handlers := make([]DialogRequestHandler, len(d.requestHandlers))
	copy(handlers, d.requestHandlers)
	d.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(d, req, tx)
	}
}

// notifyResponse уведомляет обработчики об ответе
func (d *sipDialog) notifyResponse(resp types.Message, tx transaction.Transaction) {
	d.handlersMu.RLock()
	handlers := make([]DialogResponseHandler, len(d.responseHandlers))
	copy(handlers, d.responseHandlers)
	d.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(d, resp, tx)
	}
}

// updateFromRequest обновляет target диалога из входящего запроса
func (d *sipDialog) updateFromRequest(req types.Message) error {
	if err := d.targetManager.UpdateFromRequest(req); err != nil {
		return err
	}

	contactHeader := req.GetHeader(types.HeaderContact)
	if contactHeader != "" && req.Method() != "REGISTER" {
		if addr, err := types.ParseAddress(contactHeader); err == nil && addr.URI() != nil {
			d.remoteTarget = addr.URI()
		}
	}

	return nil
}

// updateFromResponse обновляет target и (единожды) route set диалога из ответа
func (d *sipDialog) updateFromResponse(resp types.Message, method string) error {
	if err := d.targetManager.UpdateFromResponse(resp, method); err != nil {
		return err
	}

	if resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
		contactHeader := resp.GetHeader(types.HeaderContact)
		if contactHeader != "" {
			if addr, err := types.ParseAddress(contactHeader); err == nil && addr.URI() != nil {
				d.remoteTarget = addr.URI()
			}
		}

		if method == types.MethodINVITE {
			if err := d.ProcessRecordRoute(resp); err != nil {
				return err
			}
		}
	}

	return nil
}

// ProcessRecordRoute обрабатывает Record-Route заголовки из ответа
// и строит route set для диалога согласно RFC 3261. Route set фиксируется
// только один раз, на первом 2xx ответе на INVITE.
func (d *sipDialog) ProcessRecordRoute(resp types.Message) error {
	d.routeMu.Lock()
	defer d.routeMu.Unlock()

	if len(d.routeSet) > 0 {
		return nil
	}

	recordRouteHeaders := resp.GetHeaders(types.HeaderRecordRoute)
	if len(recordRouteHeaders) == 0 {
		return nil
	}

	var allRoutes []*types.Route
	for _, rrHeader := range recordRouteHeaders {
		routes, err := types.ParseRouteHeader(rrHeader)
		if err != nil {
			return fmt.Errorf("failed to parse Record-Route header: %w", err)
		}
		allRoutes = append(allRoutes, routes...)
	}

	d.routeSet = make([]types.URI, 0, len(allRoutes))
	if d.isUAC {
		for _, route := range allRoutes {
			if route.Address != nil && route.Address.URI() != nil {
				d.routeSet = append(d.routeSet, route.Address.URI())
			}
		}
	} else {
		for i := len(allRoutes) - 1; i >= 0; i-- {
			route := allRoutes[i]
			if route.Address != nil && route.Address.URI() != nil {
				d.routeSet = append(d.routeSet, route.Address.URI())
			}
		}
	}

	return nil
}

// ProcessRequest обрабатывает входящий запрос в контексте диалога
func (d *sipDialog) ProcessRequest(req types.Message) error {
	return d.processRequest(req, d.inviteTx)
}

// processRequest обрабатывает входящий запрос, привязывая его к транзакции tx
func (d *sipDialog) processRequest(req types.Message, tx transaction.Transaction) error {
	state := d.stateMachine.GetState()
	if state == DialogStateTerminated {
		return ErrTerminated
	}

	method := req.Method()

	// Повторный или более старый CSeq для того же метода означает
	// ретрансмит/переупорядочивание, не новый запрос.
	if cseqHeader := req.GetHeader(types.HeaderCSeq); cseqHeader != "" {
		if cseq, method, err := ParseCSeq(cseqHeader); err == nil && method != "ACK" && method != "CANCEL" {
			if !d.sequenceManager.ValidateRemoteCSeq(cseq, method) {
				return &DialogError{Code: 500, Message: "CSeq value is not higher than previous"}
			}
		}
	}

	if err := d.updateFromRequest(req); err != nil {
		return err
	}

	if err := d.stateMachine.ProcessRequest(method, 0); err != nil {
		return &DialogError{Code: 491, Message: err.Error()}
	}

	if body := req.Body(); len(body) > 0 {
		d.notifyBody(req.GetHeader(types.HeaderContentType), body)
	}

	d.notifyRequest(req, tx)

	return nil
}

// ProcessResponse обрабатывает ответ на запрос method в контексте диалога
func (d *sipDialog) ProcessResponse(resp types.Message, method string) error {
	return d.processResponse(resp, method, d.inviteTx)
}

// processResponse обрабатывает ответ, привязывая его к транзакции tx
func (d *sipDialog) processResponse(resp types.Message, method string, tx transaction.Transaction) error {
	if err := d.updateFromResponse(resp, method); err != nil {
		return err
	}

	if err := d.stateMachine.ProcessResponse(method, resp.StatusCode()); err != nil {
		return err
	}

	if body := resp.Body(); len(body) > 0 {
		d.notifyBody(resp.GetHeader(types.HeaderContentType), body)
	}

	d.notifyResponse(resp, tx)

	return nil
}
