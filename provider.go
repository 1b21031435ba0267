package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConnectionOptions configures RestoreConnection's retry and deadline
// policy, per spec.md §4.5. Exponential is a *bool so the spec's
// "default true for this call" can be distinguished from an explicit
// caller override to false.
type ConnectionOptions struct {
	LastEventID        string
	ConnectingDeadline time.Duration
	DelayMs            time.Duration
	MaxDelayMs         time.Duration
	Exponential        *bool
}

func (o ConnectionOptions) retryOptions() RetryOptions {
	delay := o.DelayMs
	if delay <= 0 {
		delay = 1000 * time.Millisecond
	}
	maxDelay := o.MaxDelayMs
	if maxDelay <= 0 {
		maxDelay = 7000 * time.Millisecond
	}
	exp := true
	if o.Exponential != nil {
		exp = *o.Exponential
	}
	return RetryOptions{Attempts: MaxAttempts, DelayMs: delay, Exponential: exp, MaxDelayMs: maxDelay}
}

func (o ConnectionOptions) connectingDeadline() time.Duration {
	if o.ConnectingDeadline <= 0 {
		return DefaultSubscriptionDeadline
	}
	return o.ConnectingDeadline
}

// BoolPtr is a small helper for populating ConnectionOptions.Exponential /
// SendMessageOptions.Exponential without a local variable at call sites.
func BoolPtr(b bool) *bool { return &b }

// SendMessageOptions configures Provider.Send, per spec.md §4.5.
type SendMessageOptions struct {
	TTL         int
	Topic       string
	TraceID     string
	Attempts    int
	DelayMs     time.Duration
	MaxDelayMs  time.Duration
	Exponential *bool
}

func (o SendMessageOptions) retryOptions() RetryOptions {
	attempts := o.Attempts
	if attempts <= 0 {
		attempts = MaxAttempts
	}
	delay := o.DelayMs
	if delay <= 0 {
		delay = 1000 * time.Millisecond
	}
	maxDelay := o.MaxDelayMs
	if maxDelay <= 0 {
		maxDelay = 7000 * time.Millisecond
	}
	exp := true
	if o.Exponential != nil {
		exp = *o.Exponential
	}
	return RetryOptions{Attempts: attempts, DelayMs: delay, Exponential: exp, MaxDelayMs: maxDelay}
}

// ProviderOpenParams configures OpenProvider.
type ProviderOpenParams[TOut, TIn any] struct {
	BridgeURL                  string
	Listener                   func(Event[TIn])
	ErrorListener              func(error)
	OnConnecting               func()
	HeartbeatReconnectInterval time.Duration
	HTTPClient                 *http.Client
	Clients                    []ClientConnection
	ConnectionOptions          ConnectionOptions
}

// Provider owns a set of client-sessions, drives (re)connection of its
// Gateway with retry and backoff, supervises a heartbeat watchdog,
// encrypts outgoing and decrypts incoming payloads, and dispatches events
// to a user listener. This is the upper layer of the duplex bridge:
// spec.md §4.5.
//
// TOut is the shape of messages the caller sends; TIn is the shape the
// caller's listener receives as Event[TIn].Payload. Parametrizing over
// both keeps the spec's "generic consumer" intent (spec.md §9) in a
// statically typed language, rather than discarding it the way a Go port
// that "represents both sides identically" would.
type Provider[TOut, TIn any] struct {
	bridgeURL      string
	httpClient     *http.Client
	listener       func(Event[TIn])
	errorListener  func(error)
	onConnecting   func()
	hbInterval     time.Duration

	mu                sync.Mutex
	clients           []ClientConnection
	lastEventID       string
	gateway           *Gateway
	heartbeatAt       time.Time
	connectionOptions ConnectionOptions
	genID             uint64
	genCtx            context.Context
	genCancel         context.CancelFunc
	hbCancel          context.CancelFunc
}

// OpenProvider constructs a Provider and runs RestoreConnection with the
// caller's initial clients and connection options. On failure the Provider
// is closed before the error is returned, per spec.md §4.5.
func OpenProvider[TOut, TIn any](ctx context.Context, p ProviderOpenParams[TOut, TIn]) (*Provider[TOut, TIn], error) {
	pr := &Provider[TOut, TIn]{
		bridgeURL:     p.BridgeURL,
		httpClient:    p.HTTPClient,
		listener:      p.Listener,
		errorListener: p.ErrorListener,
		onConnecting:  p.OnConnecting,
		hbInterval:    p.HeartbeatReconnectInterval,
	}
	if pr.httpClient == nil {
		pr.httpClient = http.DefaultClient
	}

	if err := pr.RestoreConnection(ctx, p.Clients, p.ConnectionOptions); err != nil {
		pr.Close()
		return nil, err
	}
	return pr, nil
}

// RestoreConnection replaces the active client set and lastEventId,
// supersedes the current generation, and (re)connects, per spec.md §4.5.
// If clients is empty it is a documented no-op.
func (pr *Provider[TOut, TIn]) RestoreConnection(ctx context.Context, clients []ClientConnection, opts ConnectionOptions) error {
	if len(clients) == 0 {
		log.Debug("bridge: restoreConnection called with no clients, ignoring")
		return nil
	}

	pr.mu.Lock()
	pr.clients = clients
	pr.lastEventID = opts.LastEventID
	pr.connectionOptions = opts
	pr.mu.Unlock()

	genCtx := pr.newGeneration(ctx)
	if genCtx.Err() != nil {
		return nil
	}

	pr.mu.Lock()
	oldGateway := pr.gateway
	pr.gateway = nil
	pr.mu.Unlock()
	if oldGateway != nil {
		if err := oldGateway.Close(); err != nil {
			pr.reportError(err)
		}
	}

	if err := pr.connectWithRetry(genCtx, opts); err != nil {
		return err
	}
	pr.armHeartbeat(genCtx)
	return nil
}

// UpdateClients swaps the active client set only if it actually changed
// (by session-id set equality), per spec.md §4.5 and the "no-op" testable
// property in spec.md §8.
func (pr *Provider[TOut, TIn]) UpdateClients(ctx context.Context, clients []ClientConnection) error {
	pr.mu.Lock()
	previousIDs := sessionIDsOf(pr.clients)
	newIDs := sessionIDsOf(clients)
	opts := pr.connectionOptions
	opts.LastEventID = pr.lastEventID
	pr.mu.Unlock()

	if sameSet(previousIDs, newIDs) {
		return nil
	}
	return pr.RestoreConnection(ctx, clients, opts)
}

func sessionIDsOf(clients []ClientConnection) []string {
	ids := make([]string, 0, len(clients))
	for _, c := range clients {
		if c.Session != nil {
			ids = append(ids, c.Session.SessionID())
		}
	}
	return ids
}

// Send encrypts message for clientSessionID and sends it through the
// retry engine via the static Gateway send path, so a send never needs an
// open subscription, per spec.md §4.5.
func (pr *Provider[TOut, TIn]) Send(ctx context.Context, message TOut, session *CryptoSession, clientSessionID string, opts SendMessageOptions) error {
	if ctx.Err() != nil {
		return nil
	}

	plaintext, err := json.Marshal(message)
	if err != nil {
		return NewBridgeError(KindInternal, "marshal outgoing message", err)
	}

	peerPub, err := DecodeHexPublicKey(clientSessionID)
	if err != nil {
		return NewBridgeError(KindInternal, "decode peer public key", err)
	}

	ciphertext, err := session.Encrypt(plaintext, peerPub)
	if err != nil {
		return NewBridgeError(KindInternal, "encrypt outgoing message", err)
	}

	topic := opts.Topic
	if topic == "" {
		var probe struct {
			Method string `json:"method"`
		}
		if json.Unmarshal(plaintext, &probe) == nil {
			topic = probe.Method
		}
	}

	traceID := opts.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	sendOpts := SendOptions{Topic: topic, TTL: opts.TTL, TraceID: traceID}

	pr.mu.Lock()
	bridgeURL := pr.bridgeURL
	httpClient := pr.httpClient
	pr.mu.Unlock()

	return Do(ctx, func(innerCtx context.Context) error {
		return SendMessage(innerCtx, httpClient, bridgeURL, ciphertext, session.SessionID(), clientSessionID, sendOpts)
	}, opts.retryOptions())
}

// Verify is a thin pass-through to the static VerifyRequest, using the
// Provider's bridge URL and HTTP client, so it works with or without an
// active Gateway (SPEC_FULL.md §10 supplement: callers should not need to
// reach into the Gateway for an operation the Provider already fronts).
func (pr *Provider[TOut, TIn]) Verify(ctx context.Context, params VerifyParams) (*VerifyResult, error) {
	pr.mu.Lock()
	bridgeURL := pr.bridgeURL
	httpClient := pr.httpClient
	pr.mu.Unlock()
	return VerifyRequest(ctx, httpClient, bridgeURL, params)
}

// Close tears down the gateway, stops the heartbeat watchdog, and clears
// lastEventId and clients. Idempotent.
func (pr *Provider[TOut, TIn]) Close() error {
	pr.mu.Lock()
	if pr.genCancel != nil {
		pr.genCancel()
		pr.genCancel = nil
	}
	if pr.hbCancel != nil {
		pr.hbCancel()
		pr.hbCancel = nil
	}
	gw := pr.gateway
	pr.gateway = nil
	pr.lastEventID = ""
	pr.clients = nil
	pr.mu.Unlock()

	if gw != nil {
		return gw.Close()
	}
	return nil
}

// Listen swaps the event callback.
func (pr *Provider[TOut, TIn]) Listen(cb func(Event[TIn])) {
	pr.mu.Lock()
	pr.listener = cb
	pr.mu.Unlock()
}

// SetOnConnecting swaps the onConnecting callback.
func (pr *Provider[TOut, TIn]) SetOnConnecting(cb func()) {
	pr.mu.Lock()
	pr.onConnecting = cb
	pr.mu.Unlock()
}

// SetErrorListener swaps the error callback.
func (pr *Provider[TOut, TIn]) SetErrorListener(cb func(error)) {
	pr.mu.Lock()
	pr.errorListener = cb
	pr.mu.Unlock()
}

// IsReady, IsConnecting, and IsClosed mirror the active Gateway's state,
// or are all false when there is no active Gateway (spec.md §4.5's state
// table).
func (pr *Provider[TOut, TIn]) IsReady() bool {
	gw := pr.currentGateway()
	return gw != nil && gw.IsReady()
}

func (pr *Provider[TOut, TIn]) IsConnecting() bool {
	gw := pr.currentGateway()
	return gw != nil && gw.IsConnecting()
}

func (pr *Provider[TOut, TIn]) IsClosed() bool {
	gw := pr.currentGateway()
	return gw != nil && gw.IsClosed()
}

func (pr *Provider[TOut, TIn]) currentGateway() *Gateway {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.gateway
}

// Pause and UnPause are optional/deprecated per spec.md §4.5: they forward
// to the active Gateway's resource cell without tearing down the Provider
// itself. Pause drops the live SSE subscription; UnPause re-registers it.
func (pr *Provider[TOut, TIn]) Pause() error {
	gw := pr.currentGateway()
	if gw == nil {
		return nil
	}
	return gw.Close()
}

func (pr *Provider[TOut, TIn]) UnPause(ctx context.Context) error {
	gw := pr.currentGateway()
	if gw == nil {
		return nil
	}
	pr.mu.Lock()
	deadline := pr.connectionOptions.connectingDeadline()
	pr.mu.Unlock()
	return gw.RegisterSession(ctx, RegisterOptions{ConnectingDeadline: deadline})
}

// GetCryptoSession looks up a client's session by clientId (the remote
// peer's hex public key) — NOT by sessionId, per spec.md §9's resolved
// open question.
func (pr *Provider[TOut, TIn]) GetCryptoSession(clientID string) (*CryptoSession, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	for _, c := range pr.clients {
		if c.ClientID == clientID {
			return c.Session, nil
		}
	}
	return nil, NewBridgeError(KindMissingClient, fmt.Sprintf("no crypto session registered for clientId %q", clientID), nil)
}

// newGeneration cancels the prior generation controller and installs a
// fresh child context derived from parent, per spec.md §5.
func (pr *Provider[TOut, TIn]) newGeneration(parent context.Context) context.Context {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.genCancel != nil {
		pr.genCancel()
	}
	child, cancel := context.WithCancel(parent)
	pr.genCtx = child
	pr.genCancel = cancel
	pr.genID++
	return child
}

func (pr *Provider[TOut, TIn]) generation() uint64 {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.genID
}

func (pr *Provider[TOut, TIn]) connectWithRetry(ctx context.Context, opts ConnectionOptions) error {
	return Do(ctx, func(innerCtx context.Context) error {
		return pr.openGatewayAttempt(innerCtx, opts)
	}, opts.retryOptions())
}

// openGatewayAttempt is the internal "openGateway" of spec.md §4.5: close
// any existing gateway, build a fresh one around the current clients and
// lastEventId, fire onConnecting, and register its subscription.
func (pr *Provider[TOut, TIn]) openGatewayAttempt(ctx context.Context, opts ConnectionOptions) error {
	if err := ctx.Err(); err != nil {
		return NewBridgeError(KindCancelled, "openGateway cancelled", err)
	}

	pr.mu.Lock()
	if pr.gateway != nil {
		pr.gateway.Close()
		pr.gateway = nil
	}
	ids := sessionIDsOf(pr.clients)
	lastEventID := pr.lastEventID
	bridgeURL := pr.bridgeURL
	httpClient := pr.httpClient
	pr.mu.Unlock()

	log.WithFields(logFields(pr.generation(), nil)).Debug("bridge: opening gateway")

	g := NewGateway(GatewayOpenParams{
		BridgeURL:       bridgeURL,
		SessionIDs:      ids,
		Listener:        pr.handleIncomingRaw,
		ErrorsListener:  pr.handleGatewayError,
		LastEventID:     lastEventID,
		HeartbeatFormat: "message",
		HTTPClient:      httpClient,
	})
	pr.fireOnConnecting()

	if err := g.RegisterSession(ctx, RegisterOptions{ConnectingDeadline: opts.connectingDeadline()}); err != nil {
		g.Close()
		return err
	}

	pr.mu.Lock()
	pr.gateway = g
	pr.mu.Unlock()
	return nil
}

// reconnect re-establishes the gateway using the current generation's
// context and the last-captured connection options, then re-arms the
// heartbeat watchdog on success. Triggered by the gateway error handler or
// the heartbeat watchdog itself.
func (pr *Provider[TOut, TIn]) reconnect(ctx context.Context) error {
	pr.mu.Lock()
	opts := pr.connectionOptions
	pr.mu.Unlock()

	if err := pr.connectWithRetry(ctx, opts); err != nil {
		return err
	}
	pr.armHeartbeat(ctx)
	return nil
}

func (pr *Provider[TOut, TIn]) fireOnConnecting() {
	pr.mu.Lock()
	cb := pr.onConnecting
	pr.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (pr *Provider[TOut, TIn]) reportError(err error) {
	if err == nil || IsCancelled(err) {
		return
	}
	pr.mu.Lock()
	cb := pr.errorListener
	pr.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// handleGatewayError implements spec.md §4.5's gateway error handler.
func (pr *Provider[TOut, TIn]) handleGatewayError(err error) {
	if IsCancelled(err) {
		return
	}

	pr.mu.Lock()
	gw := pr.gateway
	genCtx := pr.genCtx
	pr.mu.Unlock()

	// A Gateway's own subscription always closes itself before invoking
	// this handler (spec.md §4.4 step 3), so in practice gw.IsClosed() is
	// always true here for a live (non-superseded) gateway. The branch is
	// kept explicit to match spec.md §4.5/§9's documented structure and to
	// stay correct if that invariant ever loosens.
	if gw == nil || gw.IsClosed() || gw.IsConnecting() {
		if genCtx == nil {
			genCtx = context.Background()
		}
		pr.fireOnConnecting()
		if rerr := pr.reconnect(genCtx); rerr != nil && !IsCancelled(rerr) {
			pr.reportError(rerr)
		}
		return
	}

	pr.reportError(NewBridgeError(KindConnectAfterOpen, "gateway error", err))
}

// handleIncomingRaw implements spec.md §4.5's incoming message handler.
func (pr *Provider[TOut, TIn]) handleIncomingRaw(frame rawFrame) {
	if frame.Data == "heartbeat" {
		pr.mu.Lock()
		pr.heartbeatAt = time.Now()
		pr.mu.Unlock()
		return
	}

	var wire incomingWireFrame
	if err := json.Unmarshal([]byte(frame.Data), &wire); err != nil {
		pr.reportError(NewBridgeError(KindParseOrDecrypt, "parse incoming frame", err))
		return
	}

	session, err := pr.GetCryptoSession(wire.From)
	if err != nil {
		pr.reportError(err)
		return
	}

	ciphertext, err := base64.StdEncoding.DecodeString(wire.Message)
	if err != nil {
		pr.reportError(NewBridgeError(KindParseOrDecrypt, "decode message base64", err))
		return
	}

	fromPub, err := DecodeHexPublicKey(wire.From)
	if err != nil {
		pr.reportError(NewBridgeError(KindParseOrDecrypt, "decode from public key", err))
		return
	}

	plaintext, err := session.Decrypt(ciphertext, fromPub)
	if err != nil {
		pr.reportError(err)
		return
	}

	var payload TIn
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		pr.reportError(NewBridgeError(KindParseOrDecrypt, "parse decrypted payload", err))
		return
	}

	var reqSource *RequestSource
	if wire.RequestSource != "" {
		reqSource = pr.openRequestSource(session, wire.RequestSource)
	}

	pr.mu.Lock()
	if frame.EventID != "" {
		pr.lastEventID = frame.EventID
	}
	lastEventID := pr.lastEventID
	listener := pr.listener
	pr.mu.Unlock()

	if listener != nil {
		listener(Event[TIn]{
			LastEventID:   lastEventID,
			TraceID:       wire.TraceID,
			From:          wire.From,
			RequestSource: reqSource,
			ConnectSource: mapConnectSource(wire.ConnectSource),
			Payload:       payload,
		})
	}
}

func (pr *Provider[TOut, TIn]) openRequestSource(session *CryptoSession, encoded string) *RequestSource {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		pr.reportError(NewBridgeError(KindParseOrDecrypt, "decode request_source base64", err))
		return nil
	}
	opened, err := session.OpenAnonymousSeal(sealed)
	if err != nil {
		pr.reportError(err)
		return nil
	}
	var w requestSourceWire
	if err := json.Unmarshal(opened, &w); err != nil {
		pr.reportError(NewBridgeError(KindParseOrDecrypt, "parse request_source", err))
		return nil
	}
	mapped := mapRequestSource(w)
	return &mapped
}

// armHeartbeat starts the heartbeat watchdog (spec.md §4.5), replacing any
// previously running one. A zero hbInterval disables supervision entirely.
func (pr *Provider[TOut, TIn]) armHeartbeat(ctx context.Context) {
	pr.mu.Lock()
	if pr.hbCancel != nil {
		pr.hbCancel()
		pr.hbCancel = nil
	}
	pr.heartbeatAt = time.Now()
	interval := pr.hbInterval
	if interval <= 0 {
		pr.mu.Unlock()
		return
	}
	hbCtx, cancel := context.WithCancel(ctx)
	pr.hbCancel = cancel
	pr.mu.Unlock()

	go pr.heartbeatLoop(hbCtx, interval)
}

func (pr *Provider[TOut, TIn]) heartbeatLoop(ctx context.Context, interval time.Duration) {
	const grace = 100 * time.Millisecond

	for {
		pr.mu.Lock()
		last := pr.heartbeatAt
		pr.mu.Unlock()

		if elapsed := time.Since(last); elapsed < interval {
			if err := sleepCtx(ctx, interval/2); err != nil {
				return
			}
			continue
		}

		// Grace delay: the host's main loop may have been blocked; a
		// message could already be sitting unread. Give the runtime one
		// more turn before concluding the connection actually stalled.
		if err := sleepCtx(ctx, grace); err != nil {
			return
		}

		pr.mu.Lock()
		last = pr.heartbeatAt
		pr.mu.Unlock()
		if time.Since(last) < interval {
			continue
		}

		log.WithFields(logFields(pr.generation(), nil)).Warn("bridge: heartbeat stalled past threshold, reconnecting")
		if ctx.Err() != nil {
			return
		}
		pr.mu.Lock()
		genCtx := pr.genCtx
		pr.mu.Unlock()
		if err := pr.reconnect(genCtx); err != nil && !IsCancelled(err) {
			pr.reportError(err)
		}
		return
	}
}
