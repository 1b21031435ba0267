package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Static relay paths, per spec.md §3: "Immutable static paths: events,
// message, verify."
const (
	pathEvents  = "events"
	pathMessage = "message"
	pathVerify  = "verify"
)

// DefaultSubscriptionDeadline bounds a single SSE open attempt, per
// spec.md §6's configuration defaults.
const DefaultSubscriptionDeadline = 14000 * time.Millisecond

// DefaultSendTTL is the relay TTL (seconds) applied when send() is not
// given one explicitly.
const DefaultSendTTL = 300

// GatewayOpenParams configures NewGateway / OpenGateway.
type GatewayOpenParams struct {
	BridgeURL            string
	SessionIDs           []string
	Listener             func(rawFrame)
	ErrorsListener       func(error)
	LastEventID          string
	HeartbeatFormat      string
	EnableQueueDoneEvent bool
	HTTPClient           *http.Client
}

// RegisterOptions bounds one registerSession call.
type RegisterOptions struct {
	ConnectingDeadline time.Duration
}

// Gateway manages one SSE subscription and performs HTTP POST sends. It is
// the lower layer of the duplex bridge: spec.md §4.4.
type Gateway struct {
	bridgeURL            string
	sessionIDs           []string
	heartbeatFormat      string
	enableQueueDoneEvent bool
	httpClient           *http.Client

	mu             sync.Mutex
	lastEventID    string
	listener       func(rawFrame)
	errorsListener func(error)

	cell *resourceCell[*sseSubscription]
}

// NewGateway constructs a Gateway without opening a subscription. Provider
// uses this separately from RegisterSession so it can fire its onConnecting
// callback in between construction and the network attempt (spec.md §4.5's
// internal openGateway: "build a new Gateway ... invoke onConnecting; call
// registerSession").
func NewGateway(p GatewayOpenParams) *Gateway {
	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Gateway{
		bridgeURL:            p.BridgeURL,
		sessionIDs:           dedupeStrings(p.SessionIDs),
		heartbeatFormat:      p.HeartbeatFormat,
		enableQueueDoneEvent: p.EnableQueueDoneEvent,
		httpClient:           httpClient,
		lastEventID:          p.LastEventID,
		listener:             p.Listener,
		errorsListener:       p.ErrorsListener,
		cell:                 newResourceCell[*sseSubscription](),
	}
}

// OpenGateway constructs a Gateway and registers its SSE subscription. On
// any failure the partially-built Gateway is disposed before the error is
// returned, per spec.md §3's factory-lifecycle invariant.
func OpenGateway(ctx context.Context, p GatewayOpenParams) (*Gateway, error) {
	if len(p.SessionIDs) == 0 {
		return nil, NewBridgeError(KindInternal, "OpenGateway requires at least one session id", nil)
	}
	g := NewGateway(p)
	if err := g.RegisterSession(ctx, RegisterOptions{}); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

// RegisterSession opens the SSE subscription and returns once the server
// has emitted "open". opts.ConnectingDeadline (defaulting to
// DefaultSubscriptionDeadline) bounds only the open attempt: a subscription
// that opened in time keeps running under ctx after this call returns.
func (g *Gateway) RegisterSession(ctx context.Context, opts RegisterOptions) error {
	deadline := opts.ConnectingDeadline
	if deadline <= 0 {
		deadline = DefaultSubscriptionDeadline
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	connCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(deadline, cancel)
	_, err := g.cell.create(connCtx, g.connectFactory)
	if !timer.Stop() {
		err = NewBridgeError(KindConnectBeforeOpen, "subscription deadline exceeded", context.DeadlineExceeded)
	}
	if err != nil {
		cancel()
	}
	return err
}

func (g *Gateway) connectFactory(ctx context.Context) (*sseSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewBridgeError(KindCancelled, "aborted before connection", err)
	}

	subURL := g.subscriptionURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subURL, nil)
	if err != nil {
		return nil, NewBridgeError(KindInternal, "build subscribe request", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, NewBridgeError(KindConnectBeforeOpen, "bridge error before connecting", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, NewBridgeError(KindConnectBeforeOpen,
			fmt.Sprintf("subscribe returned http %d", resp.StatusCode), nil)
	}

	if err := ctx.Err(); err != nil {
		resp.Body.Close()
		return nil, NewBridgeError(KindCancelled, "aborted right after open", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSSESubscription(resp.Body, cancel)
	sub.markOpen()

	go g.readLoop(subCtx, sub, resp.Body)

	return sub, nil
}

func (g *Gateway) readLoop(ctx context.Context, sub *sseSubscription, body io.ReadCloser) {
	err := scanSSE(body, func(ev sseEvent) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.setLastEventID(ev.id)
		g.handleMessage(rawFrame{EventID: ev.id, Data: ev.data})
		return nil
	})

	if ctx.Err() != nil {
		// Cancelled (superseded by a new create, or explicit Close): no
		// delivery to the error listener, per spec.md §5.
		sub.Close()
		return
	}
	if err != nil && err != io.EOF {
		sub.Close()
		g.handleError(classifySSEError(sub, err))
		return
	}

	// Stream ended cleanly without an external cancellation: treat as a
	// post-open error so the Provider's supervision notices the gap.
	sub.Close()
	g.handleError(classifySSEError(sub, io.ErrUnexpectedEOF))
}

func classifySSEError(sub *sseSubscription, cause error) error {
	if !sub.everOpened() {
		return NewBridgeError(KindConnectBeforeOpen, "bridge error before connecting", cause)
	}
	return NewBridgeError(KindConnectAfterOpen, "bridge error after connecting", cause)
}

func (g *Gateway) handleMessage(frame rawFrame) {
	g.mu.Lock()
	listener := g.listener
	g.mu.Unlock()
	if listener != nil {
		listener(frame)
	}
}

func (g *Gateway) handleError(err error) {
	g.mu.Lock()
	errorsListener := g.errorsListener
	g.mu.Unlock()
	if errorsListener != nil {
		errorsListener(err)
	}
}

func (g *Gateway) setLastEventID(id string) {
	if id == "" {
		return
	}
	g.mu.Lock()
	g.lastEventID = id
	g.mu.Unlock()
}

// LastEventID returns the most recently observed relay event id.
func (g *Gateway) LastEventID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastEventID
}

// SetListener swaps the message callback.
func (g *Gateway) SetListener(l func(rawFrame)) {
	g.mu.Lock()
	g.listener = l
	g.mu.Unlock()
}

// SetErrorsListener swaps the error callback.
func (g *Gateway) SetErrorsListener(l func(error)) {
	g.mu.Lock()
	g.errorsListener = l
	g.mu.Unlock()
}

// IsReady reports whether the SSE subscription is open.
func (g *Gateway) IsReady() bool {
	sub, ok := g.cell.get()
	return ok && sub.State() == subOpen
}

// IsConnecting reports whether the SSE subscription is mid-handshake.
func (g *Gateway) IsConnecting() bool {
	sub, ok := g.cell.get()
	return ok && sub.State() == subConnecting
}

// IsClosed reports whether the gateway has no live subscription — either
// it never registered one, or the held one has errored/closed.
func (g *Gateway) IsClosed() bool {
	sub, ok := g.cell.get()
	return !ok || sub.State() == subClosed
}

// Close disposes the subscription resource. Idempotent.
func (g *Gateway) Close() error {
	g.cell.dispose()
	return nil
}

func (g *Gateway) subscriptionURL() string {
	return buildSubscriptionURL(g.bridgeURL, g.sessionIDs, g.LastEventID(), g.heartbeatFormat, g.enableQueueDoneEvent)
}

func buildSubscriptionURL(bridgeURL string, sessionIDs []string, lastEventID, heartbeatFormat string, enableQueueDoneEvent bool) string {
	ids := dedupeStrings(sessionIDs)
	u := joinURL(bridgeURL, pathEvents) + "?client_id=" + url.QueryEscape(strings.Join(ids, ","))
	if lastEventID != "" {
		u += "&last_event_id=" + url.QueryEscape(lastEventID)
	}
	if heartbeatFormat != "" {
		u += "&heartbeat=" + url.QueryEscape(heartbeatFormat)
	}
	if enableQueueDoneEvent {
		u += "&enable_queue_done_event=true"
	}
	return u
}

// SendOptions configures one POST /message call.
type SendOptions struct {
	Topic   string
	TTL     int // seconds, defaults to DefaultSendTTL
	TraceID string
}

// Send issues one HTTP POST to {bridgeUrl}/message, per spec.md §4.4.
func (g *Gateway) Send(ctx context.Context, message []byte, from, to string, opts SendOptions) error {
	return SendMessage(ctx, g.httpClient, g.bridgeURL, message, from, to, opts)
}

// SendMessage is the static (instance-independent) send the Provider calls
// directly so that sends never require an open subscription, per
// spec.md §4.5's "send does not require an open subscription".
func SendMessage(ctx context.Context, httpClient *http.Client, bridgeURL string, message []byte, from, to string, opts SendOptions) error {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSendTTL
	}

	u := joinURL(bridgeURL, pathMessage) + "?client_id=" + url.QueryEscape(from) +
		"&to=" + url.QueryEscape(to) + "&ttl=" + strconv.Itoa(ttl)
	if opts.Topic != "" {
		u += "&topic=" + url.QueryEscape(opts.Topic)
	}
	if opts.TraceID != "" {
		u += "&trace_id=" + url.QueryEscape(opts.TraceID)
	}

	body := base64.StdEncoding.EncodeToString(message)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(body))
	if err != nil {
		return NewBridgeError(KindInternal, "build send request", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return NewBridgeError(KindHTTPStatus, "send request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NewBridgeError(KindHTTPStatus, fmt.Sprintf("send returned http %d", resp.StatusCode), nil)
	}

	log.WithFields(logrus.Fields{"from": from, "to": to, "ttl": ttl}).Debug("bridge: message sent")
	return nil
}

// Verify issues one HTTP POST to {bridgeUrl}/verify.
func (g *Gateway) Verify(ctx context.Context, params VerifyParams) (*VerifyResult, error) {
	return VerifyRequest(ctx, g.httpClient, g.bridgeURL, params)
}

// VerifyRequest is the static counterpart of Verify.
func VerifyRequest(ctx context.Context, httpClient *http.Client, bridgeURL string, params VerifyParams) (*VerifyResult, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, NewBridgeError(KindInternal, "marshal verify params", err)
	}

	u := joinURL(bridgeURL, pathVerify)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, NewBridgeError(KindInternal, "build verify request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, NewBridgeError(KindHTTPStatus, "verify request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewBridgeError(KindHTTPStatus, fmt.Sprintf("verify returned http %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewBridgeError(KindInternal, "read verify response", err)
	}
	var result VerifyResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, NewBridgeError(KindParseOrDecrypt, "decode verify response", err)
	}
	return &result, nil
}
