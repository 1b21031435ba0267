package bridge

import "encoding/json"

// ClientConnection pairs one local session with one remote peer's public
// key, per spec.md §3. The Provider only borrows these; the caller owns
// construction, storage, and restoration across restarts.
type ClientConnection struct {
	Session  *CryptoSession
	ClientID string // hex public key of the remote peer
}

// rawFrame is the literal shape of an SSE "message" event body before any
// interpretation (heartbeat vs JSON) happens, per spec.md §6.
type rawFrame struct {
	EventID string
	Data    string
}

// incomingWireFrame is the relay's plaintext JSON envelope, snake_case on
// the wire per spec.md §9.
type incomingWireFrame struct {
	From           string          `json:"from"`
	Message        string          `json:"message"` // base64 ciphertext
	TraceID        string          `json:"trace_id,omitempty"`
	RequestSource  string          `json:"request_source,omitempty"` // base64 sealed JSON
	ConnectSource  *connectSourceWire `json:"connect_source,omitempty"`
}

type connectSourceWire struct {
	IP string `json:"ip"`
}

// requestSourceWire is the sealed payload's snake_case shape.
type requestSourceWire struct {
	Origin    string `json:"origin"`
	IP        string `json:"ip"`
	Time      int64  `json:"time"`
	UserAgent string `json:"user_agent"`
}

// RequestSource is the camelCase shape handed to the listener, per
// spec.md §9's snake_case-to-camelCase boundary mapping.
type RequestSource struct {
	Origin    string `json:"origin"`
	IP        string `json:"ip"`
	Time      int64  `json:"time"`
	UserAgent string `json:"userAgent"`
}

// ConnectSource is the camelCase shape handed to the listener.
type ConnectSource struct {
	IP string `json:"ip"`
}

func mapConnectSource(w *connectSourceWire) *ConnectSource {
	if w == nil {
		return nil
	}
	return &ConnectSource{IP: w.IP}
}

func mapRequestSource(w requestSourceWire) RequestSource {
	return RequestSource{Origin: w.Origin, IP: w.IP, Time: w.Time, UserAgent: w.UserAgent}
}

// Event wraps a decoded incoming payload with the envelope fields every
// delivered event carries, per spec.md §9: "The lastEventId and from
// fields must be present on every delivered event; the inner decrypted
// payload is spread alongside them." Go has no object spread, so the
// decoded payload is carried as Payload instead of being flattened.
type Event[TIn any] struct {
	LastEventID   string
	TraceID       string
	From          string
	RequestSource *RequestSource
	ConnectSource *ConnectSource
	Payload       TIn
}

// OutgoingEnvelope is the plaintext JSON that gets encrypted before being
// sent to the relay. Method drives automatic topic derivation in
// Provider.Send (spec.md §4.5).
type OutgoingEnvelope struct {
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     string          `json:"id,omitempty"`
}

// VerifyParams is the body of a POST /verify call, per spec.md §6.
type VerifyParams struct {
	ClientID string `json:"client_id"`
	URL      string `json:"url"`
	Type     string `json:"type"`
}

// VerifyResult is the decoded response of a POST /verify call.
type VerifyResult struct {
	Status string `json:"status"`
}
