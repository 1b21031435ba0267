package bridge

import (
	"context"
	"errors"
	"fmt"
)

// BridgeErrorKind categorizes the single error type the SDK surfaces to
// callers. See spec.md §7 for the full taxonomy this mirrors.
type BridgeErrorKind string

const (
	KindCancelled       BridgeErrorKind = "cancelled"
	KindConnectBeforeOpen BridgeErrorKind = "connect_before_open"
	KindConnectAfterOpen BridgeErrorKind = "connect_after_open"
	KindHTTPStatus      BridgeErrorKind = "http_status"
	KindParseOrDecrypt  BridgeErrorKind = "parse_or_decrypt"
	KindMissingClient   BridgeErrorKind = "missing_client"
	KindResourceRace    BridgeErrorKind = "resource_race"
	KindInternal        BridgeErrorKind = "internal"
)

// BridgeError is the one error kind that originates in the core. Every
// failure the SDK raises on its own behalf is a *BridgeError so callers can
// branch on Kind without digging through wrapped causes.
type BridgeError struct {
	Kind BridgeErrorKind
	Msg  string
	Err  error
}

func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bridge: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("bridge: %s: %s", e.Kind, e.Msg)
}

func (e *BridgeError) Unwrap() error { return e.Err }

// NewBridgeError constructs a *BridgeError, wrapping cause if non-nil.
func NewBridgeError(kind BridgeErrorKind, msg string, cause error) *BridgeError {
	return &BridgeError{Kind: kind, Msg: msg, Err: cause}
}

// IsCancelled reports whether err represents the current generation being
// cancelled — the one kind that is never handed to an errorListener.
func IsCancelled(err error) bool {
	var be *BridgeError
	if errors.As(err, &be) && be.Kind == KindCancelled {
		return true
	}
	return errors.Is(err, context.Canceled)
}
