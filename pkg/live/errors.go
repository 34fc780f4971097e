package live

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-live/pkg/audio"
	"github.com/teslashibe/go-live/pkg/protocol"
)

// ErrorKind classifies session failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindConfig is bad or missing input, detected before any I/O.
	KindConfig
	// KindNetwork is a transport failure.
	KindNetwork
	// KindAuth is a rejected credential. Do not retry with the same one.
	KindAuth
	// KindProtocol is an unexpected message shape or sequence.
	KindProtocol
	// KindTimeout is a setup handshake that was never acknowledged.
	KindTimeout
	// KindDevice is a microphone or speaker that could not be used.
	KindDevice
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindDevice:
		return "device"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is, one per kind.
var (
	ErrConfig   = errors.New("live: config error")
	ErrNetwork  = errors.New("live: network error")
	ErrAuth     = errors.New("live: auth error")
	ErrProtocol = errors.New("live: protocol error")
	ErrTimeout  = errors.New("live: setup timeout")
	ErrDevice   = errors.New("live: device error")
)

// Errors returned by Client operations.
var (
	// ErrNotReady is returned by sends outside the Ready state.
	ErrNotReady = errors.New("live: session not ready")

	// ErrAlreadyStarted is returned by a second Connect on the same client.
	ErrAlreadyStarted = errors.New("live: session already started")

	// ErrClosed is returned by Connect when Disconnect wins the race.
	ErrClosed = errors.New("live: session closed")

	// ErrQueueFull is returned when the outgoing queue cannot take a message.
	ErrQueueFull = errors.New("live: send queue full")
)

// Error is a classified session failure.
type Error struct {
	Kind ErrorKind
	Op   string // "connect", "read", "write", "setup", ...
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("live: %s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("live: %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindConfig:
		return ErrConfig
	case KindNetwork:
		return ErrNetwork
	case KindAuth:
		return ErrAuth
	case KindProtocol:
		return ErrProtocol
	case KindTimeout:
		return ErrTimeout
	case KindDevice:
		return ErrDevice
	}
	return nil
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, audio.ErrDevice) {
		return KindDevice
	}
	return KindUnknown
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// HandshakeError is a websocket upgrade the server refused.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed with HTTP %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// authReasons are substrings of close reasons the service uses for
// rejected credentials.
var authReasons = []string{"api key", "api_key", "credential", "unauthenticated", "permission", "unauthorized"}

func isAuthReason(reason string) bool {
	reason = strings.ToLower(reason)
	for _, r := range authReasons {
		if strings.Contains(reason, r) {
			return true
		}
	}
	return false
}

// classify maps a transport or codec error to a session error kind.
func classify(err error) ErrorKind {
	var hs *HandshakeError
	if errors.As(err, &hs) {
		switch hs.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return KindAuth
		}
		return KindNetwork
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.ClosePolicyViolation:
			return KindAuth
		case websocket.CloseInvalidFramePayloadData:
			if isAuthReason(ce.Text) {
				return KindAuth
			}
			return KindProtocol
		case websocket.CloseAbnormalClosure, websocket.CloseGoingAway:
			return KindNetwork
		}
		return KindProtocol
	}

	if errors.Is(err, protocol.ErrMalformed) {
		return KindProtocol
	}
	return KindNetwork
}
