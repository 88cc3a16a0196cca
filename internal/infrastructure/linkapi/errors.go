package linkapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a remote failure.
type Kind int

const (
	// KindNetwork is a transport failure; the request may not have reached the server.
	KindNetwork Kind = iota + 1
	// KindServer is a 5xx response.
	KindServer
	// KindClient is a 4xx response.
	KindClient
	// KindProtocol is a success response whose body could not be used.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Op names a remote operation.
type Op string

const (
	OpCreateLinkToken   Op = "create link token"
	OpExchangeToken     Op = "exchange public token"
	OpFetchAccounts     Op = "fetch accounts"
	OpFetchTransactions Op = "fetch transactions"
	OpDeleteAccount     Op = "delete account"
)

// Sentinels for errors.Is. Kind sentinels match by failure class, operation
// sentinels match by the call that failed.
var (
	ErrNetwork  = errors.New("network error")
	ErrServer   = errors.New("server error")
	ErrClient   = errors.New("client error")
	ErrProtocol = errors.New("protocol error")

	ErrExchange = errors.New("exchange error")
	ErrFetch    = errors.New("fetch error")
)

// Error is returned by every Client method.
type Error struct {
	Op         Op
	Kind       Kind
	StatusCode int    // 0 for network failures
	Message    string // server-provided detail when available
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Op))
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind and operation sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrServer:
		return e.Kind == KindServer
	case ErrClient:
		return e.Kind == KindClient
	case ErrProtocol:
		return e.Kind == KindProtocol
	case ErrExchange:
		return e.Op == OpExchangeToken
	case ErrFetch:
		return e.Op == OpFetchAccounts || e.Op == OpFetchTransactions
	}
	return false
}

// UserMessage is the text suitable for display in a connection error banner.
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	switch e.Kind {
	case KindNetwork:
		return "Unable to reach the server. Check your connection and try again."
	case KindServer:
		return "The server is having trouble right now. Please try again later."
	}
	switch e.Op {
	case OpExchangeToken:
		return "Failed to connect your bank account."
	case OpCreateLinkToken:
		return "Failed to start the bank connection."
	case OpFetchAccounts, OpFetchTransactions:
		return "Failed to load your bank data."
	}
	return "Something went wrong."
}

func kindForStatus(status int) Kind {
	switch {
	case status == 0:
		return KindNetwork
	case status >= http.StatusInternalServerError:
		return KindServer
	default:
		return KindClient
	}
}

var connectivityHints = []string{
	"network",
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"timed out",
	"eof",
	"unreachable",
	"failed to fetch",
}

// IsRetryable reports whether err is transient: a 5xx, a network failure or
// a transport error whose message points at connectivity. 4xx and protocol
// errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case KindNetwork, KindServer:
			return true
		default:
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range connectivityHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// UserMessage extracts display text from any error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage()
	}
	return err.Error()
}
