package domain

import (
	"errors"
	"fmt"
)

// Kind classifies errors for the HTTP boundary and for alerting.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindAuthentication
	KindUpstream
	KindPersistence
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthentication:
		return "authentication"
	case KindUpstream:
		return "upstream"
	case KindPersistence:
		return "persistence"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidState          = errors.New("invalid oauth state")
	ErrExpiredState          = errors.New("expired oauth state")
	ErrStateReplayed         = errors.New("oauth state already used")
	ErrDecryption            = errors.New("decryption failed")
	ErrTokenExchange         = errors.New("token exchange failed")
	ErrShopNotFound          = errors.New("shop not found")
	ErrIntegrationNotFound   = errors.New("integration not found")
	ErrUnknownProvider       = errors.New("unknown provider")
	ErrProviderNotConfigured = errors.New("provider not configured")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrTopicNotAllowed       = errors.New("webhook topic not allowed")
)

// Error attaches a Kind and the failing operation to a cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error, falling back to the sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindUnknown {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrExpiredState), errors.Is(err, ErrStateReplayed),
		errors.Is(err, ErrInvalidSignature):
		return KindAuthentication
	case errors.Is(err, ErrShopNotFound), errors.Is(err, ErrIntegrationNotFound), errors.Is(err, ErrUnknownProvider):
		return KindNotFound
	case errors.Is(err, ErrTokenExchange):
		return KindUpstream
	case errors.Is(err, ErrProviderNotConfigured):
		return KindConfiguration
	case errors.Is(err, ErrTopicNotAllowed):
		return KindValidation
	}
	return KindUnknown
}

// ProviderError carries a provider failure. Detail is for server logs only.
type ProviderError struct {
	Provider   Provider
	Endpoint   string
	StatusCode int
	Detail     string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Provider, e.Endpoint)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }
