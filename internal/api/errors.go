package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// Kind classifies a failed call.
type Kind int

const (
	// KindTransport covers network and decoding failures and any non-2xx
	// response that is not classified otherwise.
	KindTransport Kind = iota
	// KindAuth is an invalid credential or a lost session (401/403).
	KindAuth
	// KindValidation is raised locally before any request is made.
	KindValidation
	// KindConflict is a 409, e.g. an ingest cooldown.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	}
	return "transport"
}

type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error

	sentinel bool
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String() + " error"
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the Err* sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.sentinel && t.Kind == e.Kind
}

var (
	ErrAuth       = &Error{Kind: KindAuth, sentinel: true}
	ErrValidation = &Error{Kind: KindValidation, sentinel: true}
	ErrConflict   = &Error{Kind: KindConflict, sentinel: true}
	ErrTransport  = &Error{Kind: KindTransport, sentinel: true}
)

// Validation reports a client-side precondition failure.
func Validation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func kindForStatus(code int) Kind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusConflict:
		return KindConflict
	}
	return KindTransport
}

// StatusError builds the error for a non-2xx response.
func StatusError(code int, msg string) error {
	if msg == "" {
		msg = http.StatusText(code)
	}
	if msg == "" {
		msg = "HTTP " + strconv.Itoa(code)
	}
	return &Error{Kind: kindForStatus(code), Status: code, Message: msg}
}

func transportError(msg string, err error) error {
	return &Error{Kind: KindTransport, Message: msg + ": " + err.Error(), Err: err}
}

// IsCooldown reports the backend refusing a run right after one finished.
func IsCooldown(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindConflict && strings.Contains(strings.ToLower(e.Message), "just completed")
}

// IsAlreadyRunning reports the backend refusing a run while one is active.
func IsAlreadyRunning(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindConflict && strings.Contains(strings.ToLower(e.Message), "already running")
}
