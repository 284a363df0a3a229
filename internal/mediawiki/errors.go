package mediawiki

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindTransport Kind = "transport"
	KindHTTP      Kind = "http"
	KindDecode    Kind = "decode"
	KindAPI       Kind = "api"
	KindAuth      Kind = "auth"
)

var (
	ErrEmptyResponse  = errors.New("empty response from server")
	ErrNoCredentials  = errors.New("missing username or password")
	ErrNoCSRFToken    = errors.New("no CSRF token")
	ErrLoginRejected  = errors.New("login rejected")
	ErrNoPageSelector = errors.New("page request needs titles or page ids")
)

// Error is returned by every Client call. Recovered reports that the call
// already degraded to an empty result and the caller may carry on.
type Error struct {
	Op        string
	Kind      Kind
	Recovered bool
	Code      string
	Err       error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mediawiki %s: %s %s: %v", e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("mediawiki %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func IsRecovered(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Recovered
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func recovered(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Recovered: true, Err: err}
}

func fromAPI(op string, ae *apiError) *Error {
	return &Error{Op: op, Kind: KindAPI, Recovered: true, Code: ae.Code, Err: errors.New(ae.Info)}
}
