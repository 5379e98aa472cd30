package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error for callers that need more than the status code.
type Kind string

const (
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamUnreachable Kind = "upstream_unreachable"
	KindUnauthorized        Kind = "unauthorized"
	KindConflict            Kind = "conflict"
	KindBadRequest          Kind = "bad_request"
	KindValidation          Kind = "validation"
	KindPassthrough         Kind = "passthrough"
	KindInternal            Kind = "internal"
)

// Error is the single error type crossing component boundaries. Status is the
// HTTP status the router answers with and Detail is the text relayed to the
// client, usually the upstream response body.
type Error struct {
	Kind   Kind
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Kind, e.Status, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error. A zero status is replaced by 500.
func NewError(kind Kind, status int, detail string, err error) *Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return &Error{Kind: kind, Status: status, Detail: detail, Err: err}
}

// UpstreamStatusError maps a non-success upstream status to an Error that keeps
// the upstream code. 409 becomes KindConflict, everything else KindPassthrough.
func UpstreamStatusError(status int, body []byte) *Error {
	kind := KindPassthrough
	if status == http.StatusConflict {
		kind = KindConflict
	}
	return NewError(kind, status, string(body), nil)
}

// StatusOf returns the HTTP status carried by err, or 500 for foreign errors.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

// IsConflict reports whether err signals an address collision.
func IsConflict(err error) bool {
	return StatusOf(err) == http.StatusConflict
}
