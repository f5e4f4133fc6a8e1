// ABOUTME: Tagged error type for runtime failures so callers can branch on kind.
// ABOUTME: Classifies HTTP statuses, API status strings and operation error codes.

package runtime

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Kind classifies a runtime failure.
type Kind int

const (
	// KindGeneric is any failure not otherwise classified.
	KindGeneric Kind = iota
	// KindNotFound covers missing projects, locations, buckets, resources
	// and a disabled API.
	KindNotFound
	// KindPermissionDenied means the principal lacks a role.
	KindPermissionDenied
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	default:
		return "generic"
	}
}

// Error is returned by every remote runtime call.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindGeneric if err is not an *Error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindGeneric
}

// IsNotFound reports whether err is a KindNotFound runtime error.
func IsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }

// IsPermissionDenied reports whether err is a KindPermissionDenied runtime error.
func IsPermissionDenied(err error) bool { return err != nil && KindOf(err) == KindPermissionDenied }

// httpError builds an Error from a failed HTTP response body.
func httpError(op string, status int, body []byte) *Error {
	doc := gjson.ParseBytes(body)
	e := &Error{
		Kind:    kindFromStatus(status, doc.Get("error.status").String()),
		Op:      op,
		Status:  status,
		Message: doc.Get("error.message").String(),
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func kindFromStatus(status int, apiStatus string) Kind {
	switch {
	case status == http.StatusNotFound || apiStatus == "NOT_FOUND":
		return KindNotFound
	case status == http.StatusForbidden || apiStatus == "PERMISSION_DENIED":
		return KindPermissionDenied
	default:
		return KindGeneric
	}
}

// Canonical codes used in long-running operation errors.
const (
	codeNotFound         = 5
	codePermissionDenied = 7
)

// operationError builds an Error from a finished operation's error field.
func operationError(op string, opErr gjson.Result) *Error {
	kind := KindGeneric
	switch opErr.Get("code").Int() {
	case codeNotFound:
		kind = KindNotFound
	case codePermissionDenied:
		kind = KindPermissionDenied
	}
	return &Error{Kind: kind, Op: op, Message: opErr.Get("message").String()}
}
