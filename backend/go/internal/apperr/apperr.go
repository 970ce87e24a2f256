// Package apperr defines the error taxonomy shared by the RAG pipeline, the
// chat engine and the HTTP surface.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"ragcompare/backend/go/internal/models"
)

// Kind classifies an error by how callers are expected to react to it.
type Kind string

const (
	KindConfig           Kind = "config_error"
	KindInput            Kind = "input_error"
	KindEmbedding        Kind = "embedding_error"
	KindRetrieval        Kind = "retrieval_error"
	KindIndexNotFound    Kind = "index_not_found"
	KindModelUnavailable Kind = "model_unavailable"
	KindEmptyResponse    Kind = "empty_response"
	KindNotInitialized   Kind = "not_initialized"
	KindUnauthenticated  Kind = "unauthenticated"
	KindSessionNotFound  Kind = "session_not_found"
)

// Error is a classified error. Msg is user-facing; Err keeps the cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Sentinels for errors.Is. A sentinel matches any *Error of the same kind.
var (
	ErrConfig           = &Error{Kind: KindConfig}
	ErrInput            = &Error{Kind: KindInput}
	ErrEmbedding        = &Error{Kind: KindEmbedding}
	ErrRetrieval        = &Error{Kind: KindRetrieval}
	ErrIndexNotFound    = &Error{Kind: KindIndexNotFound}
	ErrModelUnavailable = &Error{Kind: KindModelUnavailable}
	ErrEmptyResponse    = &Error{Kind: KindEmptyResponse}
	ErrNotInitialized   = &Error{Kind: KindNotInitialized}
	ErrUnauthenticated  = &Error{Kind: KindUnauthenticated}
	ErrSessionNotFound  = &Error{Kind: KindSessionNotFound}
)

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields a plain *Error of that kind.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the outermost classification in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInput:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindIndexNotFound, KindSessionNotFound:
		return http.StatusNotFound
	case KindNotInitialized:
		return http.StatusConflict
	case KindEmptyResponse:
		return http.StatusUnprocessableEntity
	case KindEmbedding, KindRetrieval, KindModelUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Info converts err into the structured form the logger records.
func Info(err error) models.ErrorInfo {
	kind := KindOf(err)
	if kind == "" {
		kind = "internal_error"
	}
	return models.ErrorInfo{
		Message:    err.Error(),
		Type:       string(kind),
		StatusCode: HTTPStatus(err),
	}
}
