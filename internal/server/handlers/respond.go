package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
)

// DetailResponse is the error body every portal endpoint returns.
type DetailResponse struct {
	Detail string `json:"detail"`
}

// HTTPError carries the status and client-visible detail of a failed
// request. Err, when set, is logged but never sent.
type HTTPError struct {
	Status int
	Detail string
	Err    error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Detail + ": " + e.Err.Error()
	}
	return e.Detail
}

func (e *HTTPError) Unwrap() error { return e.Err }

func httpError(status int, detail string) error {
	return &HTTPError{Status: status, Detail: detail}
}

// ErrorResponder renders err as the response to r.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var (
	responderMu        sync.RWMutex
	httpErrorResponder ErrorResponder = respondWithDetail
)

// SetHTTPErrorResponder replaces how handler errors are rendered. nil
// restores the {"detail"} responder.
func SetHTTPErrorResponder(fn ErrorResponder) {
	if fn == nil {
		fn = respondWithDetail
	}
	responderMu.Lock()
	httpErrorResponder = fn
	responderMu.Unlock()
}

func ResetHTTPErrorResponder() {
	SetHTTPErrorResponder(nil)
}

// RespondWithError renders err through the current responder. The
// recovery middleware uses it for panics too.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	responderMu.RLock()
	fn := httpErrorResponder
	responderMu.RUnlock()
	fn(w, r, err)
}

// respondWithDetail writes {"detail": ...}. Errors that are not an
// *HTTPError become a bare 500 so internals never leak.
func respondWithDetail(w http.ResponseWriter, r *http.Request, err error) {
	var he *HTTPError
	if errors.As(err, &he) {
		WriteDetail(w, he.Status, he.Detail)
		return
	}
	WriteDetail(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteDetail writes {"detail": msg} with the given status.
func WriteDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, DetailResponse{Detail: msg})
}

// NotFound is the router's fallback for unknown paths.
func NotFound(w http.ResponseWriter, r *http.Request) {
	RespondWithError(w, r, httpError(http.StatusNotFound, "Not Found"))
}

// MethodNotAllowed is the router's fallback for known paths hit with the
// wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	RespondWithError(w, r, httpError(http.StatusMethodNotAllowed, "Method Not Allowed"))
}
