package handlers

import (
	"net/http"

	apperrors "github.com/pressgate/pressgate/internal/errors"
)

// The server package injects its centralized error responder at startup;
// until then failures fall back to the errors package directly.

type errorResponder func(http.ResponseWriter, *http.Request, error)

var defaultHTTPErrorResponder errorResponder = apperrors.RespondWithError

var httpErrorResponder = defaultHTTPErrorResponder

// SetHTTPErrorResponder replaces the responder used by all handlers. A nil
// responder restores the default.
func SetHTTPErrorResponder(responder func(http.ResponseWriter, *http.Request, error)) {
	if responder == nil {
		httpErrorResponder = defaultHTTPErrorResponder
		return
	}
	httpErrorResponder = responder
}

// ResetHTTPErrorResponder restores the default responder between tests.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultHTTPErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
