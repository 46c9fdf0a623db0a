package server

import (
	"net/http"

	apperrors "github.com/pressgate/pressgate/internal/errors"
)

// HandleError is the single error responder every route goes through; it
// normalizes the error and writes the standard JSON failure body.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
