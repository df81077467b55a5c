package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-tours/meridian/internal/gateway"
	"github.com/meridian-tours/meridian/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var gwErr *gateway.Error
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &gwErr):
		if gwErr.Retryable() {
			Problem(w, http.StatusBadGateway, "Payment Gateway Unavailable", err.Error())
		} else {
			Problem(w, http.StatusUnprocessableEntity, "Payment Gateway Rejected", err.Error())
		}
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
