package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-suite/meridian-authz/internal/shared"
)

// Sentinel errors owned by the HTTP layer.
var (
	ErrValidation = errors.New("validation failed")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Decision-layer failure modes (policy missing, assignment limit) never reach
// here; those surface as deny verdicts with a reason code. This mapping only
// handles transport and request-shape problems.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrUpstreamUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Upstream Unavailable", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
