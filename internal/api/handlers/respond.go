package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dosetrack/go-mat/internal/domain/medicine"
	"github.com/dosetrack/go-mat/internal/domain/schedule"
)

// errorBody is the wire shape for all error responses. Details carries
// machine-readable quantity breakdowns where the domain provides them.
type errorBody struct {
	Error   string         `json:"error"`
	Details map[string]int `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorBody{Error: message})
}

// writeDomainError maps domain errors onto HTTP status codes: missing
// resources to 404, ownership to 403, state conflicts to 409, rejected input
// to 422, anything unrecognized to 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *schedule.InsufficientQuantityError
	var excess *schedule.ExcessQuantityError
	var stock *schedule.InsufficientStockError
	var times *schedule.TimesMismatchError

	switch {
	case errors.Is(err, schedule.ErrNotFound),
		errors.Is(err, schedule.ErrDoseLogNotFound),
		errors.Is(err, schedule.ErrDoseNotFound),
		errors.Is(err, medicine.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, schedule.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())

	case errors.Is(err, schedule.ErrScheduleOverlap),
		errors.Is(err, schedule.ErrDoseAlreadyTaken),
		errors.Is(err, schedule.ErrDoseAlreadyMissed),
		errors.Is(err, schedule.ErrVersionConflict),
		errors.Is(err, medicine.ErrOutOfStock):
		writeError(w, http.StatusConflict, err.Error())

	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error: insufficient.Error(),
			Details: map[string]int{
				"required":  insufficient.Required,
				"provided":  insufficient.Provided,
				"shortfall": insufficient.Shortfall(),
			},
		})

	case errors.As(err, &excess):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error: excess.Error(),
			Details: map[string]int{
				"required": excess.Required,
				"provided": excess.Provided,
				"excess":   excess.Excess(),
			},
		})

	case errors.As(err, &stock):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error: stock.Error(),
			Details: map[string]int{
				"on_hand":   stock.OnHand,
				"requested": stock.Requested,
			},
		})

	case errors.As(err, &times):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error: times.Error(),
			Details: map[string]int{
				"doses_per_day": times.DosesPerDay,
				"times_of_day":  times.Times,
			},
		})

	case errors.Is(err, schedule.ErrInvalidDateRange),
		errors.Is(err, schedule.ErrMedicineExpired),
		errors.Is(err, schedule.ErrInvalidDoseStatus),
		errors.Is(err, schedule.ErrNoTimesOfDay),
		errors.Is(err, schedule.ErrUserUnknown):
		writeError(w, http.StatusUnprocessableEntity, err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
