package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dosetrack/go-mat/internal/domain/adherence"
)

// ReportHandler serves adherence reports.
type ReportHandler struct {
	reporter *adherence.Reporter
	logger   *zap.Logger
}

// NewReportHandler creates a new handler
func NewReportHandler(reporter *adherence.Reporter, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reporter: reporter, logger: logger}
}

// Routes returns the handler routes
func (h *ReportHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/adherence/monthly", h.Monthly)
	return r
}

// Monthly handles GET /reports/adherence/monthly?user_id=&year=&month=
// An optional medicine_id narrows the report to one medicine.
func (h *ReportHandler) Monthly(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	userID, err := uuid.Parse(q.Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	now := time.Now().UTC()
	year := now.Year()
	month := now.Month()
	if y := q.Get("year"); y != "" {
		year, err = strconv.Atoi(y)
		if err != nil {
			writeError(w, http.StatusBadRequest, "year must be an integer")
			return
		}
	}
	if m := q.Get("month"); m != "" {
		n, err := strconv.Atoi(m)
		if err != nil || n < 1 || n > 12 {
			writeError(w, http.StatusBadRequest, "month must be 1-12")
			return
		}
		month = time.Month(n)
	}

	var medicineID *uuid.UUID
	if mid := q.Get("medicine_id"); mid != "" {
		id, err := uuid.Parse(mid)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid medicine_id")
			return
		}
		medicineID = &id
	}

	report, err := h.reporter.Monthly(ctx, userID, year, month, medicineID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
