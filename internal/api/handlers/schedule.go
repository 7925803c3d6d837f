// Package handlers provides HTTP handlers for the schedule API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dosetrack/go-mat/internal/api/middleware"
	"github.com/dosetrack/go-mat/internal/domain/medicine"
	"github.com/dosetrack/go-mat/internal/domain/schedule"
	"github.com/dosetrack/go-mat/internal/observability/metrics"
	"github.com/dosetrack/go-mat/pkg/idempotency"
)

const dateLayout = "2006-01-02"

// IdempotencyGuard deduplicates automated creation requests by content key,
// so a retried prescription submission collapses to one schedule.
// *idempotency.Inbox satisfies it; nil disables deduplication (dev mode).
type IdempotencyGuard interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// ScheduleHandler handles schedule endpoints
type ScheduleHandler struct {
	svc     *schedule.Service
	guard   IdempotencyGuard
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewScheduleHandler creates a new handler
func NewScheduleHandler(svc *schedule.Service, guard IdempotencyGuard, m *metrics.Metrics, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{svc: svc, guard: guard, metrics: m, logger: logger}
}

// Routes returns the handler routes
func (h *ScheduleHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Post("/automated", h.CreateAutomated)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Patch("/{id}/doses", h.UpdateDose)
	return r
}

// CreateRequest is the request body for creating a schedule
type CreateRequest struct {
	UserID            uuid.UUID `json:"user_id"`
	MedicineID        uuid.UUID `json:"medicine_id"`
	AllocatedQuantity int       `json:"allocated_quantity"`
	StartDate         string    `json:"start_date"`
	EndDate           string    `json:"end_date"`
	TimesOfDay        []string  `json:"times_of_day"`
}

// Create handles POST /schedules
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("schedule-handler")
	ctx, span := tracer.Start(ctx, "create_schedule")
	defer span.End()
	start := time.Now()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	startDate, endDate, ok := h.parseDates(w, req.StartDate, req.EndDate)
	if !ok {
		return
	}

	sched, err := h.svc.Create(ctx, schedule.CreateParams{
		UserID:            req.UserID,
		MedicineID:        req.MedicineID,
		AllocatedQuantity: req.AllocatedQuantity,
		StartDate:         startDate,
		EndDate:           endDate,
		TimesOfDay:        req.TimesOfDay,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	span.SetAttributes(attribute.String("schedule_id", sched.ID.String()))

	h.metrics.SchedulesCreated.Inc()
	h.metrics.RequestDuration.Observe(time.Since(start).Seconds())
	h.logger.Info("schedule created",
		zap.String("id", sched.ID.String()),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	writeJSON(w, http.StatusCreated, sched)
}

// AutomatedCreateRequest is the request body for the automated creation path,
// keyed by medicine name.
type AutomatedCreateRequest struct {
	UserID            uuid.UUID `json:"user_id"`
	MedicineName      string    `json:"medicine_name"`
	AllocatedQuantity int       `json:"allocated_quantity"`
	StartDate         string    `json:"start_date"`
	EndDate           string    `json:"end_date"`
	TimesOfDay        []string  `json:"times_of_day"`
}

// CreateAutomated handles POST /schedules/automated
func (h *ScheduleHandler) CreateAutomated(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("schedule-handler")
	ctx, span := tracer.Start(ctx, "create_schedule_automated")
	defer span.End()

	var req AutomatedCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MedicineName == "" {
		writeError(w, http.StatusBadRequest, "medicine_name is required")
		return
	}

	startDate, endDate, ok := h.parseDates(w, req.StartDate, req.EndDate)
	if !ok {
		return
	}

	params := schedule.AutomatedParams{
		UserID:            req.UserID,
		MedicineName:      req.MedicineName,
		AllocatedQuantity: req.AllocatedQuantity,
		StartDate:         startDate,
		EndDate:           endDate,
		TimesOfDay:        req.TimesOfDay,
	}

	if h.guard == nil {
		sched, err := h.svc.CreateAutomated(ctx, params)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		span.SetAttributes(attribute.String("schedule_id", sched.ID.String()))

		h.metrics.SchedulesCreated.Inc()
		h.logger.Info("schedule created by automation",
			zap.String("id", sched.ID.String()),
			zap.String("medicine", req.MedicineName),
			zap.String("request_id", middleware.GetRequestID(ctx)),
		)

		writeJSON(w, http.StatusCreated, sched)
		return
	}

	// Retried submissions of the same prescription collapse onto one inbox
	// entry; a finished duplicate replays the stored schedule.
	key := idempotency.GenerateKey(req.UserID.String(), req.MedicineName, startDate, endDate)
	payload, err := json.Marshal(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	res, err := h.guard.Process(ctx, key, "automated-schedule-create", payload,
		func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			sched, err := h.svc.CreateAutomated(ctx, params)
			if err != nil {
				return nil, err
			}
			return json.Marshal(sched)
		})
	if err != nil {
		if errors.Is(err, idempotency.ErrMessageInProgress) || errors.Is(err, idempotency.ErrDuplicateMessage) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeDomainError(w, err)
		return
	}
	span.SetAttributes(
		attribute.String("idempotency_key", key),
		attribute.Bool("duplicate", !res.IsNew),
	)

	code := http.StatusOK
	if res.IsNew {
		code = http.StatusCreated
		h.metrics.SchedulesCreated.Inc()
		h.logger.Info("schedule created by automation",
			zap.String("medicine", req.MedicineName),
			zap.String("idempotency_key", key),
			zap.String("request_id", middleware.GetRequestID(ctx)),
		)
	} else {
		h.logger.Info("duplicate automation request replayed",
			zap.String("idempotency_key", key),
			zap.String("request_id", middleware.GetRequestID(ctx)),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(res.Result)
}

// ListResponse is one page of schedules
type ListResponse struct {
	Schedules []*schedule.Schedule `json:"schedules"`
	Total     int                  `json:"total"`
	Page      int                  `json:"page"`
	PageSize  int                  `json:"page_size"`
}

// List handles GET /schedules?user_id=...
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	opts := schedule.ListOptions{
		NameFilter: r.URL.Query().Get("medicine_name"),
	}
	if p := r.URL.Query().Get("page"); p != "" {
		opts.Page, _ = strconv.Atoi(p)
	}
	if ps := r.URL.Query().Get("page_size"); ps != "" {
		opts.PageSize, _ = strconv.Atoi(ps)
	}

	scheds, total, err := h.svc.List(ctx, userID, opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if scheds == nil {
		scheds = []*schedule.Schedule{}
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Schedules: scheds,
		Total:     total,
		Page:      opts.Page,
		PageSize:  opts.Limit(),
	})
}

// Get handles GET /schedules/{id}
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}

	sched, err := h.svc.Get(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sched)
}

// UpdateRequest carries partial schedule changes. Omitted fields keep their
// current values.
type UpdateRequest struct {
	MedicineID        *uuid.UUID `json:"medicine_id,omitempty"`
	AllocatedQuantity *int       `json:"allocated_quantity,omitempty"`
	StartDate         *string    `json:"start_date,omitempty"`
	EndDate           *string    `json:"end_date,omitempty"`
	DosesPerDay       *int       `json:"doses_per_day,omitempty"`
	TimesOfDay        []string   `json:"times_of_day,omitempty"`
}

// UpdateResponse wraps the schedule with whether anything changed.
type UpdateResponse struct {
	Schedule *schedule.Schedule `json:"schedule"`
	Changed  bool               `json:"changed"`
}

// Update handles PATCH /schedules/{id}
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params := schedule.UpdateParams{
		MedicineID:        req.MedicineID,
		AllocatedQuantity: req.AllocatedQuantity,
		DosesPerDay:       req.DosesPerDay,
		TimesOfDay:        req.TimesOfDay,
	}
	if req.StartDate != nil {
		t, err := time.Parse(dateLayout, *req.StartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
			return
		}
		params.StartDate = &t
	}
	if req.EndDate != nil {
		t, err := time.Parse(dateLayout, *req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
			return
		}
		params.EndDate = &t
	}

	sched, changed, err := h.svc.Update(ctx, id, params)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if changed {
		h.metrics.SchedulesUpdated.Inc()
	}
	writeJSON(w, http.StatusOK, UpdateResponse{Schedule: sched, Changed: changed})
}

// Delete handles DELETE /schedules/{id}?user_id=...
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.svc.Delete(ctx, id, userID); err != nil {
		writeDomainError(w, err)
		return
	}

	h.metrics.SchedulesDeleted.Inc()
	h.logger.Info("schedule deleted",
		zap.String("id", id.String()),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	w.WriteHeader(http.StatusNoContent)
}

// DoseUpdateRequest identifies one dose cell and its target state.
type DoseUpdateRequest struct {
	Date   string `json:"date"`
	Time   string `json:"time"`
	Status string `json:"status"`
}

// UpdateDose handles PATCH /schedules/{id}/doses
func (h *ScheduleHandler) UpdateDose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("schedule-handler")
	ctx, span := tracer.Start(ctx, "update_dose")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}

	var req DoseUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	var target schedule.DoseStatus
	switch req.Status {
	case string(schedule.DoseTaken):
		target = schedule.DoseTaken
	case string(schedule.DoseMissed):
		target = schedule.DoseMissed
	default:
		writeDomainError(w, schedule.ErrInvalidDoseStatus)
		return
	}

	sched, err := h.svc.UpdateDoseStatus(ctx, id, date, req.Time, target)
	if err != nil {
		if errors.Is(err, medicine.ErrOutOfStock) {
			h.metrics.OutOfStockRejections.Inc()
		}
		writeDomainError(w, err)
		return
	}

	switch target {
	case schedule.DoseTaken:
		h.metrics.DosesTaken.Inc()
	case schedule.DoseMissed:
		h.metrics.DosesMissed.Inc()
	}
	span.SetAttributes(
		attribute.String("schedule_id", id.String()),
		attribute.String("status", string(target)),
	)

	writeJSON(w, http.StatusOK, sched)
}

// parseDates parses the required start and end dates, writing the error
// response itself on failure.
func (h *ScheduleHandler) parseDates(w http.ResponseWriter, start, end string) (time.Time, time.Time, bool) {
	startDate, err := time.Parse(dateLayout, start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	endDate, err := time.Parse(dateLayout, end)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	return startDate, endDate, true
}
