// Package handlers contains the HTTP handler implementations for the shovel
// control API: scheduling synthetic batches, running transfers, per-order
// cancellation and status, validation, tracking reconciliation, and the
// destructive cleanup endpoint.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"shovel/internal/core"
	"shovel/internal/generator"
	"shovel/internal/types"
)

// TransferService is the engine contract consumed by this handler. The
// concrete implementation is *transfer.Service; the handler depends on the
// abstraction for testability.
type TransferService interface {
	ScheduleMessages(ctx context.Context, msgs []types.OutboundMessage, delaySeconds int) []types.ScheduleResult
	Transfer(ctx context.Context, maxMessages int, emitSampleMetadata bool) *types.TransferReport
	CancelByOrderID(ctx context.Context, orderID string) (*types.CancelOutcome, error)
	OrderStatus(ctx context.Context, orderID string) (*types.OrderStatus, error)
	Validate(ctx context.Context, peekCount int, includeTimings bool) (*types.ValidationReport, error)
	ReconcileTracking(ctx context.Context, maxMessages int) (*types.ReconcileSummary, error)
	PurgeAll(ctx context.Context) (*types.PurgeSummary, error)
	Status(ctx context.Context) (*types.StatusSummary, error)
}

// OrderSource produces synthetic orders for scheduleBatch.
type OrderSource interface {
	Generate(count int) []generator.OrderPayload
}

// ScheduleRequest is the request body for POST /api/schedule.
type ScheduleRequest struct {
	Count        int `json:"count" validate:"required,min=1,max=1000"`
	DelaySeconds int `json:"delay_seconds" validate:"min=0"`
}

// TransferHandler exposes the transfer engine over HTTP.
type TransferHandler struct {
	service   TransferService
	orders    OrderSource
	validator *core.Validator
	logger    *slog.Logger
}

// NewTransferHandler creates a TransferHandler with the given dependencies.
func NewTransferHandler(service TransferService, orders OrderSource, validator *core.Validator, logger *slog.Logger) *TransferHandler {
	return &TransferHandler{
		service:   service,
		orders:    orders,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the handler under /api.
func (h *TransferHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealth)
		r.Post("/schedule", h.HandleSchedule)
		r.Post("/transfer", h.HandleTransfer)
		r.Get("/transfer/status", h.HandleStatus)
		r.Post("/cancel/{orderID}", h.HandleCancel)
		r.Get("/order/{orderID}", h.HandleOrderStatus)
		r.Get("/validate", h.HandleValidate)
		r.Post("/reconcile", h.HandleReconcile)
		r.Delete("/cleanup", h.HandleCleanup)
	})
}

// HandleHealth reports liveness.
func (h *TransferHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	core.OK(w, r, map[string]any{
		"status":    "up",
		"service":   "shovel",
		"timestamp": time.Now().UTC(),
	})
}

// HandleSchedule generates synthetic orders and schedules them on the
// source queue.
func (h *TransferHandler) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	orders := h.orders.Generate(req.Count)
	msgs := make([]types.OutboundMessage, 0, len(orders))
	for _, o := range orders {
		msg, err := o.Message()
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeSerialization, "failed to build order message", err))
			return
		}
		msgs = append(msgs, msg)
	}

	results := h.service.ScheduleMessages(r.Context(), msgs, req.DelaySeconds)
	core.OK(w, r, results)
}

// HandleTransfer runs one transfer scan. Query parameters:
//
//	max_messages         caps the records examined (default: configured ceiling)
//	emit_sample_metadata includes application-property samples in the report
func (h *TransferHandler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	maxMessages, err := queryInt(r, "max_messages", 0)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	emitSample := queryBool(r, "emit_sample_metadata")

	report := h.service.Transfer(r.Context(), maxMessages, emitSample)
	core.OK(w, r, report)
}

// HandleStatus reports queue depths and tracking counts.
func (h *TransferHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Status(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, summary)
}

// HandleCancel cancels one order's scheduled message, located via tracking
// data. If the tracking store was never populated or has been purged the
// outcome is not_found_in_tracking even though the message may still exist
// on the broker; callers needing certainty should run reconcile first.
func (h *TransferHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "orderID path parameter is required", nil))
		return
	}

	outcome, err := h.service.CancelByOrderID(r.Context(), orderID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, outcome)
}

// HandleOrderStatus returns the tracking view of one order.
func (h *TransferHandler) HandleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "orderID path parameter is required", nil))
		return
	}

	status, err := h.service.OrderStatus(r.Context(), orderID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !status.Tracked {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found in tracking", nil))
		return
	}
	core.OK(w, r, status)
}

// HandleValidate produces a read-only broker/tracking cross-check. Query
// parameters: peek (snapshot depth), include_timings.
func (h *TransferHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	peek, err := queryInt(r, "peek", 0)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	report, verr := h.service.Validate(r.Context(), peek, queryBool(r, "include_timings"))
	if verr != nil {
		core.Error(w, r, verr)
		return
	}
	core.OK(w, r, report)
}

// HandleReconcile rebuilds tracking data from current broker state.
func (h *TransferHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	maxMessages, err := queryInt(r, "max_messages", 0)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	summary, rerr := h.service.ReconcileTracking(r.Context(), maxMessages)
	if rerr != nil {
		core.Error(w, r, rerr)
		return
	}
	core.OK(w, r, summary)
}

// HandleCleanup destructively drains both queues, the error sink, and all
// tracking data. It refuses to run without confirm=true; the endpoint
// exists for test teardown only and is never invoked implicitly.
func (h *TransferHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	if !queryBool(r, "confirm") {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationConfirmation,
			"cleanup is destructive; pass confirm=true to proceed",
			nil,
		))
		return
	}

	summary, err := h.service.PurgeAll(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, summary)
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, types.NewAppErrorWithDetails(types.ErrCodeValidationOutOfRange,
			"invalid integer query parameter", err, map[string]any{"param": name})
	}
	return v, nil
}

// queryBool parses an optional boolean query parameter; absent or
// malformed means false.
func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
