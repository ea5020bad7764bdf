package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shovel/internal/core"
	"shovel/internal/types"
)

// TrackingReader is the read-only tracking view exposed by the debug
// endpoints.
type TrackingReader interface {
	Entries(ctx context.Context, loc types.QueueLocation) ([]types.TrackingEntry, error)
	Lookup(ctx context.Context, orderID string) (source, dest *types.TrackingEntry, err error)
	Stats(ctx context.Context) (types.TrackingStats, error)
}

// DebugHandler exposes raw tracking-store inspection routes. They leak
// operational detail and are only registered when DEBUG_ROUTES_ENABLED is
// set; production deployments keep them off.
type DebugHandler struct {
	tracking TrackingReader
	logger   *slog.Logger
}

// NewDebugHandler creates a DebugHandler.
func NewDebugHandler(tracking TrackingReader, logger *slog.Logger) *DebugHandler {
	return &DebugHandler{tracking: tracking, logger: logger}
}

// RegisterRoutes mounts the debug routes under /debug.
func (h *DebugHandler) RegisterRoutes(r chi.Router) {
	r.Route("/debug/tracking", func(r chi.Router) {
		r.Get("/entries", h.HandleEntries)
		r.Get("/stats", h.HandleStats)
		r.Get("/order/{orderID}", h.HandleOrder)
	})
}

// HandleEntries dumps all tracking entries for a location. Query parameter
// location is "source" (default) or "destination".
func (h *DebugHandler) HandleEntries(w http.ResponseWriter, r *http.Request) {
	loc, err := parseLocation(r.URL.Query().Get("location"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	entries, terr := h.tracking.Entries(r.Context(), loc)
	if terr != nil {
		core.Error(w, r, terr)
		return
	}
	core.OK(w, r, map[string]any{
		"location": loc,
		"count":    len(entries),
		"entries":  entries,
	})
}

// HandleStats returns entry counts per location.
func (h *DebugHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tracking.Stats(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, stats)
}

// HandleOrder returns the raw tracking entries recorded for one order at
// both locations.
func (h *DebugHandler) HandleOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "orderID path parameter is required", nil))
		return
	}

	source, dest, err := h.tracking.Lookup(r.Context(), orderID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if source == nil && dest == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found in tracking", nil))
		return
	}
	core.OK(w, r, map[string]any{
		"order_id":    orderID,
		"source":      source,
		"destination": dest,
	})
}

func parseLocation(raw string) (types.QueueLocation, error) {
	switch raw {
	case "", string(types.LocationSource):
		return types.LocationSource, nil
	case string(types.LocationDestination):
		return types.LocationDestination, nil
	default:
		return "", types.NewAppErrorWithDetails(types.ErrCodeValidationOutOfRange,
			"location must be source or destination", nil, map[string]any{"location": raw})
	}
}
