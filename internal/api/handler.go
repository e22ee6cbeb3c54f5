// Package api serves table state over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/goliatone/go-tablestate"
	"github.com/goliatone/go-tablestate/internal/hydrate"
)

const maxBodyBytes = 1 << 20

// Config configures the router.
type Config struct {
	CORSOrigins []string
	RateLimit   RateLimitConfig
	Logger      logr.Logger
}

type handler struct {
	registry *Registry
	logger   logr.Logger
	decoder  *hydrate.Decoder[tablestate.Form]
}

// NewRouter mounts the table state routes. Mutating routes are rate limited
// per client when cfg.RateLimit.RequestsPerSecond is positive.
func NewRouter(registry *Registry, cfg Config) http.Handler {
	h := &handler{
		registry: registry,
		logger:   cfg.Logger,
		decoder:  hydrate.NewFormDecoder(),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/forms", h.listTables)

	r.Route("/forms/{table}", func(r chi.Router) {
		r.Get("/columns", h.state)

		r.Group(func(r chi.Router) {
			if cfg.RateLimit.RequestsPerSecond > 0 {
				r.Use(RateLimiter(cfg.RateLimit))
			}
			r.Put("/form", h.putForm)
			r.Put("/visibility", h.setVisibility)
			r.Put("/pinning", h.setPinning)
			r.Delete("/preferences", h.resetPreferences)

			r.Route("/columns/{column}", func(r chi.Router) {
				r.Post("/visibility", h.toggleVisibility)
				r.Post("/wrap", h.toggleWrapping)
				r.Post("/pin", h.togglePin)
				r.Put("/order", h.setOrder)
				r.Put("/size", h.resize)
				r.Delete("/preferences", h.resetColumn)
			})
		})
	})
	return r
}

func (h *handler) listTables(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"tables": h.registry.Tables()})
}

func (h *handler) state(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m.State())
}

func (h *handler) putForm(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	form, err := h.decoder.DecodeBytes(hydrate.Context{Table: table, Source: "request body", Logger: h.logger}, body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, hydrate.ErrTableMismatch) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	m, err := h.registry.Register(r.Context(), form)
	if err != nil {
		h.logger.Error(err, "register form", "table", table)
		writeError(w, http.StatusInternalServerError, "could not open table preferences")
		return
	}
	writeJSON(w, http.StatusOK, m.State())
}

func (h *handler) setVisibility(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	var next map[string]bool
	if !decodeBody(w, r, &next) {
		return
	}
	m.SetVisibility(r.Context(), next)
	writeJSON(w, http.StatusOK, m.State())
}

func (h *handler) setPinning(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	var next tablestate.Pinning
	if !decodeBody(w, r, &next) {
		return
	}
	m.SetPinning(r.Context(), next)
	writeJSON(w, http.StatusOK, m.State())
}

func (h *handler) resetPreferences(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	m.ResetPreferences(r.Context())
	writeJSON(w, http.StatusOK, m.State())
}

func (h *handler) toggleVisibility(w http.ResponseWriter, r *http.Request) {
	m, column, ok := h.column(w, r)
	if !ok {
		return
	}
	m.ToggleColumnVisibility(r.Context(), column)
	writeJSON(w, http.StatusOK, m.State())
}

func (h *handler) toggleWrapping(w http.ResponseWriter, r *http.Request) {
	m, column, ok := h.column(w, r)
	if !ok {
		return
	}
	m.ToggleColumnWrapping(r.Context(), column)
	writeJSON(w, http.StatusOK, m.State())
}

func (h *handler) togglePin(w http.ResponseWriter, r *http.Request) {
	m, column, ok := h.column(w, r)
	if !ok {
		return
	}
	m.ToggleColumnPin(r.Context(), column)
	writeJSON(w, http.StatusOK, m.State())
}

type orderRequest struct {
	Index *int `json:"index"`
}

func (h *handler) setOrder(w http.ResponseWriter, r *http.Request) {
	m, column, ok := h.column(w, r)
	if !ok {
		return
	}
	var req orderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Index == nil {
		writeError(w, http.StatusBadRequest, "index is required")
		return
	}
	m.SetColumnOrder(r.Context(), column, *req.Index)
	writeJSON(w, http.StatusOK, m.State())
}

type sizeRequest struct {
	Size *int `json:"size"`
}

// resize answers 202: the width applies at once, the write is debounced.
func (h *handler) resize(w http.ResponseWriter, r *http.Request) {
	m, column, ok := h.column(w, r)
	if !ok {
		return
	}
	var req sizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Size == nil {
		writeError(w, http.StatusBadRequest, "size is required")
		return
	}
	if !m.CanResize(column) {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("column %q cannot be resized", column))
		return
	}
	m.HandleColumnResize(column, *req.Size)
	writeJSON(w, http.StatusAccepted, m.State())
}

func (h *handler) resetColumn(w http.ResponseWriter, r *http.Request) {
	m, column, ok := h.column(w, r)
	if !ok {
		return
	}
	m.ResetColumn(r.Context(), column)
	writeJSON(w, http.StatusOK, m.State())
}

func (h *handler) manager(w http.ResponseWriter, r *http.Request) (*tablestate.Manager, bool) {
	table := chi.URLParam(r, "table")
	m, ok := h.registry.Manager(table)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("table %q is not registered", table))
		return nil, false
	}
	return m, true
}

func (h *handler) column(w http.ResponseWriter, r *http.Request) (*tablestate.Manager, string, bool) {
	m, ok := h.manager(w, r)
	if !ok {
		return nil, "", false
	}
	column := chi.URLParam(r, "column")
	if !m.HasColumn(column) {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", tablestate.ErrUnknownColumn, column).Error())
		return nil, "", false
	}
	return m, column, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return false
	}
	return true
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestLogger(logger logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.V(1).Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		})
	}
}
