// Package server is the thin HTTP adapter over the query engine: chi
// routes, a shared-key check, and JSON/NDJSON rendering. All querying
// semantics live in internal/query; handlers only translate between HTTP
// and the engine.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/xtxerr/gridcast/internal/errors"
	"github.com/xtxerr/gridcast/internal/forecast"
	"github.com/xtxerr/gridcast/internal/logging"
	"github.com/xtxerr/gridcast/internal/query"
)

var log = logging.Component("server")

// Server serves the forecast API.
type Server struct {
	engine *query.Engine
	apiKey string
	router chi.Router
}

// New builds the server and its routes. An empty apiKey disables the
// shared-key check.
func New(engine *query.Engine, apiKey string) *Server {
	s := &Server{engine: engine, apiKey: apiKey}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireKey)

		r.Get("/forecasts", s.handleForecasts)
		r.Get("/forecasts/summary", s.handleSummary)

		r.Route("/metadata", func(r chi.Router) {
			r.Get("/months", s.handleMonths)
			r.Get("/grid-cells", s.handleGridCells)
			r.Get("/countries", s.handleCountries)
			r.Get("/metrics", s.handleMetrics)
		})

		r.Post("/cache/clear", s.handleCacheClear)
	})

	s.router = r
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger carries the request ID into the logging context and logs
// one line per served request. Downstream layers pick the ID up through
// logging.WithContext.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.ContextWithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.WithContext(ctx).Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}

// requireKey enforces the shared X-API-Key header.
func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			s.writeError(w, errors.Wrap(errors.ErrNotAuthorized, "missing or wrong API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleForecasts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	spec, err := query.Parse(query.Params{
		Country:       q.Get("country"),
		GridIDs:       splitMulti(q["grid_ids"]),
		Months:        splitMulti(q["months"]),
		MonthRange:    q.Get("month_range"),
		Metrics:       splitMulti(q["metrics"]),
		MetricFilters: q["metric_filters"],
		Format:        q.Get("format"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	records, err := s.engine.Execute(r.Context(), spec)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if spec.Format == query.FormatNDJSON {
		w.Header().Set("Content-Type", "application/x-ndjson")
		if err := query.WriteIncremental(r.Context(), w, records); err != nil {
			log.Warn("incremental stream aborted", "error", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := query.WriteAggregate(w, records, spec); err != nil {
		log.Warn("aggregate write failed", "error", err)
	}
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.Summarize(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, summary)
}

func (s *Server) handleMonths(w http.ResponseWriter, r *http.Request) {
	months, err := s.engine.Months(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"months": months, "count": len(months)})
}

func (s *Server) handleGridCells(w http.ResponseWriter, r *http.Request) {
	cells, err := s.engine.GridCells(r.Context(), r.URL.Query().Get("country"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"grid_cells": cells, "count": len(cells)})
}

func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := s.engine.Countries(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"countries": countries, "count": len(countries)})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	type metricInfo struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	out := make([]metricInfo, 0, forecast.MetricCount)
	for _, m := range forecast.AllMetrics {
		out = append(out, metricInfo{Name: string(m), Description: m.Description()})
	}
	s.writeJSON(w, map[string]any{"metrics": out, "count": len(out)})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearCache()
	s.writeJSON(w, map[string]any{"status": "cleared", "backend": s.engine.BackendID()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	queries, served := s.engine.Stats()
	s.writeJSON(w, map[string]any{
		"status":         "ok",
		"backend":        s.engine.BackendID(),
		"queries":        queries,
		"records_served": served,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("response write failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "error", err)
	} else {
		log.Debug("request rejected", "status", status, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// splitMulti flattens repeatable parameters that may also carry
// comma-separated values, so grid_ids=1,2 and grid_ids=1&grid_ids=2 parse
// alike.
func splitMulti(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
