package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"remindcore/internal/integration"
	"remindcore/internal/registry"
	"remindcore/internal/reminder"
	"remindcore/internal/scheduler"
	logx "remindcore/pkg/logx"
)

const maxBody = 1 << 20

func (s *Service) routes(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)

	r.Group(func(r chi.Router) {
		r.Use(withAuth(cfg.Token))

		r.Get("/reminders", s.listReminders)
		r.Get("/history", s.listHistory)
		r.Get("/retry", s.listRetry)
		r.Get("/stats", s.stats)

		r.Route("/reconcile", func(r chi.Router) {
			r.Get("/", s.lastReconcile)
			r.Post("/", s.reconcile)
		})

		r.Route("/entities", func(r chi.Router) {
			r.Post("/", s.syncEntities)
			r.Delete("/{kind}/{id}", s.deleteEntity)
			r.Post("/{kind}/{id}/complete", s.completeEntity)
		})

		if cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("admin request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		)
	})
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func withAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
					got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
				}
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (s *Service) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.deps.Health != nil {
		body["detail"] = s.deps.Health()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Service) listReminders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("kind") == "" && q.Get("id") == "" {
		writeJSON(w, http.StatusOK, s.deps.Registry.Live())
		return
	}
	kind, err := reminder.ParseEntityKind(q.Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := strings.TrimSpace(q.Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("id is required with kind"))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Registry.LiveFor(reminder.EntityRef{Kind: kind, ID: id}))
}

func (s *Service) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, 1000)
	}
	if s.deps.History != nil {
		recs, err := s.deps.History(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
		return
	}
	recs := s.deps.Registry.History()
	// In-memory history is oldest first.
	out := make([]reminder.ScheduledReminder, 0, min(limit, len(recs)))
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, recs[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) listRetry(w http.ResponseWriter, r *http.Request) {
	items := s.deps.Registry.RetryItems()
	if items == nil {
		items = []registry.RetryItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

type statsResponse struct {
	Registry  registry.Stats   `json:"registry"`
	Reconcile scheduler.Report `json:"last_reconcile"`
	Runs      uint64           `json:"reconcile_runs"`
}

func (s *Service) stats(w http.ResponseWriter, r *http.Request) {
	rep, runs := s.deps.Reconciler.LastReport()
	writeJSON(w, http.StatusOK, statsResponse{
		Registry:  s.deps.Registry.Stats(),
		Reconcile: rep,
		Runs:      runs,
	})
}

func (s *Service) lastReconcile(w http.ResponseWriter, r *http.Request) {
	rep, runs := s.deps.Reconciler.LastReport()
	if runs == 0 {
		writeError(w, http.StatusNotFound, errors.New("no reconcile has run yet"))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Service) reconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Reconciler.ReconcileNow(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrReconcileBusy):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeJSON(w, http.StatusBadGateway, rep)
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

// EntityResult is the per-entity reply of POST /entities.
type EntityResult struct {
	integration.Summary
	Scheduled int      `json:"scheduled"`
	Warnings  []string `json:"warnings,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

func (s *Service) syncEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := integration.LoadEntities(http.MaxBytesReader(w, r.Body, maxBody), s.deps.Reconciler.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(entities) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no entities"))
		return
	}
	sums := s.deps.Entities.Sync(r.Context(), entities)
	out := make([]EntityResult, 0, len(sums))
	for _, sum := range sums {
		res := EntityResult{Summary: sum, Scheduled: sum.Scheduled(), Warnings: sum.Warnings()}
		for _, o := range sum.Outcomes {
			if o.Err != nil {
				res.Errors = append(res.Errors, o.Offset.String()+": "+o.Err.Error())
			}
		}
		out = append(out, res)
	}
	writeJSON(w, http.StatusOK, out)
}

func entityParams(r *http.Request) (reminder.EntityKind, string, error) {
	kind, err := reminder.ParseEntityKind(chi.URLParam(r, "kind"))
	if err != nil {
		return 0, "", err
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		return 0, "", errors.New("id is required")
	}
	return kind, id, nil
}

func (s *Service) deleteEntity(w http.ResponseWriter, r *http.Request) {
	s.closeEntity(w, r, s.deps.Entities.OnEntityDeleted)
}

func (s *Service) completeEntity(w http.ResponseWriter, r *http.Request) {
	s.closeEntity(w, r, s.deps.Entities.OnEntityCompleted)
}

func (s *Service) closeEntity(w http.ResponseWriter, r *http.Request, fn func(context.Context, reminder.EntityKind, string) int) {
	kind, id, err := entityParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n := fn(r.Context(), kind, id)
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}
