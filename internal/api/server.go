package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/openlit/ruleengine/internal/audit"
	"github.com/openlit/ruleengine/internal/auth"
	"github.com/openlit/ruleengine/internal/snapshot"
	"github.com/openlit/ruleengine/internal/store"
	"github.com/openlit/ruleengine/internal/telemetry"
	"github.com/openlit/ruleengine/internal/webhook"
)

// Options configures a Server.
type Options struct {
	AdminKey       string
	ClientKey      string
	RateLimitPerIP int                 // requests per minute per IP; 0 disables
	Audit          *audit.Service      // optional
	Webhooks       *webhook.Dispatcher // optional
}

type Server struct {
	store     store.Store
	snap      *snapshot.Holder
	auth      *auth.Authenticator
	audit     *audit.Service
	webhooks  *webhook.Dispatcher
	rateLimit int
}

// NewServer wires a server around st. A nil holder gets a fresh one.
func NewServer(st store.Store, holder *snapshot.Holder, opts Options) *Server {
	if holder == nil {
		holder = snapshot.NewHolder()
	}
	return &Server{
		store:     st,
		snap:      holder,
		auth:      auth.NewAuthenticator(opts.AdminKey, opts.ClientKey, authError),
		audit:     opts.Audit,
		webhooks:  opts.Webhooks,
		rateLimit: opts.RateLimitPerIP,
	}
}

// Snapshot returns the holder serving evaluations.
func (s *Server) Snapshot() *snapshot.Holder {
	return s.snap
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.Middleware)
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))

	// health
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/rule-engine", func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(httprate.Limit(s.rateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, req *http.Request) {
					RateLimitedError(w, req)
				}),
			))
		}

		// reads and evaluation: client or admin key
		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireAuth(auth.RoleClient))
			r.Get("/fields", s.handleFields)
			r.Get("/snapshot", s.handleSnapshot)
			r.Get("/rules", s.handleListRules)
			r.Get("/rules/{id}", s.handleGetRule)
			r.Get("/rules/{id}/entities", s.handleListEntities)
			r.Post("/evaluate", s.handleEvaluate)
		})

		// writes: admin key only
		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireAuth(auth.RoleAdmin))
			r.Post("/rules", s.handleCreateRule)
			r.Put("/rules/{id}", s.handleUpdateRule)
			r.Delete("/rules/{id}", s.handleDeleteRule)
			r.Post("/rules/{id}/conditions", s.handleReplaceConditions)
			r.Post("/rules/{id}/entities", s.handleAddEntity)
			r.Delete("/rules/{id}/entities/{entityType}/{entityID}", s.handleRemoveEntity)
		})
	})

	return r
}

// RebuildSnapshot reloads all rules from the store and swaps the snapshot.
func (s *Server) RebuildSnapshot(ctx context.Context) error {
	snap, err := s.snap.Refresh(ctx, s.store)
	if err != nil {
		return err
	}
	telemetry.SnapshotRules.Set(float64(len(snap.Rules)))
	return nil
}

// handleSnapshot serves the full rule set with ETag caching.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.snap.Load()
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == snap.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", snap.ETag)
	writeJSON(w, http.StatusOK, snap)
}
