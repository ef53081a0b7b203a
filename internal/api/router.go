package api

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/recon-engine/internal/reconcile"
	"github.com/example/recon-engine/internal/security"
	"github.com/example/recon-engine/pkg/audit"
)

type Auditor interface {
	Append(payload string) *audit.LogEntry
}

type Dependencies struct {
	Logger  *slog.Logger
	Service reconcile.Operations

	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []netip.Prefix
	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	createSessionV, err := security.NewJSONSchemaValidator("create_session", createSessionSchema)
	if err != nil {
		return nil, err
	}
	importV, err := security.NewJSONSchemaValidator("import_statements", importStatementsSchema)
	if err != nil {
		return nil, err
	}
	createRuleV, err := security.NewJSONSchemaValidator("create_rule", createRuleSchema)
	if err != nil {
		return nil, err
	}
	updateRuleV, err := security.NewJSONSchemaValidator("update_rule", updateRuleSchema)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(security.Actor)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, security.RateLimitKey))
	}
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.With(createSessionV.Middleware).Post("/", handleCreateSession(deps))
			r.Get("/", handleListSessions(deps))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handleGetSession(deps))
				r.With(importV.Middleware).Post("/statements", handleImportStatements(deps))
				r.Post("/passes", handleRunPass(deps))
				r.Post("/stop", handleStopPass(deps))
				r.Post("/cancel", handleCancelSession(deps))
			})
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", handleListRules(deps))
			r.With(createRuleV.Middleware).Post("/", handleCreateRule(deps))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handleGetRule(deps))
				r.With(updateRuleV.Middleware).Patch("/", handleUpdateRule(deps))
				r.Delete("/", handleDeleteRule(deps))
			})
		})

		r.Post("/matches/{id}/confirm", handleConfirmMatch(deps))
		r.Post("/matches/{id}/reject", handleRejectMatch(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}
