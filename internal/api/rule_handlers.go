package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/security"
)

type createRuleRequest struct {
	AccountID string `json:"account_id"`
	recon.RuleInput
}

type ruleResponse struct {
	CorrelationID string           `json:"correlation_id"`
	Rule          *recon.MatchRule `json:"rule"`
}

type listRulesResponse struct {
	CorrelationID string            `json:"correlation_id"`
	Rules         []recon.MatchRule `json:"rules"`
}

func handleListRules(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Service.ListRules(r.Context(), r.URL.Query().Get("account_id"))
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, listRulesResponse{CorrelationID: cid(r), Rules: list})
	}
}

func handleCreateRule(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRuleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
		rule, err := deps.Service.CreateRule(r.Context(), req.AccountID, req.RuleInput)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, ruleResponse{CorrelationID: cid(r), Rule: rule})
	}
}

func handleGetRule(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rule, err := deps.Service.GetRule(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, ruleResponse{CorrelationID: cid(r), Rule: rule})
	}
}

func handleUpdateRule(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch recon.RulePatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
		rule, err := deps.Service.UpdateRule(r.Context(), chi.URLParam(r, "id"), patch)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, ruleResponse{CorrelationID: cid(r), Rule: rule})
	}
}

// handleDeleteRule takes the expected version from ?version=.
func handleDeleteRule(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version, err := strconv.Atoi(r.URL.Query().Get("version"))
		if err != nil || version <= 0 {
			badRequest(w, r, "version", "expected version is required")
			return
		}
		if err := deps.Service.DeleteRule(r.Context(), chi.URLParam(r, "id"), version); err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		w.Header().Set(security.CorrelationIDHeader, cid(r))
		w.WriteHeader(http.StatusNoContent)
	}
}
