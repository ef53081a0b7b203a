package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/security"
)

type createSessionRequest struct {
	AccountID   string `json:"account_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

type sessionResponse struct {
	CorrelationID string         `json:"correlation_id"`
	Session       *recon.Session `json:"session"`
}

type listSessionsResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Sessions      []recon.Session `json:"sessions"`
}

type sessionViewResponse struct {
	CorrelationID string `json:"correlation_id"`
	*recon.SessionView
}

type statementLine struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	ExternalRef string          `json:"external_ref"`
}

type importStatementsRequest struct {
	Statements []statementLine `json:"statements"`
}

type importStatementsResponse struct {
	CorrelationID string `json:"correlation_id"`
	*recon.ImportResult
}

type passResponse struct {
	CorrelationID string `json:"correlation_id"`
	*recon.PassResult
}

type matchResponse struct {
	CorrelationID string       `json:"correlation_id"`
	Match         *recon.Match `json:"match"`
}

func cid(r *http.Request) string {
	return security.CorrelationIDFromContext(r.Context())
}

func handleCreateSession(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
		start, err := recon.ParseDate(req.PeriodStart)
		if err != nil {
			badRequest(w, r, "period_start", "not a calendar date")
			return
		}
		end, err := recon.ParseDate(req.PeriodEnd)
		if err != nil {
			badRequest(w, r, "period_end", "not a calendar date")
			return
		}

		sess, err := deps.Service.CreateSession(r.Context(), req.AccountID, start, end)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, sessionResponse{CorrelationID: cid(r), Session: sess})
	}
}

func handleListSessions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := parsePagination(w, r)
		if !ok {
			return
		}
		list, err := deps.Service.ListSessions(r.Context(), r.URL.Query().Get("account_id"), p)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, listSessionsResponse{CorrelationID: cid(r), Sessions: list})
	}
}

func handleGetSession(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := parsePagination(w, r)
		if !ok {
			return
		}
		p.Status = recon.MatchStatus(r.URL.Query().Get("status"))

		view, err := deps.Service.GetSession(r.Context(), chi.URLParam(r, "id"), p)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, sessionViewResponse{CorrelationID: cid(r), SessionView: view})
	}
}

func handleImportStatements(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req importStatementsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		txns := make([]recon.StatementTransaction, 0, len(req.Statements))
		for i, line := range req.Statements {
			date, err := recon.ParseDate(line.Date)
			if err != nil {
				badRequest(w, r, "statements["+strconv.Itoa(i)+"].date", "not a calendar date")
				return
			}
			txns = append(txns, recon.StatementTransaction{
				ID:          line.ID,
				AccountID:   line.AccountID,
				Date:        date,
				Amount:      line.Amount,
				Description: line.Description,
				ExternalRef: line.ExternalRef,
			})
		}

		res, err := deps.Service.ImportStatements(r.Context(), chi.URLParam(r, "id"), txns)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, importStatementsResponse{CorrelationID: cid(r), ImportResult: res})
	}
}

func handleRunPass(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Service.RunMatchingPass(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, passResponse{CorrelationID: cid(r), PassResult: res})
	}
}

func handleStopPass(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Service.StopPass(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusAccepted, sessionResponse{CorrelationID: cid(r), Session: sess})
	}
}

func handleCancelSession(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Service.CancelSession(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, sessionResponse{CorrelationID: cid(r), Session: sess})
	}
}

func handleConfirmMatch(deps Dependencies) http.HandlerFunc {
	return handleResolveMatch(deps, true)
}

func handleRejectMatch(deps Dependencies) http.HandlerFunc {
	return handleResolveMatch(deps, false)
}

func handleResolveMatch(deps Dependencies, confirm bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var (
			m   *recon.Match
			err error
		)
		if confirm {
			m, err = deps.Service.ConfirmMatch(r.Context(), id)
		} else {
			m, err = deps.Service.RejectMatch(r.Context(), id)
		}
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, matchResponse{CorrelationID: cid(r), Match: m})
	}
}

func parsePagination(w http.ResponseWriter, r *http.Request) (recon.Pagination, bool) {
	var p recon.Pagination
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, r, "limit", "must be an integer")
			return p, false
		}
		p.Limit = i
	}
	if v := q.Get("offset"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil || i < 0 {
			badRequest(w, r, "offset", "must be a non-negative integer")
			return p, false
		}
		p.Offset = i
	}
	return p, true
}
