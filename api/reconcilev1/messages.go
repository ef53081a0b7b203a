// Package reconcilev1 is the wire contract of the reconcile.v1.Reconciliation
// gRPC service. Messages travel as JSON through the codec registered here.
package reconcilev1

import "github.com/example/recon-engine/internal/recon"

type CreateSessionRequest struct {
	AccountID   string `json:"account_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

type SessionReply struct {
	Session *recon.Session `json:"session"`
}

type GetSessionRequest struct {
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
	Status    string `json:"status,omitempty"`
}

type SessionViewReply struct {
	View *recon.SessionView `json:"view"`
}

type ListSessionsRequest struct {
	AccountID string `json:"account_id"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

type ListSessionsReply struct {
	Sessions []recon.Session `json:"sessions"`
}

type ImportStatementsRequest struct {
	SessionID  string                       `json:"session_id"`
	Statements []recon.StatementTransaction `json:"statements"`
}

type ImportStatementsReply struct {
	Result *recon.ImportResult `json:"result"`
}

// SessionIDRequest addresses RunMatchingPass, StopPass and CancelSession.
type SessionIDRequest struct {
	SessionID string `json:"session_id"`
}

type PassReply struct {
	Result *recon.PassResult `json:"result"`
}

type MatchIDRequest struct {
	MatchID string `json:"match_id"`
}

type MatchReply struct {
	Match *recon.Match `json:"match"`
}

type ListRulesRequest struct {
	AccountID string `json:"account_id"`
}

type ListRulesReply struct {
	Rules []recon.MatchRule `json:"rules"`
}

type RuleIDRequest struct {
	RuleID string `json:"rule_id"`
}

type CreateRuleRequest struct {
	AccountID string          `json:"account_id"`
	Rule      recon.RuleInput `json:"rule"`
}

type UpdateRuleRequest struct {
	RuleID string          `json:"rule_id"`
	Patch  recon.RulePatch `json:"patch"`
}

type DeleteRuleRequest struct {
	RuleID  string `json:"rule_id"`
	Version int    `json:"version"`
}

type RuleReply struct {
	Rule *recon.MatchRule `json:"rule"`
}

type Empty struct{}
