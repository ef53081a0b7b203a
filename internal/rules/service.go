package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/recon-engine/internal/recon"
)

// Store persists rules. UpdateRule and DeleteRule succeed only when the
// stored version equals expectedVersion; otherwise they return a
// *recon.ConflictError, or *recon.NotFoundError when the rule is gone.
type Store interface {
	InsertRule(ctx context.Context, rule *recon.MatchRule) error
	GetRule(ctx context.Context, id string) (*recon.MatchRule, error)
	ListRules(ctx context.Context, accountID string) ([]recon.MatchRule, error)
	UpdateRule(ctx context.Context, rule *recon.MatchRule, expectedVersion int) error
	DeleteRule(ctx context.Context, id string, expectedVersion int) error
}

// Service validates and stores rules and compiles them into programs.
type Service struct {
	store    Store
	defaults Defaults
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a rule service.
func NewService(store Store, defaults Defaults, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		defaults: defaults,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and stores a new rule at version 1.
func (s *Service) Create(ctx context.Context, accountID string, in recon.RuleInput) (*recon.MatchRule, error) {
	now := s.now()
	rule := recon.MatchRule{
		ID:         uuid.NewString(),
		AccountID:  strings.TrimSpace(accountID),
		Name:       strings.TrimSpace(in.Name),
		Priority:   in.Priority,
		Conditions: in.Conditions,
		Actions:    in.Actions,
		Enabled:    true,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.Enabled != nil {
		rule.Enabled = *in.Enabled
	}
	if err := Validate(rule); err != nil {
		return nil, err
	}
	if err := s.store.InsertRule(ctx, &rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	s.logger.InfoContext(ctx, "rule created", "rule_id", rule.ID, "account_id", rule.AccountID, "priority", rule.Priority)
	return &rule, nil
}

// Get returns one rule.
func (s *Service) Get(ctx context.Context, id string) (*recon.MatchRule, error) {
	if id == "" {
		return nil, recon.NewValidationError("rule_id", "rule_id is required")
	}
	return s.store.GetRule(ctx, id)
}

// List returns an account's rules in evaluation order.
func (s *Service) List(ctx context.Context, accountID string) ([]recon.MatchRule, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, recon.NewValidationError("account_id", "account_id is required")
	}
	return s.store.ListRules(ctx, accountID)
}

// Update applies patch if patch.Version matches the stored version.
func (s *Service) Update(ctx context.Context, id string, patch recon.RulePatch) (*recon.MatchRule, error) {
	if patch.Version <= 0 {
		return nil, recon.NewValidationError("version", "expected version is required")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != patch.Version {
		return nil, recon.NewConflictError("rule", id, fmt.Sprintf("version %d is stale, current is %d", patch.Version, current.Version))
	}

	next := *current
	if patch.Name != nil {
		next.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Priority != nil {
		next.Priority = *patch.Priority
	}
	if patch.Conditions != nil {
		next.Conditions = patch.Conditions
	}
	if patch.Actions != nil {
		next.Actions = *patch.Actions
	}
	if patch.Enabled != nil {
		next.Enabled = *patch.Enabled
	}
	next.Version = current.Version + 1
	next.UpdatedAt = s.now()

	if err := Validate(next); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRule(ctx, &next, patch.Version); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "rule updated", "rule_id", id, "version", next.Version)
	return &next, nil
}

// Delete removes a rule if version matches. Existing matches keep their rule id.
func (s *Service) Delete(ctx context.Context, id string, version int) error {
	if id == "" {
		return recon.NewValidationError("rule_id", "rule_id is required")
	}
	if version <= 0 {
		return recon.NewValidationError("version", "expected version is required")
	}
	if err := s.store.DeleteRule(ctx, id, version); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "rule deleted", "rule_id", id)
	return nil
}

// Program compiles the account's enabled rules.
func (s *Service) Program(ctx context.Context, accountID string) (*Program, error) {
	list, err := s.store.ListRules(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return Compile(list, s.defaults)
}
