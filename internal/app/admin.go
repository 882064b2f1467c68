package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/bitnest/ledger-service/internal/store"
)

// AdminActionRequest is an administrator command against one account.
type AdminActionRequest struct {
	Action   domain.AdminAction      `json:"action"`
	Override *domain.BalanceOverride `json:"override,omitempty"`
}

// RequireAdmin loads the caller and fails unless it is an administrator.
func (s *Service) RequireAdmin(ctx context.Context, callerID string) (*domain.Account, error) {
	caller, err := s.repo.GetAccount(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin {
		return nil, ErrAdminRequired
	}
	return caller, nil
}

// ListAccounts returns every account for the admin console.
func (s *Service) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return s.repo.ListAccounts(ctx)
}

// AdminAct applies an administrative action to the target account.
func (s *Service) AdminAct(ctx context.Context, adminID, targetID string, req AdminActionRequest) (*domain.Account, error) {
	action, err := domain.ParseAdminAction(string(req.Action))
	if err != nil {
		return nil, err
	}
	return s.mutateAccount(ctx, targetID, func(a *domain.Account, now time.Time) ([]store.OutboxEntry, error) {
		if a.IsAdmin || (s.adminEmail != "" && strings.EqualFold(a.Email, s.adminEmail)) {
			return nil, ErrProtectedAccount
		}
		if err := domain.ApplyAdminAction(a, action, req.Override); err != nil {
			return nil, err
		}
		log.Printf("level=info component=admin msg=\"admin action applied\" admin_id=%s account_id=%s action=%s", adminID, a.ID, action)
		return []store.OutboxEntry{s.event(domain.RoutingKeyAccountAdminAction, domain.LedgerEvent{
			AccountID:  a.ID,
			Email:      a.Email,
			Amount:     a.Balance,
			Detail:     fmt.Sprintf("%s by %s", action, adminID),
			OccurredAt: now.UTC(),
		})}, nil
	})
}
