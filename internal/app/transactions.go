package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/bitnest/ledger-service/internal/store"
	"github.com/shopspring/decimal"
)

const (
	defaultUserTransactionLimit  = 10
	defaultAdminTransactionLimit = 200
)

// RequestDeposit records a pending deposit. The balance moves only on approval.
func (s *Service) RequestDeposit(ctx context.Context, accountID string, amount decimal.Decimal) (*domain.Transaction, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	tx, err := domain.NewDepositRequest(*account, s.rules, amount, s.now())
	if err != nil {
		return nil, err
	}
	event := s.event(domain.RoutingKeyTransactionRequested, transactionEvent(tx))
	if err := s.repo.CreateTransaction(ctx, &tx, event); err != nil {
		return nil, fmt.Errorf("failed to create deposit request: %w", err)
	}
	log.Printf("level=info component=transactions msg=\"deposit requested\" account_id=%s tx_id=%s amount=%s", accountID, tx.ID, tx.Amount.StringFixed(2))
	return &tx, nil
}

// RequestWithdraw re-authenticates the holder, debits amount and records the
// pending withdrawal in one write.
func (s *Service) RequestWithdraw(ctx context.Context, accountID string, amount decimal.Decimal, address, password string) (*domain.Transaction, *domain.Account, error) {
	if s.identity != nil {
		if err := s.identity.Reauthenticate(ctx, accountID, password); err != nil {
			return nil, nil, err
		}
	}
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	tx, err := domain.NewWithdrawRequest(*account, s.rules, amount, address, s.now())
	if err != nil {
		return nil, nil, err
	}
	event := s.event(domain.RoutingKeyTransactionRequested, transactionEvent(tx))
	updated, err := s.repo.CreateWithdrawRequest(ctx, &tx, event)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return nil, nil, domain.ErrInsufficientBalance
		}
		return nil, nil, fmt.Errorf("failed to create withdraw request: %w", err)
	}
	s.publish(ctx, *updated)
	log.Printf("level=info component=transactions msg=\"withdraw requested\" account_id=%s tx_id=%s amount=%s", accountID, tx.ID, tx.Amount.StringFixed(2))
	return &tx, updated, nil
}

// ResolveTransaction approves or rejects a pending request. A request that is no
// longer pending is left untouched and store.ErrTransactionFinalized is returned.
func (s *Service) ResolveTransaction(ctx context.Context, txID string, res domain.Resolution) (*domain.Transaction, error) {
	if _, err := domain.ParseResolution(string(res)); err != nil {
		return nil, err
	}
	current, err := s.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, store.ErrTransactionFinalized
	}

	routingKey := domain.RoutingKeyTransactionApproved
	if res == domain.ResolutionReject {
		routingKey = domain.RoutingKeyTransactionRejected
	}
	now := s.now()
	preview := *current
	preview.Status = res.Status()
	event := s.event(routingKey, transactionEvent(preview))

	tx, account, err := s.repo.ResolveTransaction(ctx, txID, res, now, event)
	if err != nil {
		return nil, err
	}
	if account != nil && tx.SettlementCredit(res).IsPositive() {
		s.publish(ctx, *account)
	}
	log.Printf("level=info component=transactions msg=\"transaction resolved\" tx_id=%s type=%s status=%s", tx.ID, tx.Type, tx.Status)
	return tx, nil
}

// ListMyTransactions returns the newest requests of the holder.
func (s *Service) ListMyTransactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = defaultUserTransactionLimit
	}
	return s.repo.ListTransactionsByUser(ctx, accountID, limit)
}

// ListTransactions returns the newest requests across all holders.
func (s *Service) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = defaultAdminTransactionLimit
	}
	return s.repo.ListTransactions(ctx, limit)
}

func transactionEvent(tx domain.Transaction) domain.LedgerEvent {
	return domain.LedgerEvent{
		AccountID:     tx.UserID,
		Email:         tx.UserEmail,
		Amount:        tx.Amount,
		TransactionID: tx.ID,
		Detail:        string(tx.Type) + ":" + string(tx.Status),
		OccurredAt:    tx.CreatedAt,
	}
}
