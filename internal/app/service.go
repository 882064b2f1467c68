/**
 * @description
 * This file contains the core business logic of the ledger. The `Service` struct
 * orchestrates every account mutation: it reads the account document, applies a
 * pure transition from internal/domain, and writes the result back with a
 * compare-and-swap on the document version together with the outbox events the
 * change produced.
 *
 * Key features:
 * - Loop and savings operations with commission intents written atomically.
 * - Deposit and withdraw requests with a conditional debit and a terminal guard.
 * - Every committed change is pushed to the account change feed.
 *
 * @dependencies
 * - github.com/shopspring/decimal: money amounts.
 * - internal/domain, internal/store, internal/feed, internal/identity.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/bitnest/ledger-service/internal/feed"
	"github.com/bitnest/ledger-service/internal/identity"
	"github.com/bitnest/ledger-service/internal/store"
	"github.com/shopspring/decimal"
)

const maxUpdateAttempts = 5

var (
	ErrConcurrentUpdate = errors.New("account is busy, please retry")
	ErrAdminRequired    = errors.New("administrator access required")
	ErrProtectedAccount = errors.New("the administrator account cannot be modified")
	ErrNicknameTooLong  = errors.New("nickname must be at most 40 characters")
	ErrUsernameTooLong  = errors.New("username must be at most 40 characters")
)

// Markers is the dedup store behind referral click counting.
type Markers interface {
	MarkOnce(ctx context.Context, scope, subject string, ttl time.Duration) (bool, error)
}

// PayoutRecorder observes applied commission credits.
type PayoutRecorder interface {
	RecordCommissionPayout(tier int)
}

// Options carries the static settings of a Service.
type Options struct {
	Rules         domain.Rules
	Exchange      string
	AdminEmail    string
	PublicBaseURL string
}

// Service provides the core business logic of the ledger.
type Service struct {
	repo     store.Repository
	feed     feed.Broker
	identity *identity.Provider
	markers  Markers
	payouts  PayoutRecorder

	rules         domain.Rules
	exchange      string
	adminEmail    string
	publicBaseURL string
	now           func() time.Time
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, broker feed.Broker, provider *identity.Provider, markers Markers, opts Options) *Service {
	return &Service{
		repo:          repo,
		feed:          broker,
		identity:      provider,
		markers:       markers,
		rules:         opts.Rules,
		exchange:      opts.Exchange,
		adminEmail:    strings.ToLower(strings.TrimSpace(opts.AdminEmail)),
		publicBaseURL: opts.PublicBaseURL,
		now:           time.Now,
	}
}

// SetPayoutRecorder installs an observer for applied commission credits.
func (s *Service) SetPayoutRecorder(r PayoutRecorder) {
	s.payouts = r
}

func (s *Service) Rules() domain.Rules {
	return s.rules
}

func (s *Service) publish(ctx context.Context, account domain.Account) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, account); err != nil {
		log.Printf("level=warn component=feed msg=\"failed to publish account change\" account_id=%s version=%d err=%v", account.ID, account.Version, err)
	}
}

func (s *Service) event(routingKey string, payload interface{}) store.OutboxEntry {
	return store.OutboxEntry{Exchange: s.exchange, RoutingKey: routingKey, Payload: payload}
}

// mutateAccount applies fn to a fresh copy of the account and writes it back if
// nobody else wrote in between. fn may run more than once.
func (s *Service) mutateAccount(ctx context.Context, id string, fn func(a *domain.Account, now time.Time) ([]store.OutboxEntry, error)) (*domain.Account, error) {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		account, err := s.repo.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		expected := account.Version
		now := s.now()

		events, err := fn(account, now)
		if err != nil {
			return nil, err
		}
		account.UpdatedAt = now.UTC()

		if err := s.repo.UpdateAccount(ctx, account, expected, events...); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				log.Printf("level=info component=ledger msg=\"version conflict; retrying\" account_id=%s attempt=%d", id, attempt)
				continue
			}
			if errors.Is(err, store.ErrInsufficientFunds) {
				return nil, domain.ErrInsufficientBalance
			}
			return nil, fmt.Errorf("failed to update account: %w", err)
		}
		s.publish(ctx, *account)
		return account, nil
	}
	log.Printf("level=warn component=ledger msg=\"giving up after repeated version conflicts\" account_id=%s", id)
	return nil, ErrConcurrentUpdate
}

// GetAccount returns the account of id.
func (s *Service) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// ProfileUpdate carries the editable profile fields. Nil fields are left alone.
type ProfileUpdate struct {
	Username *string `json:"username"`
	Nickname *string `json:"nickname"`
}

// UpdateProfile edits the free-form profile fields of the account.
func (s *Service) UpdateProfile(ctx context.Context, accountID string, update ProfileUpdate) (*domain.Account, error) {
	return s.mutateAccount(ctx, accountID, func(a *domain.Account, now time.Time) ([]store.OutboxEntry, error) {
		if update.Username != nil {
			username := strings.TrimSpace(*update.Username)
			if len([]rune(username)) > 40 {
				return nil, ErrUsernameTooLong
			}
			if username != "" {
				a.Username = username
			}
		}
		if update.Nickname != nil {
			nickname := strings.TrimSpace(*update.Nickname)
			if len([]rune(nickname)) > 40 {
				return nil, ErrNicknameTooLong
			}
			a.Nickname = nickname
		}
		return nil, nil
	})
}

// StartLoop locks amount for days and queues the commission walk over amount.
func (s *Service) StartLoop(ctx context.Context, accountID string, amount decimal.Decimal, days int) (*domain.Account, error) {
	return s.mutateAccount(ctx, accountID, func(a *domain.Account, now time.Time) ([]store.OutboxEntry, error) {
		if err := domain.StartLoop(a, s.rules, amount, days, now); err != nil {
			return nil, err
		}
		events := []store.OutboxEntry{s.event(domain.RoutingKeyLoopStarted, domain.LedgerEvent{
			AccountID:  a.ID,
			Email:      a.Email,
			Amount:     amount,
			Detail:     fmt.Sprintf("%d days", days),
			OccurredAt: now.UTC(),
		})}
		if intent, ok := domain.NewCommissionIntent(*a, amount, domain.TriggerLoopStart, now); ok {
			events = append(events, s.event(domain.RoutingKeyCommissionIntent, intent))
		}
		return events, nil
	})
}

// ClaimLoop pays out a matured loop.
func (s *Service) ClaimLoop(ctx context.Context, accountID string) (*domain.Account, domain.LoopPayout, error) {
	var payout domain.LoopPayout
	account, err := s.mutateAccount(ctx, accountID, func(a *domain.Account, now time.Time) ([]store.OutboxEntry, error) {
		p, err := domain.ClaimLoop(a, s.rules, now)
		if err != nil {
			return nil, err
		}
		payout = p
		return []store.OutboxEntry{s.event(domain.RoutingKeyLoopClaimed, domain.LedgerEvent{
			AccountID:  a.ID,
			Email:      a.Email,
			Amount:     p.Principal,
			Profit:     p.Profit,
			OccurredAt: now.UTC(),
		})}, nil
	})
	if err != nil {
		return nil, domain.LoopPayout{}, err
	}
	return account, payout, nil
}

// DepositSavings moves amount into savings and queues the commission walk over amount.
func (s *Service) DepositSavings(ctx context.Context, accountID string, amount decimal.Decimal) (*domain.Account, error) {
	return s.mutateAccount(ctx, accountID, func(a *domain.Account, now time.Time) ([]store.OutboxEntry, error) {
		if err := domain.DepositSavings(a, s.rules, amount, now); err != nil {
			return nil, err
		}
		events := []store.OutboxEntry{s.event(domain.RoutingKeySavingsDeposited, domain.LedgerEvent{
			AccountID:  a.ID,
			Email:      a.Email,
			Amount:     amount,
			OccurredAt: now.UTC(),
		})}
		if intent, ok := domain.NewCommissionIntent(*a, amount, domain.TriggerSavingsDeposit, now); ok {
			events = append(events, s.event(domain.RoutingKeyCommissionIntent, intent))
		}
		return events, nil
	})
}

// ClaimSavingsInterest credits the daily savings interest.
func (s *Service) ClaimSavingsInterest(ctx context.Context, accountID string) (*domain.Account, decimal.Decimal, error) {
	interest := decimal.Zero
	account, err := s.mutateAccount(ctx, accountID, func(a *domain.Account, now time.Time) ([]store.OutboxEntry, error) {
		amount, err := domain.ClaimSavingsInterest(a, s.rules, now)
		if err != nil {
			return nil, err
		}
		interest = amount
		return []store.OutboxEntry{s.event(domain.RoutingKeySavingsInterestClaimed, domain.LedgerEvent{
			AccountID:  a.ID,
			Email:      a.Email,
			Amount:     a.SavingsBalance,
			Profit:     amount,
			OccurredAt: now.UTC(),
		})}, nil
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return account, interest, nil
}

// WithdrawSavings returns amount from savings to the balance.
func (s *Service) WithdrawSavings(ctx context.Context, accountID string, amount decimal.Decimal) (*domain.Account, error) {
	return s.mutateAccount(ctx, accountID, func(a *domain.Account, now time.Time) ([]store.OutboxEntry, error) {
		if err := domain.WithdrawSavings(a, amount); err != nil {
			return nil, err
		}
		return []store.OutboxEntry{s.event(domain.RoutingKeySavingsWithdrawn, domain.LedgerEvent{
			AccountID:  a.ID,
			Email:      a.Email,
			Amount:     amount,
			OccurredAt: now.UTC(),
		})}, nil
	})
}
