package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/bitnest/ledger-service/internal/store"
)

// ApplyCommissionIntent walks the inviter chain of intent and credits every tier
// that has not been paid yet. Redelivering the same intent pays nothing twice.
// It returns the number of credits applied by this call.
func (s *Service) ApplyCommissionIntent(ctx context.Context, intent domain.CommissionIntent) (int, error) {
	if intent.IntentID == "" || !intent.BaseAmount.IsPositive() {
		log.Printf("level=warn component=commission msg=\"dropping malformed intent\" intent_id=%q", intent.IntentID)
		return 0, nil
	}

	paid, err := s.repo.PaidCommissionTiers(ctx, intent.IntentID)
	if err != nil {
		return 0, fmt.Errorf("failed to load paid tiers: %w", err)
	}

	code := domain.NormalizeReferralCode(intent.InviterCode)
	visited := map[string]bool{intent.SourceAccountID: true}
	applied := 0

	for tier := 0; tier < len(s.rules.ReferralTiers) && code != ""; tier++ {
		beneficiary, err := s.repo.FindAccountByReferralCode(ctx, code)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				break
			}
			return applied, fmt.Errorf("failed to resolve tier %d inviter: %w", tier, err)
		}
		if visited[beneficiary.ID] {
			log.Printf("level=warn component=commission msg=\"referral cycle; stopping walk\" intent_id=%s tier=%d account_id=%s", intent.IntentID, tier, beneficiary.ID)
			break
		}
		visited[beneficiary.ID] = true
		code = beneficiary.InvitedBy

		amount := s.rules.TierCommission(tier, intent.BaseAmount)
		if paid[tier] || !amount.IsPositive() {
			continue
		}

		payout := domain.CommissionPayout{
			IntentID:      intent.IntentID,
			Tier:          tier,
			BeneficiaryID: beneficiary.ID,
			Amount:        amount,
			CreatedAt:     s.now().UTC(),
		}
		account, ok, err := s.repo.ApplyCommissionCredit(ctx, payout, s.event(domain.RoutingKeyCommissionPaid, payout))
		if err != nil {
			log.Printf("level=warn component=commission msg=\"tier credit failed; walk will be retried\" intent_id=%s tier=%d err=%v", intent.IntentID, tier, err)
			return applied, fmt.Errorf("failed to credit tier %d: %w", tier, err)
		}
		if !ok {
			continue
		}
		applied++
		if s.payouts != nil {
			s.payouts.RecordCommissionPayout(tier)
		}
		if account != nil {
			s.publish(ctx, *account)
		}
	}

	log.Printf("level=info component=commission msg=\"intent applied\" intent_id=%s trigger=%s base=%s credits=%d", intent.IntentID, intent.Trigger, intent.BaseAmount.StringFixed(2), applied)
	return applied, nil
}
