package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const referralCodePrefix = "BN"

// NormalizeReferralCode trims and upper-cases a user-supplied code.
func NormalizeReferralCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ResolveInviterCode picks the inviter code a sign-up should use. An explicit form
// value wins over one cached from an earlier visit, which wins over the ?ref= query.
func ResolveInviterCode(form, cached, query string) string {
	for _, candidate := range []string{form, cached, query} {
		if code := NormalizeReferralCode(candidate); code != "" {
			return code
		}
	}
	return ""
}

// GenerateReferralCode returns a fresh "BN" code with six random digits.
// Uniqueness is enforced by the store; callers retry on collision.
func GenerateReferralCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate referral code: %w", err)
	}
	return fmt.Sprintf("%s%06d", referralCodePrefix, n.Int64()), nil
}

// InviteLink is the shareable sign-up link for a referral code.
func InviteLink(baseURL, code string) string {
	return strings.TrimRight(baseURL, "/") + "/?ref=" + code
}
