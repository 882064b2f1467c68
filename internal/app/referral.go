package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/bitnest/ledger-service/internal/identity"
	"github.com/bitnest/ledger-service/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxReferralCodeAttempts = 5
	referralClickScope      = "referral_click"
	referralClickTTL        = 24 * time.Hour

	// maxChainScan bounds the cycle check of LinkReferral on corrupted chains.
	maxChainScan = 64
)

var (
	ErrSessionRequired = errors.New("a browser session id is required")
	ErrReferralCycle   = errors.New("that referral code would create a referral loop")
)

// SignUpRequest carries the sign-up form plus the referral codes seen by the client.
type SignUpRequest struct {
	Email              string `json:"email"`
	Password           string `json:"password"`
	ConfirmPassword    string `json:"confirmPassword"`
	ReferralCode       string `json:"referralCode"`
	CachedReferralCode string `json:"cachedReferralCode"`
	QueryReferralCode  string `json:"queryReferralCode"`
}

// SignUpResult is the created account and its first session.
type SignUpResult struct {
	Account *domain.Account  `json:"account"`
	Session identity.Session `json:"session"`
}

// SignUp creates the credential and the zeroed account document, attaches the
// inviter when the resolved referral code exists, and signs the holder in.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error) {
	if s.identity == nil {
		return nil, errors.New("identity provider is not configured")
	}
	id := uuid.NewString()
	cred, err := s.identity.NewCredential(id, req.Email, req.Password, req.ConfirmPassword)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.FindAccountByEmail(ctx, cred.Email); err == nil {
		return nil, store.ErrEmailTaken
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	inviterCode := s.resolveInviter(ctx, domain.ResolveInviterCode(req.ReferralCode, req.CachedReferralCode, req.QueryReferralCode))
	account, err := s.createAccount(ctx, id, cred.Email, inviterCode, &cred)
	if err != nil {
		return nil, err
	}

	session, err := s.identity.IssueSession(account.ID, account.Email)
	if err != nil {
		return nil, err
	}
	return &SignUpResult{Account: account, Session: session}, nil
}

// EnsureAccount returns the account of an authenticated subject, creating the
// default zeroed profile on first authentication.
func (s *Service) EnsureAccount(ctx context.Context, accountID, email string) (*domain.Account, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, err
	}
	log.Printf("level=info component=referral msg=\"creating default profile on first authentication\" account_id=%s", accountID)
	account, err = s.createAccount(ctx, accountID, email, "", nil)
	if errors.Is(err, store.ErrEmailTaken) {
		return s.repo.GetAccount(ctx, accountID)
	}
	return account, err
}

// resolveInviter keeps code only if it belongs to an existing account.
func (s *Service) resolveInviter(ctx context.Context, code string) string {
	if code == "" {
		return ""
	}
	if _, err := s.repo.FindAccountByReferralCode(ctx, code); err != nil {
		if !errors.Is(err, store.ErrAccountNotFound) {
			log.Printf("level=warn component=referral msg=\"inviter lookup failed; signing up without inviter\" code=%s err=%v", code, err)
		}
		return ""
	}
	return code
}

func (s *Service) createAccount(ctx context.Context, id, email, inviterCode string, cred *store.Credential) (*domain.Account, error) {
	now := s.now()
	isAdmin := s.adminEmail != "" && strings.EqualFold(strings.TrimSpace(email), s.adminEmail)

	for attempt := 1; attempt <= maxReferralCodeAttempts; attempt++ {
		code, err := domain.GenerateReferralCode()
		if err != nil {
			return nil, err
		}
		account := domain.NewAccount(id, email, code, inviterCode, isAdmin, now)
		if err := s.repo.CreateAccount(ctx, &account, cred); err != nil {
			if errors.Is(err, store.ErrReferralCodeTaken) {
				continue
			}
			return nil, err
		}
		log.Printf("level=info component=referral msg=\"account created\" account_id=%s invited_by=%q", id, inviterCode)
		s.publish(ctx, account)
		if inviterCode != "" {
			s.publishByReferralCode(ctx, inviterCode)
		}
		return &account, nil
	}
	return nil, fmt.Errorf("failed to allocate a unique referral code: %w", store.ErrReferralCodeTaken)
}

func (s *Service) publishByReferralCode(ctx context.Context, code string) {
	inviter, err := s.repo.FindAccountByReferralCode(ctx, code)
	if err != nil {
		return
	}
	s.publish(ctx, *inviter)
}

// RecordClick counts one visit of an invite link per browser session. It reports
// whether the click was counted.
func (s *Service) RecordClick(ctx context.Context, rawCode, sessionID string) (bool, error) {
	code := domain.NormalizeReferralCode(rawCode)
	if code == "" {
		return false, domain.ErrInvalidReferralCode
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, ErrSessionRequired
	}
	owner, err := s.repo.FindAccountByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return false, domain.ErrInvalidReferralCode
		}
		return false, err
	}

	if s.markers != nil {
		first, err := s.markers.MarkOnce(ctx, referralClickScope, sessionID+":"+code, referralClickTTL)
		if err != nil {
			return false, fmt.Errorf("failed to dedupe referral click: %w", err)
		}
		if !first {
			return false, nil
		}
	}

	updated, err := s.repo.IncrementAccount(ctx, owner.ID, store.AccountDelta{ReferralClicks: 1})
	if err != nil {
		return false, fmt.Errorf("failed to count referral click: %w", err)
	}
	s.publish(ctx, *updated)
	return true, nil
}

// TeamMember is the public view of an invitee.
type TeamMember struct {
	Username string    `json:"username"`
	Nickname string    `json:"nickname,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Team is the referral dashboard of an account.
type Team struct {
	ReferralCode   string          `json:"referralCode"`
	InviteLink     string          `json:"inviteLink"`
	InvitedBy      string          `json:"invitedBy,omitempty"`
	TeamCount      int64           `json:"teamCount"`
	ReferralClicks int64           `json:"referralClicks"`
	TeamCommission decimal.Decimal `json:"teamCommission"`
	Members        []TeamMember    `json:"members"`
}

// Team lists the direct invitees of the account.
func (s *Service) Team(ctx context.Context, accountID string) (*Team, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	invitees, err := s.repo.ListInvitees(ctx, account.ReferralCode)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitees: %w", err)
	}
	members := make([]TeamMember, 0, len(invitees))
	for _, invitee := range invitees {
		members = append(members, TeamMember{Username: invitee.Username, Nickname: invitee.Nickname, JoinedAt: invitee.JoinedAt})
	}
	return &Team{
		ReferralCode:   account.ReferralCode,
		InviteLink:     domain.InviteLink(s.publicBaseURL, account.ReferralCode),
		InvitedBy:      account.InvitedBy,
		TeamCount:      account.TeamCount,
		ReferralClicks: account.ReferralClicks,
		TeamCommission: account.TeamCommission,
		Members:        members,
	}, nil
}

// LinkReferral attaches an inviter after sign-up. It is allowed once, never to the
// caller's own code and never to a chain that leads back to the caller.
func (s *Service) LinkReferral(ctx context.Context, accountID, rawCode string) (*domain.Account, error) {
	code := domain.NormalizeReferralCode(rawCode)
	if code == "" {
		return nil, domain.ErrInvalidReferralCode
	}
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.InvitedBy != "" {
		return nil, domain.ErrAlreadyReferred
	}
	if code == account.ReferralCode {
		return nil, domain.ErrSelfReferral
	}
	inviter, err := s.repo.FindAccountByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, domain.ErrInvalidReferralCode
		}
		return nil, err
	}

	seen := map[string]bool{inviter.ID: true}
	for cur, hops := inviter, 0; cur.InvitedBy != "" && hops < maxChainScan; hops++ {
		if cur.InvitedBy == account.ReferralCode {
			return nil, ErrReferralCycle
		}
		next, err := s.repo.FindAccountByReferralCode(ctx, cur.InvitedBy)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				break
			}
			return nil, err
		}
		if seen[next.ID] {
			break
		}
		seen[next.ID] = true
		cur = next
	}

	updated, err := s.repo.SetInvitedBy(ctx, accountID, code)
	if err != nil {
		if errors.Is(err, store.ErrInviterAlreadyAssigned) {
			return nil, domain.ErrAlreadyReferred
		}
		return nil, fmt.Errorf("failed to link referral: %w", err)
	}
	s.publish(ctx, *updated)
	s.publishByReferralCode(ctx, code)
	return updated, nil
}
