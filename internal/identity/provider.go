/**
 * @description
 * Package identity is the identity provider of the ledger: password credentials,
 * signed session tokens, sign-out revocation, password reset and re-authentication
 * for sensitive operations.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: HS256 session and reset tokens.
 * - golang.org/x/crypto/bcrypt: password hashing.
 * - github.com/google/uuid: token ids.
 */
package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/bitnest/ledger-service/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 6

	purposeSession       = "session"
	purposePasswordReset = "password_reset"

	scopeSignIn         = "signin"
	scopeRevokedSession = "revoked_session"
	scopeUsedReset      = "used_reset"
)

var (
	ErrInvalidEmail       = errors.New("a valid email address is required")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrTokenRevoked       = errors.New("session has been signed out")
	ErrRateLimited        = errors.New("too many attempts, try again later")
)

// RateLimitError carries the retry hint of a throttled sign-in.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string { return ErrRateLimited.Error() }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// CredentialStore is the slice of the document store the provider needs.
type CredentialStore interface {
	GetCredentialByEmail(ctx context.Context, email string) (*store.Credential, error)
	GetCredential(ctx context.Context, accountID string) (*store.Credential, error)
	UpdatePassword(ctx context.Context, accountID, passwordHash string, changedAt time.Time) error
	EnqueueEvent(ctx context.Context, event store.OutboxEntry) error
}

// Markers throttles sign-in and remembers revoked or consumed tokens.
type Markers interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
	MarkOnce(ctx context.Context, scope, subject string, ttl time.Duration) (bool, error)
	Marked(ctx context.Context, scope, subject string) (bool, error)
}

// Options configures a Provider.
type Options struct {
	Secret               string
	SessionTTL           time.Duration
	ResetTTL             time.Duration
	SignInLimitPerMinute int
	Exchange             string

	// HashCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	HashCost int
}

// Claims are the JWT claims of session and reset tokens.
type Claims struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// Session is an issued session token.
type Session struct {
	Token     string    `json:"token"`
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChangeKind says how the current user changed.
type ChangeKind string

const (
	SignedIn  ChangeKind = "signed_in"
	SignedOut ChangeKind = "signed_out"
)

// UserChange is delivered to currentUserChanged listeners.
type UserChange struct {
	Kind      ChangeKind
	AccountID string
	Email     string
}

// Provider implements the identity operations.
type Provider struct {
	creds    CredentialStore
	markers  Markers
	opts     Options
	hashCost int
	now      func() time.Time

	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(UserChange)
}

func NewProvider(creds CredentialStore, markers Markers, opts Options) *Provider {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = 30 * time.Minute
	}
	if opts.HashCost == 0 {
		opts.HashCost = bcrypt.DefaultCost
	}
	return &Provider{
		creds:     creds,
		markers:   markers,
		opts:      opts,
		hashCost:  opts.HashCost,
		now:       time.Now,
		listeners: make(map[int]func(UserChange)),
	}
}

// NormalizeEmail lower-cases and validates an email address.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// ValidateNewPassword checks length and confirmation of a new password.
func ValidateNewPassword(password, confirm string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	return nil
}

// NewCredential validates and hashes a sign-up password.
func (p *Provider) NewCredential(accountID, email, password, confirm string) (store.Credential, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return store.Credential{}, err
	}
	if err := ValidateNewPassword(password, confirm); err != nil {
		return store.Credential{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.hashCost)
	if err != nil {
		return store.Credential{}, fmt.Errorf("failed to hash password: %w", err)
	}
	return store.Credential{
		AccountID:         accountID,
		Email:             normalized,
		PasswordHash:      string(hash),
		PasswordChangedAt: p.now().UTC(),
	}, nil
}

func (p *Provider) sign(accountID, email, purpose string, ttl time.Duration) (string, time.Time, error) {
	now := p.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Email:   email,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   accountID,
			Issuer:    "bitnest-ledger",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.opts.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

func (p *Provider) parse(token, purpose string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(p.opts.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Purpose != purpose || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueSession signs a session token for the account and notifies listeners.
func (p *Provider) IssueSession(accountID, email string) (Session, error) {
	token, expiresAt, err := p.sign(accountID, email, purposeSession, p.opts.SessionTTL)
	if err != nil {
		return Session{}, err
	}
	p.notify(UserChange{Kind: SignedIn, AccountID: accountID, Email: email})
	return Session{Token: token, AccountID: accountID, Email: email, ExpiresAt: expiresAt}, nil
}

// SignIn verifies an email/password pair and issues a session.
func (p *Provider) SignIn(ctx context.Context, email, password string) (Session, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return Session{}, ErrInvalidCredentials
	}

	if p.markers != nil && p.opts.SignInLimitPerMinute > 0 {
		count, retryAfter, err := p.markers.ConsumeRateLimit(ctx, scopeSignIn, normalized, p.opts.SignInLimitPerMinute, time.Minute)
		if err != nil {
			log.Printf("level=warn component=identity msg=\"sign-in rate limiter unavailable\" err=%v", err)
		} else if count > p.opts.SignInLimitPerMinute {
			return Session{}, &RateLimitError{RetryAfterSeconds: retryAfter}
		}
	}

	cred, err := p.creds.GetCredentialByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("failed to load credential: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return p.IssueSession(cred.AccountID, cred.Email)
}

// Authenticate validates a session token and returns its claims.
func (p *Provider) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := p.parse(token, purposeSession)
	if err != nil {
		return nil, err
	}
	if p.markers != nil {
		revoked, err := p.markers.Marked(ctx, scopeRevokedSession, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check session revocation: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// SignOut revokes the session token until it would have expired anyway.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	claims, err := p.parse(token, purposeSession)
	if err != nil {
		return err
	}
	if p.markers != nil {
		ttl := time.Until(claims.ExpiresAt.Time)
		if ttl < time.Second {
			ttl = time.Second
		}
		if _, err := p.markers.MarkOnce(ctx, scopeRevokedSession, claims.ID, ttl); err != nil {
			return fmt.Errorf("failed to revoke session: %w", err)
		}
	}
	p.notify(UserChange{Kind: SignedOut, AccountID: claims.Subject, Email: claims.Email})
	return nil
}

// OnCurrentUserChanged registers fn for sign-in and sign-out notifications.
func (p *Provider) OnCurrentUserChanged(fn func(UserChange)) (cancel func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Provider) notify(change UserChange) {
	p.mu.RLock()
	fns := make([]func(UserChange), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}

// SendPasswordReset queues a reset email. Unknown addresses succeed silently.
func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	cred, err := p.creds.GetCredentialByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			log.Printf("level=info component=identity msg=\"password reset for unknown email ignored\"")
			return nil
		}
		return fmt.Errorf("failed to load credential: %w", err)
	}

	token, expiresAt, err := p.sign(cred.AccountID, cred.Email, purposePasswordReset, p.opts.ResetTTL)
	if err != nil {
		return err
	}
	return p.creds.EnqueueEvent(ctx, store.OutboxEntry{
		Exchange:   p.opts.Exchange,
		RoutingKey: domain.RoutingKeyPasswordResetRequested,
		Payload: domain.PasswordResetRequested{
			AccountID:  cred.AccountID,
			Email:      cred.Email,
			ResetToken: token,
			ExpiresAt:  expiresAt,
		},
	})
}

// ResetPassword consumes a reset token and sets a new password.
func (p *Provider) ResetPassword(ctx context.Context, token, password, confirm string) error {
	claims, err := p.parse(token, purposePasswordReset)
	if err != nil {
		return err
	}
	if err := ValidateNewPassword(password, confirm); err != nil {
		return err
	}
	if p.markers != nil {
		first, err := p.markers.MarkOnce(ctx, scopeUsedReset, claims.ID, p.opts.ResetTTL)
		if err != nil {
			return fmt.Errorf("failed to consume reset token: %w", err)
		}
		if !first {
			return ErrInvalidToken
		}
	}
	return p.setPassword(ctx, claims.Subject, password)
}

// Reauthenticate confirms the account holder knows the current password.
func (p *Provider) Reauthenticate(ctx context.Context, accountID, password string) error {
	cred, err := p.creds.GetCredential(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("failed to load credential: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// ChangePassword re-authenticates with current and replaces the password.
func (p *Provider) ChangePassword(ctx context.Context, accountID, current, password, confirm string) error {
	if err := ValidateNewPassword(password, confirm); err != nil {
		return err
	}
	if err := p.Reauthenticate(ctx, accountID, current); err != nil {
		return err
	}
	return p.setPassword(ctx, accountID, password)
}

func (p *Provider) setPassword(ctx context.Context, accountID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.hashCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := p.creds.UpdatePassword(ctx, accountID, string(hash), p.now().UTC()); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}
