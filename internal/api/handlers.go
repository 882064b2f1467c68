/**
 * @description
 * This file contains the HTTP handlers of the ledger service. Each handler decodes
 * its request, calls the application service and maps domain errors onto HTTP
 * status codes.
 *
 * @dependencies
 * - internal/app: the account ledger operations.
 * - internal/identity: session and password flows.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/bitnest/ledger-service/internal/app"
	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/bitnest/ledger-service/internal/feed"
	"github.com/bitnest/ledger-service/internal/identity"
	"github.com/bitnest/ledger-service/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Handlers holds the dependencies of the HTTP handlers.
type Handlers struct {
	service  *app.Service
	identity *identity.Provider
	feed     feed.Broker
}

// NewHandlers creates the handler set.
func NewHandlers(service *app.Service, provider *identity.Provider, broker feed.Broker) *Handlers {
	return &Handlers{service: service, identity: provider, feed: broker}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type passwordResetConfirmRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type startLoopRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Days   int             `json:"days"`
}

type withdrawRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Address  string          `json:"address"`
	Password string          `json:"password"`
}

type linkReferralRequest struct {
	ReferralCode string `json:"referralCode"`
}

type claimLoopResponse struct {
	Account *domain.Account   `json:"account"`
	Payout  domain.LoopPayout `json:"payout"`
}

type claimSavingsResponse struct {
	Account  *domain.Account `json:"account"`
	Interest decimal.Decimal `json:"interest"`
}

type withdrawResponse struct {
	Transaction *domain.Transaction `json:"transaction"`
	Account     *domain.Account     `json:"account"`
}

// SignUpHandler creates an account. The ref query parameter is the lowest
// priority referral source.
func (h *Handlers) SignUpHandler(w http.ResponseWriter, r *http.Request) {
	var req app.SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.QueryReferralCode == "" {
		req.QueryReferralCode = r.URL.Query().Get("ref")
	}

	result, err := h.service.SignUp(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) SignInHandler(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	session, err := h.identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if _, err := h.service.EnsureAccount(r.Context(), session.AccountID, session.Email); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

func (h *Handlers) SignOutHandler(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		h.writeError(w, http.StatusUnauthorized, "Authorization header required")
		return
	}
	if err := h.identity.SignOut(r.Context(), token); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendPasswordResetHandler always answers 202 so the endpoint cannot be used to
// probe which emails are registered.
func (h *Handlers) SendPasswordResetHandler(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.identity.SendPasswordReset(r.Context(), req.Email); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *Handlers) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req passwordResetConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.identity.ResetPassword(r.Context(), req.Token, req.Password, req.ConfirmPassword); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordClickHandler counts a referral link visit once per browser session.
func (h *Handlers) RecordClickHandler(w http.ResponseWriter, r *http.Request) {
	counted, err := h.service.RecordClick(r.Context(), chi.URLParam(r, "code"), r.Header.Get("X-Session-ID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"counted": counted})
}

func (h *Handlers) GetMeHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := GetAccountID(r.Context())
	account, err := h.service.GetAccount(r.Context(), accountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

func (h *Handlers) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := GetAccountID(r.Context())
	var req app.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	account, err := h.service.UpdateProfile(r.Context(), accountID, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

func (h *Handlers) ChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := GetAccountID(r.Context())
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.identity.ChangePassword(r.Context(), accountID, req.CurrentPassword, req.Password, req.ConfirmPassword); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) StartLoopHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := GetAccountID(r.Context())
	var req startLoopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	account, err := h.service.StartLoop(r.Context(), accountID, req.Amount, req.Days)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

func (h *Handlers) ClaimLoopHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := GetAccountID(r.Context())
	account, payout, err := h.service.ClaimLoop(r.Context(), accountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, claimLoopResponse{Account: account, Payout: payout})
}

func (h *Handlers) DepositSavingsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := GetAccountID(r.Context())
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	account, err := h.service.DepositSavings(r.Context(), accountID, req.Amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

func (h *Handlers) ClaimSavingsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := GetAccountID(r.Context())
	account, interest, err := h.service.ClaimSavingsInterest(r.Context(), accountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, claimSavingsResponse{Account: account, Interest: interest})
}

func (h *Handlers) WithdrawSavingsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := GetAccountID(r.Context())
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	account, err := h.service.WithdrawSavings(r.Context(), accountID, req.Amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

func (h *Handlers) RequestDepositHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := GetAccountID(r.Context())
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	tx, err := h.service.RequestDeposit(r.Context(), accountID, req.Amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

// RequestWithdrawHandler re-checks the caller's password before the balance is debited.
func (h *Handlers) RequestWithdrawHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := GetAccountID(r.Context())
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	tx, account, err := h.service.RequestWithdraw(r.Context(), accountID, req.Amount, req.Address, req.Password)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, withdrawResponse{Transaction: tx, Account: account})
}

func (h *Handlers) ListMyTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := GetAccountID(r.Context())
	txs, err := h.service.ListMyTransactions(r.Context(), accountID, queryLimit(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

func (h *Handlers) TeamHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := GetAccountID(r.Context())
	team, err := h.service.Team(r.Context(), accountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, team)
}

func (h *Handlers) LinkReferralHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := GetAccountID(r.Context())
	var req linkReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	account, err := h.service.LinkReferral(r.Context(), accountID, req.ReferralCode)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

func (h *Handlers) AdminListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, accounts)
}

func (h *Handlers) AdminActionHandler(w http.ResponseWriter, r *http.Request) {
	adminID, _ := GetAccountID(r.Context())
	var req app.AdminActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	account, err := h.service.AdminAct(r.Context(), adminID, chi.URLParam(r, "id"), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

func (h *Handlers) AdminListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	txs, err := h.service.ListTransactions(r.Context(), queryLimit(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

// AdminResolveTransactionHandler serves both /approve and /reject.
func (h *Handlers) AdminResolveTransactionHandler(w http.ResponseWriter, r *http.Request) {
	res, err := domain.ParseResolution(chi.URLParam(r, "resolution"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Not found")
		return
	}
	tx, err := h.service.ResolveTransaction(r.Context(), chi.URLParam(r, "id"), res)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

var (
	badRequestErrors = []error{
		domain.ErrInvalidAmount,
		domain.ErrAmountPrecision,
		domain.ErrBelowLoopMinimum,
		domain.ErrAboveLoopMaximum,
		domain.ErrInvalidLoopDuration,
		domain.ErrBelowSavingsMinimum,
		domain.ErrAboveSavingsMaximum,
		domain.ErrNoSavings,
		domain.ErrBelowDepositMinimum,
		domain.ErrBelowWithdrawMinimum,
		domain.ErrInvalidAddress,
		domain.ErrUnknownResolution,
		domain.ErrUnknownAdminAction,
		domain.ErrInvalidBalanceOverride,
		domain.ErrInvalidReferralCode,
		domain.ErrSelfReferral,
		identity.ErrInvalidEmail,
		identity.ErrPasswordTooShort,
		identity.ErrPasswordMismatch,
		app.ErrSessionRequired,
		app.ErrNicknameTooLong,
		app.ErrUsernameTooLong,
	}
	paymentRequiredErrors = []error{
		domain.ErrInsufficientBalance,
		domain.ErrInsufficientSavings,
		store.ErrInsufficientFunds,
	}
	unauthorizedErrors = []error{
		identity.ErrInvalidCredentials,
		identity.ErrInvalidToken,
		identity.ErrTokenRevoked,
	}
	forbiddenErrors = []error{
		domain.ErrAccountBlocked,
		app.ErrAdminRequired,
		app.ErrProtectedAccount,
	}
	notFoundErrors = []error{
		store.ErrAccountNotFound,
		store.ErrTransactionNotFound,
	}
	conflictErrors = []error{
		domain.ErrLoopAlreadyActive,
		domain.ErrLoopNotActive,
		domain.ErrLoopNotFinished,
		domain.ErrSavingsClaimTooSoon,
		domain.ErrAlreadyReferred,
		store.ErrEmailTaken,
		store.ErrTransactionFinalized,
		store.ErrVersionConflict,
		app.ErrConcurrentUpdate,
		app.ErrReferralCycle,
	}
)

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// statusFor maps an operation error onto an HTTP status; zero means unexpected.
func statusFor(err error) int {
	switch {
	case matchesAny(err, badRequestErrors):
		return http.StatusBadRequest
	case matchesAny(err, paymentRequiredErrors):
		return http.StatusPaymentRequired
	case matchesAny(err, unauthorizedErrors):
		return http.StatusUnauthorized
	case matchesAny(err, forbiddenErrors):
		return http.StatusForbidden
	case matchesAny(err, notFoundErrors):
		return http.StatusNotFound
	case matchesAny(err, conflictErrors):
		return http.StatusConflict
	case errors.Is(err, identity.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return 0
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var rateErr *identity.RateLimitError
	if errors.As(err, &rateErr) && rateErr.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
	}
	status := statusFor(err)
	if status == 0 {
		log.Printf("level=error component=api msg=\"request failed\" method=%s path=%s err=%v", r.Method, r.URL.Path, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeError(w, status, capitalize(err.Error()))
}

func capitalize(msg string) string {
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
