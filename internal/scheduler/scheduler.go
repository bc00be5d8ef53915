// Package scheduler implements the account-selection external collaborator
// described by the bridge core's Scheduler interface (spec §6). The core
// never talks to a concrete scheduler; it only ever depends on the
// Scheduler interface, so a real deployment can swap RoundRobin for a
// client backed by an actual account-management service without touching
// internal/bridge.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Account is one upstream credential the scheduler can hand out.
type Account struct {
	ID     string
	Type   string // "api_key" | "oauth"
	Token  string
	Proxy  string
	Domain string
}

// Selection is the scheduler's answer to SelectAccount.
type Selection struct {
	AccountID   string
	AccountType string
	Account     Account
	Token       string
	Proxy       string
}

// ErrNoAccounts is returned when the scheduler has nothing to hand out.
var ErrNoAccounts = errors.New("scheduler: no accounts configured")

// ErrAllRateLimited is returned when every configured account is currently
// cooling down or marked unauthorized.
var ErrAllRateLimited = errors.New("scheduler: all accounts are rate limited")

// Scheduler is the interface the bridge core consults for account
// selection and rate-limit/auth bookkeeping (spec §6). Failures bubble to
// the orchestration layer as 5xx-class errors.
type Scheduler interface {
	SelectAccount(ctx context.Context, apiKeyMetadata, sessionHash, requestedModel string) (Selection, error)
	MarkRateLimited(accountID, accountType, sessionHash string, resetsAfter *int)
	MarkUnauthorized(accountID, accountType, sessionHash, reason string)
	IsRateLimited(accountID string) bool
	ClearRateLimit(accountID, accountType string)
}

type accountState struct {
	limiter      *rate.Limiter
	unauthorized bool
	reason       string
}

// RoundRobin is the default in-process Scheduler: it round-robins over a
// fixed account list and tracks per-account cooldowns with a
// golang.org/x/time/rate.Limiter per account (reconfigured to drain a
// single token for the cooldown duration on each rate-limit hit) instead of
// a hand-rolled timestamp comparison. It exists so the bridge runs
// standalone without a real account-management service wired in;
// production deployments are expected to supply their own Scheduler.
type RoundRobin struct {
	mu       sync.Mutex
	accounts []Account
	next     int
	state    map[string]*accountState
}

// NewRoundRobin builds a scheduler over accounts. If an account has no ID,
// one is minted with google/uuid.
func NewRoundRobin(accounts []Account) *RoundRobin {
	state := make(map[string]*accountState, len(accounts))

	for i := range accounts {
		if accounts[i].ID == "" {
			accounts[i].ID = uuid.NewString()
		}

		state[accounts[i].ID] = &accountState{limiter: rate.NewLimiter(rate.Inf, 1)}
	}

	return &RoundRobin{accounts: accounts, state: state}
}

// SelectAccount returns the next non-rate-limited, non-unauthorized account
// in round-robin order. apiKeyMetadata, sessionHash, and requestedModel are
// accepted for interface compliance; this default implementation doesn't
// do per-key or per-model routing.
func (r *RoundRobin) SelectAccount(_ context.Context, _, _, _ string) (Selection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.accounts) == 0 {
		return Selection{}, ErrNoAccounts
	}

	now := time.Now()

	for i := 0; i < len(r.accounts); i++ {
		idx := (r.next + i) % len(r.accounts)
		acct := r.accounts[idx]
		st := r.state[acct.ID]

		if st.unauthorized {
			continue
		}

		if st.limiter.TokensAt(now) < 1 {
			continue
		}

		r.next = (idx + 1) % len(r.accounts)

		return Selection{
			AccountID:   acct.ID,
			AccountType: acct.Type,
			Account:     acct,
			Token:       acct.Token,
			Proxy:       acct.Proxy,
		}, nil
	}

	return Selection{}, ErrAllRateLimited
}

// MarkRateLimited starts (or extends) a cooldown window for accountID. When
// resetsAfter is nil a conservative default cooldown is used. The cooldown
// is enforced by reconfiguring the account's limiter to refill a single
// token once every wait period and immediately draining that token, so
// TokensAt stays below 1 until wait has elapsed.
func (r *RoundRobin) MarkRateLimited(accountID, _, _ string, resetsAfter *int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.state[accountID]
	if !ok {
		return
	}

	wait := 30 * time.Second
	if resetsAfter != nil && *resetsAfter > 0 {
		wait = time.Duration(*resetsAfter) * time.Second
	}

	now := time.Now()

	st.limiter.SetLimitAt(now, rate.Every(wait))
	st.limiter.SetBurstAt(now, 1)
	st.limiter.ReserveN(now, 1)
}

// MarkUnauthorized permanently removes accountID from rotation until
// ClearRateLimit is called (operators are expected to fix the credential and
// clear state, mirroring how a real account service would require manual
// re-enable after a 401).
func (r *RoundRobin) MarkUnauthorized(accountID, _, _, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.state[accountID]; ok {
		st.unauthorized = true
		st.reason = reason
	}
}

// IsRateLimited reports whether accountID is currently cooling down.
func (r *RoundRobin) IsRateLimited(accountID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.state[accountID]
	if !ok {
		return false
	}

	return st.limiter.TokensAt(time.Now()) < 1
}

// ClearRateLimit resets both the cooldown and the unauthorized flag for
// accountID, restoring the limiter to its unlimited starting state.
func (r *RoundRobin) ClearRateLimit(accountID, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.state[accountID]; ok {
		now := time.Now()
		st.limiter.SetLimitAt(now, rate.Inf)
		st.limiter.SetBurstAt(now, 1)
		st.unauthorized = false
		st.reason = ""
	}
}
