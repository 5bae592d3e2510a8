// Package consolidate decides, on every login, whether an incoming
// (provider, providerID) pair belongs to an existing user, links it if
// so, and creates a new user if not. This is the synchronous per-login
// hot path; the batch cleanup of historical duplicates lives in the
// merge package.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/qaaqit/identity-service/internal/identity"
	"github.com/qaaqit/identity-service/internal/identity/store"
	"github.com/qaaqit/identity-service/internal/logger"
)

// maxAttempts bounds the duplicate-identity retry loop: the initial
// pass plus one re-resolve per lost race. Losing twice in a row means
// the winning link vanished between statements, which an operator
// should look at rather than the engine spinning.
const maxAttempts = 3

// Matcher finds users that plausibly already represent the person
// logging in, ranked by signal strength.
type Matcher interface {
	FindCandidates(ctx context.Context, attrs identity.Attributes) ([]identity.User, error)
}

// Engine orchestrates one login event against the identity store. It
// holds no state of its own; both collaborators are injected so tests
// run against in-memory doubles.
type Engine struct {
	store   store.Store
	matcher Matcher
}

func NewEngine(store store.Store, matcher Matcher) *Engine {
	return &Engine{store: store, matcher: matcher}
}

// ConsolidateOnLogin resolves a normalized login to exactly one user:
//
//  1. Exact (provider, providerID) link, the cheap common case after
//     first login. Profile attributes are refreshed best-effort.
//  2. No link: ask the matcher. Link to the top-ranked candidate and
//     backfill any attributes it was missing.
//  3. No candidates: create a new user plus its primary identity in
//     one transaction.
//
// A duplicate-identity error at any step means a concurrent login
// raced ahead and created the link this call wanted, so the engine
// retries from the exact lookup instead of failing. Every other store
// error wraps identity.ErrConsolidationFailed.
func (e *Engine) ConsolidateOnLogin(
	ctx context.Context,
	login identity.Login,
) (*identity.User, error) {

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		user, err := e.resolveOnce(ctx, login)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, identity.ErrDuplicateIdentity) {
			return nil, fmt.Errorf("%w: %s/%s: %w",
				identity.ErrConsolidationFailed, login.Provider, login.ProviderID, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s/%s: retries exhausted: %w",
		identity.ErrConsolidationFailed, login.Provider, login.ProviderID, lastErr)
}

func (e *Engine) resolveOnce(ctx context.Context, login identity.Login) (*identity.User, error) {
	// 1. Exact provider link
	link, err := e.store.FindIdentity(ctx, login.Provider, login.ProviderID)
	if err != nil {
		return nil, err
	}
	if link != nil {
		// Best-effort refresh: the user may have a new avatar or a
		// newly supplied email. Never blocks the login.
		if err := e.store.EnrichUser(ctx, link.UserID, login.Attributes); err != nil {
			logger.Warn("profile refresh failed", map[string]any{
				"user_id": link.UserID,
				"error":   err.Error(),
			})
		}
		return e.requireUser(ctx, link.UserID)
	}

	// 2. Fuzzy match against existing users
	candidates, err := e.matcher.FindCandidates(ctx, login.Attributes)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		if len(candidates) > 1 {
			// First-wins by the matcher's ranking. Logged for audit:
			// an imperfect link is recoverable by a later merge,
			// refusing the login is not.
			logger.Warn("ambiguous identity match", map[string]any{
				"provider":   login.Provider,
				"chosen":     candidates[0].ID,
				"candidates": candidateIDs(candidates),
			})
		}
		target := candidates[0]
		if err := e.store.LinkIdentity(ctx, target.ID, login, false); err != nil {
			return nil, err
		}
		if err := e.store.EnrichUser(ctx, target.ID, login.Attributes); err != nil {
			logger.Warn("attribute backfill failed", map[string]any{
				"user_id": target.ID,
				"error":   err.Error(),
			})
		}
		return e.requireUser(ctx, target.ID)
	}

	// 3. Nobody matches: new human
	login.Attributes.DisplayName = FallbackDisplayName(login)
	return e.store.CreateUser(ctx, login)
}

func (e *Engine) requireUser(ctx context.Context, userID string) (*identity.User, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("identity points at missing user %s", userID)
	}
	return user, nil
}

func candidateIDs(users []identity.User) []string {
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}

// FallbackDisplayName guarantees a deterministic, never-empty display
// name for users created from sparse provider payloads.
func FallbackDisplayName(login identity.Login) string {
	a := login.Attributes
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.Email != "" {
		if at := strings.Index(a.Email, "@"); at > 0 {
			return a.Email[:at]
		}
		return a.Email
	}
	if a.Phone != "" {
		return a.Phone
	}
	return login.Provider + ":" + login.ProviderID
}
