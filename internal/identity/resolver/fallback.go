package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/qaaqit/identity-service/internal/identity"
	"github.com/qaaqit/identity-service/internal/identity/consolidate"
	"github.com/qaaqit/identity-service/internal/identity/store"
)

// Fallback creates a minimal valid user + identity pair with no
// deduplication at all. It exists so a login is never refused by a
// consolidation bug: the duplicate it may create is exactly what the
// merge executor reconciles later.
type Fallback struct {
	store store.Store
}

var _ Resolver = (*Fallback)(nil)

func NewFallback(store store.Store) *Fallback {
	return &Fallback{store: store}
}

func (r *Fallback) Resolve(ctx context.Context, login identity.Login) (*identity.User, error) {
	login.Attributes.DisplayName = consolidate.FallbackDisplayName(login)

	user, err := r.store.CreateUser(ctx, login)
	if errors.Is(err, identity.ErrDuplicateIdentity) {
		// The link exists after all, someone won a race. That user is
		// the answer.
		link, lookupErr := r.store.FindIdentity(ctx, login.Provider, login.ProviderID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if link == nil {
			return nil, err
		}
		return r.store.GetUser(ctx, link.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("fallback create: %w", err)
	}
	return user, nil
}
