package store

import (
	"context"

	"github.com/qaaqit/identity-service/internal/identity"
)

// Store is the persistence contract the consolidation engine runs
// against. Pure data access; every decision about linking, matching
// and merging lives above this interface.
//
// Lookup methods return (nil, nil) when nothing matches: absence is a
// normal outcome on the hot path, not an error.
type Store interface {
	// FindIdentity is the exact (provider, provider_user_id) lookup,
	// the only operation allowed to short-circuit consolidation.
	FindIdentity(ctx context.Context, provider, providerID string) (*identity.Identity, error)

	// FindUserByEmail and FindUserByPhone return a single deterministic
	// result even if historical duplicates exist (earliest created_at,
	// lowest id tie-break), so repeated calls are idempotent.
	FindUserByEmail(ctx context.Context, email string) (*identity.User, error)
	FindUserByPhone(ctx context.Context, phone string) (*identity.User, error)

	GetUser(ctx context.Context, id string) (*identity.User, error)

	// LinkIdentity appends a provider link to an existing user. Returns
	// identity.ErrDuplicateIdentity if the pair already exists, the
	// race guard consolidation retries on.
	LinkIdentity(ctx context.Context, userID string, login identity.Login, primary bool) error

	// CreateUser inserts the user and its initial primary identity in
	// one transaction. A user must never exist without an identity.
	CreateUser(ctx context.Context, login identity.Login) (*identity.User, error)

	// EnrichUser backfills attributes the user is missing. Additive
	// only: a non-empty stored attribute is never overwritten.
	EnrichUser(ctx context.Context, userID string, attrs identity.Attributes) error
}
