package resolver

import (
	"context"

	"github.com/qaaqit/identity-service/internal/identity"
)

// Resolver determines which internal user a normalized login belongs
// to. It is the ONLY place where identity-to-user mapping strategy is
// selected; provider adapters hand in facts and get back a user.
type Resolver interface {
	Resolve(ctx context.Context, login identity.Login) (*identity.User, error)
}
