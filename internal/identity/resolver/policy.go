package resolver

import (
	"context"
	"fmt"

	"github.com/qaaqit/identity-service/internal/identity"
	"github.com/qaaqit/identity-service/internal/logger"
)

// Policy chains the canonical resolver with the degraded-mode
// fallback. The hot path favors availability: a user locked out by an
// engine bug is worse than a duplicate row the merge executor can
// clean up. Cancelled requests are the exception: a timeout should
// fail the login, not mint a half-resolved user.
type Policy struct {
	Primary  Resolver
	Fallback Resolver
}

var _ Resolver = (*Policy)(nil)

func NewPolicy(primary, fallback Resolver) *Policy {
	return &Policy{Primary: primary, Fallback: fallback}
}

func (p *Policy) Resolve(ctx context.Context, login identity.Login) (*identity.User, error) {
	user, err := p.Primary.Resolve(ctx, login)
	if err == nil {
		return user, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	logger.Warn("degraded login: consolidation failed, using fallback resolver", map[string]any{
		"provider":    login.Provider,
		"provider_id": login.ProviderID,
		"error":       err.Error(),
	})

	user, fbErr := p.Fallback.Resolve(ctx, login)
	if fbErr != nil {
		return nil, fmt.Errorf("%w: primary: %v; fallback: %v",
			identity.ErrConsolidationFailed, err, fbErr)
	}
	return user, nil
}
