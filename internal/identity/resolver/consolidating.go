package resolver

import (
	"context"

	"github.com/qaaqit/identity-service/internal/identity"
	"github.com/qaaqit/identity-service/internal/identity/consolidate"
)

// Consolidating is the canonical resolver: every login flows through
// the consolidation engine's link-or-create decision.
type Consolidating struct {
	engine *consolidate.Engine
}

var _ Resolver = (*Consolidating)(nil)

func NewConsolidating(engine *consolidate.Engine) *Consolidating {
	return &Consolidating{engine: engine}
}

func (r *Consolidating) Resolve(ctx context.Context, login identity.Login) (*identity.User, error) {
	return r.engine.ConsolidateOnLogin(ctx, login)
}
