// Package matcher ranks existing users that plausibly already
// represent the person behind a login that has no exact provider link.
package matcher

import (
	"context"

	"github.com/qaaqit/identity-service/internal/identity"
)

// Signal is one matching heuristic, in ranking order. Email outranks
// phone by default: a mailbox anchors one person, while phone numbers
// get shared and recycled on shipboard devices.
type Signal string

const (
	SignalEmail Signal = "email"
	SignalPhone Signal = "phone"
)

// DefaultSignals is the standard ranking policy.
var DefaultSignals = []Signal{SignalEmail, SignalPhone}

// Lookup is the slice of the identity store the matcher needs.
type Lookup interface {
	FindUserByEmail(ctx context.Context, email string) (*identity.User, error)
	FindUserByPhone(ctx context.Context, phone string) (*identity.User, error)
}

// Matcher queries the store signal by signal. The ranking order is
// policy, not an invariant; construct with a different signal list to
// change it.
type Matcher struct {
	store   Lookup
	signals []Signal
}

func New(store Lookup, signals ...Signal) *Matcher {
	if len(signals) == 0 {
		signals = DefaultSignals
	}
	return &Matcher{store: store, signals: signals}
}

// FindCandidates returns users matching the login's attributes,
// strongest signal first, deduplicated when one user matches on both.
// An empty result is a normal outcome, not an error.
func (m *Matcher) FindCandidates(
	ctx context.Context,
	attrs identity.Attributes,
) ([]identity.User, error) {

	var (
		candidates []identity.User
		seen       = make(map[string]bool)
	)

	for _, signal := range m.signals {
		var (
			u   *identity.User
			err error
		)
		switch signal {
		case SignalEmail:
			u, err = m.store.FindUserByEmail(ctx, attrs.Email)
		case SignalPhone:
			u, err = m.store.FindUserByPhone(ctx, attrs.Phone)
		}
		if err != nil {
			return nil, err
		}
		if u == nil || seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		candidates = append(candidates, *u)
	}

	return candidates, nil
}
