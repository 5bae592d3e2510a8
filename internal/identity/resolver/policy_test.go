package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaaqit/identity-service/internal/identity"
)

type resolverFunc func(ctx context.Context, login identity.Login) (*identity.User, error)

func (f resolverFunc) Resolve(ctx context.Context, login identity.Login) (*identity.User, error) {
	return f(ctx, login)
}

func TestPolicy_PrimarySuccessSkipsFallback(t *testing.T) {
	want := &identity.User{ID: "user-1"}
	fallbackCalled := false

	policy := NewPolicy(
		resolverFunc(func(context.Context, identity.Login) (*identity.User, error) {
			return want, nil
		}),
		resolverFunc(func(context.Context, identity.Login) (*identity.User, error) {
			fallbackCalled = true
			return nil, errors.New("should not run")
		}),
	)

	user, err := policy.Resolve(context.Background(), identity.Login{})
	require.NoError(t, err)
	assert.Equal(t, want, user)
	assert.False(t, fallbackCalled)
}

func TestPolicy_PrimaryFailureDegradesToFallback(t *testing.T) {
	want := &identity.User{ID: "user-degraded"}

	policy := NewPolicy(
		resolverFunc(func(context.Context, identity.Login) (*identity.User, error) {
			return nil, errors.New("engine bug")
		}),
		resolverFunc(func(context.Context, identity.Login) (*identity.User, error) {
			return want, nil
		}),
	)

	user, err := policy.Resolve(context.Background(), identity.Login{
		Provider:   identity.ProviderGoogle,
		ProviderID: "g-1",
	})
	require.NoError(t, err, "an engine bug must never lock a user out")
	assert.Equal(t, want, user)
}

func TestPolicy_BothFailSurfacesConsolidationFailed(t *testing.T) {
	policy := NewPolicy(
		resolverFunc(func(context.Context, identity.Login) (*identity.User, error) {
			return nil, errors.New("engine bug")
		}),
		resolverFunc(func(context.Context, identity.Login) (*identity.User, error) {
			return nil, errors.New("db down")
		}),
	)

	_, err := policy.Resolve(context.Background(), identity.Login{})
	assert.ErrorIs(t, err, identity.ErrConsolidationFailed)
}

func TestPolicy_CancelledContextDoesNotFallBack(t *testing.T) {
	fallbackCalled := false

	policy := NewPolicy(
		resolverFunc(func(ctx context.Context, _ identity.Login) (*identity.User, error) {
			return nil, ctx.Err()
		}),
		resolverFunc(func(context.Context, identity.Login) (*identity.User, error) {
			fallbackCalled = true
			return &identity.User{ID: "user-x"}, nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := policy.Resolve(ctx, identity.Login{})
	require.Error(t, err, "a timed-out login fails, it does not mint a user")
	assert.False(t, fallbackCalled)
}
