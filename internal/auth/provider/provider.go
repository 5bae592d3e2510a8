package provider

import (
	"context"

	"github.com/qaaqit/identity-service/internal/identity"
)

// OAuthProvider is the contract every browser-redirect login door
// implements. Adapters normalize their provider's payload into the
// identity.Login tuple and must not create users, link identities, or
// touch sessions; those decisions belong to the resolver.
type OAuthProvider interface {
	// Name returns the provider identifier (e.g. "google", "qaaqid").
	Name() string

	// AuthCodeURL returns the OAuth authorization URL. State and PKCE
	// parameters are supplied by the caller.
	AuthCodeURL(state string, codeChallenge string) string

	// ExchangeCode exchanges the authorization code for provider
	// credentials and returns the normalized login tuple.
	ExchangeCode(
		ctx context.Context,
		code string,
		codeVerifier string,
	) (*identity.Login, error)
}
