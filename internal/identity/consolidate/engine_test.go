package consolidate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaaqit/identity-service/internal/identity"
	"github.com/qaaqit/identity-service/internal/identity/matcher"
)

// fakeStore is an in-memory identity store with the same semantics the
// real one gets from Postgres: a unique (provider, providerID) pair
// guarded under a mutex, and user+identity creation as one atomic
// step. Using a fake rather than a mock framework keeps the tests
// readable: what the fake does is exactly what you see.
type fakeStore struct {
	mu         sync.Mutex
	users      map[string]*identity.User
	identities map[string]*identity.Identity // keyed by provider "/" providerID
	nextID     int
	clock      time.Time

	// race simulation: when set, the next LinkIdentity/CreateUser call
	// behaves as if a concurrent login had just claimed the pair.
	loseLinkRaceOnce   bool
	loseCreateRaceOnce bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      make(map[string]*identity.User),
		identities: make(map[string]*identity.Identity),
		clock:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func identityKey(provider, providerID string) string {
	return provider + "/" + providerID
}

// addUser seeds a user directly, bypassing consolidation.
func (f *fakeStore) addUser(email, phone string) *identity.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addUserLocked(email, phone)
}

func (f *fakeStore) addUserLocked(email, phone string) *identity.User {
	f.nextID++
	f.clock = f.clock.Add(time.Minute)
	u := &identity.User{
		ID:          fmt.Sprintf("user-%d", f.nextID),
		DisplayName: fmt.Sprintf("seeded-%d", f.nextID),
		Email:       email,
		Phone:       phone,
		CreatedAt:   f.clock,
		UpdatedAt:   f.clock,
	}
	f.users[u.ID] = u
	return u
}

// addIdentity seeds a provider link directly.
func (f *fakeStore) addIdentity(userID, provider, providerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identities[identityKey(provider, providerID)] = &identity.Identity{
		ID:         identityKey(provider, providerID),
		UserID:     userID,
		Provider:   provider,
		ProviderID: providerID,
	}
}

func (f *fakeStore) FindIdentity(_ context.Context, provider, providerID string) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident, ok := f.identities[identityKey(provider, providerID)]
	if !ok {
		return nil, nil
	}
	copied := *ident
	return &copied, nil
}

func (f *fakeStore) FindUserByEmail(_ context.Context, email string) (*identity.User, error) {
	if email == "" {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.earliestMatch(func(u *identity.User) bool {
		return strings.EqualFold(u.Email, email)
	}), nil
}

func (f *fakeStore) FindUserByPhone(_ context.Context, phone string) (*identity.User, error) {
	if phone == "" {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.earliestMatch(func(u *identity.User) bool {
		return u.Phone == phone
	}), nil
}

// earliestMatch mirrors the store contract: deterministic single
// result, earliest created_at with id tie-break.
func (f *fakeStore) earliestMatch(match func(*identity.User) bool) *identity.User {
	var best *identity.User
	for _, u := range f.users {
		if !match(u) {
			continue
		}
		if best == nil ||
			u.CreatedAt.Before(best.CreatedAt) ||
			(u.CreatedAt.Equal(best.CreatedAt) && u.ID < best.ID) {
			best = u
		}
	}
	if best == nil {
		return nil
	}
	copied := *best
	return &copied
}

func (f *fakeStore) GetUser(_ context.Context, id string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (f *fakeStore) LinkIdentity(_ context.Context, userID string, login identity.Login, primary bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := identityKey(login.Provider, login.ProviderID)

	if f.loseLinkRaceOnce {
		f.loseLinkRaceOnce = false
		raced := f.addUserLocked(login.Attributes.Email, login.Attributes.Phone)
		f.identities[key] = &identity.Identity{
			ID: key, UserID: raced.ID,
			Provider: login.Provider, ProviderID: login.ProviderID,
		}
		return identity.ErrDuplicateIdentity
	}

	if _, exists := f.identities[key]; exists {
		return identity.ErrDuplicateIdentity
	}
	f.identities[key] = &identity.Identity{
		ID: key, UserID: userID,
		Provider: login.Provider, ProviderID: login.ProviderID,
		IsPrimary: primary, IsVerified: login.Attributes.Verified,
	}
	return nil
}

func (f *fakeStore) CreateUser(_ context.Context, login identity.Login) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := identityKey(login.Provider, login.ProviderID)

	if f.loseCreateRaceOnce {
		f.loseCreateRaceOnce = false
		raced := f.addUserLocked(login.Attributes.Email, login.Attributes.Phone)
		f.identities[key] = &identity.Identity{
			ID: key, UserID: raced.ID,
			Provider: login.Provider, ProviderID: login.ProviderID,
		}
		return nil, identity.ErrDuplicateIdentity
	}

	// atomic user+identity: the identity check happens before any user
	// row appears, so a lost race leaves no orphaned user
	if _, exists := f.identities[key]; exists {
		return nil, identity.ErrDuplicateIdentity
	}

	f.nextID++
	f.clock = f.clock.Add(time.Minute)
	a := login.Attributes
	u := &identity.User{
		ID:              fmt.Sprintf("user-%d", f.nextID),
		DisplayName:     a.DisplayName,
		Email:           a.Email,
		Phone:           a.Phone,
		ProfileImageURL: a.ProfileImageURL,
		Classification:  a.Classification,
		CreatedAt:       f.clock,
		UpdatedAt:       f.clock,
	}
	f.users[u.ID] = u
	f.identities[key] = &identity.Identity{
		ID: key, UserID: u.ID,
		Provider: login.Provider, ProviderID: login.ProviderID,
		IsPrimary: true, IsVerified: a.Verified,
	}
	copied := *u
	return &copied, nil
}

func (f *fakeStore) EnrichUser(_ context.Context, userID string, attrs identity.Attributes) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return fmt.Errorf("no such user %s", userID)
	}
	if u.Email == "" {
		u.Email = attrs.Email
	}
	if u.Phone == "" {
		u.Phone = attrs.Phone
	}
	if u.DisplayName == "" {
		u.DisplayName = attrs.DisplayName
	}
	if u.ProfileImageURL == "" {
		u.ProfileImageURL = attrs.ProfileImageURL
	}
	return nil
}

func (f *fakeStore) userCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

func newEngine(store *fakeStore) *Engine {
	return NewEngine(store, matcher.New(store))
}

// =========================================================================
// TESTS
// =========================================================================

func TestConsolidate_ExactLinkShortCircuits(t *testing.T) {
	store := newFakeStore()
	seeded := store.addUser("cap@ship.com", "")
	store.addIdentity(seeded.ID, identity.ProviderGoogle, "g-1")

	user, err := newEngine(store).ConsolidateOnLogin(context.Background(), identity.Login{
		Provider:   identity.ProviderGoogle,
		ProviderID: "g-1",
		Attributes: identity.Attributes{Email: "cap@ship.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, user.ID)
	assert.Equal(t, 1, store.userCount())
}

func TestConsolidate_LinksNewProviderToMatchedUser(t *testing.T) {
	// A google user logs in via whatsapp for the first time; the email
	// attribute must link the phone to the same human, not mint a new
	// one.
	store := newFakeStore()
	seeded := store.addUser("cap@ship.com", "")
	store.addIdentity(seeded.ID, identity.ProviderGoogle, "g-1")

	user, err := newEngine(store).ConsolidateOnLogin(context.Background(), identity.Login{
		Provider:   identity.ProviderWhatsApp,
		ProviderID: "+911234567890",
		Attributes: identity.Attributes{
			Email:    "cap@ship.com",
			Phone:    "+911234567890",
			Verified: true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, user.ID)
	assert.Equal(t, 1, store.userCount())

	link, err := store.FindIdentity(context.Background(), identity.ProviderWhatsApp, "+911234567890")
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, seeded.ID, link.UserID)

	// the phone the user was missing is backfilled
	assert.Equal(t, "+911234567890", user.Phone)
}

func TestConsolidate_CreatesUserWhenNothingMatches(t *testing.T) {
	store := newFakeStore()

	user, err := newEngine(store).ConsolidateOnLogin(context.Background(), identity.Login{
		Provider:   identity.ProviderGoogle,
		ProviderID: "g-9",
		Attributes: identity.Attributes{
			Email:    "chief@engine.org",
			Verified: true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.userCount())
	// no display name supplied: deterministic fallback from the email
	assert.Equal(t, "chief", user.DisplayName)

	link, err := store.FindIdentity(context.Background(), identity.ProviderGoogle, "g-9")
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.True(t, link.IsPrimary)
	assert.True(t, link.IsVerified)
}

func TestConsolidate_Idempotent(t *testing.T) {
	store := newFakeStore()
	engine := newEngine(store)
	login := identity.Login{
		Provider:   identity.ProviderQaaqID,
		ProviderID: "sub-42",
		Attributes: identity.Attributes{Email: "bosun@deck.net", Verified: true},
	}

	first, err := engine.ConsolidateOnLogin(context.Background(), login)
	require.NoError(t, err)
	second, err := engine.ConsolidateOnLogin(context.Background(), login)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.userCount())
}

func TestConsolidate_AttributeMergeIsAdditiveOnly(t *testing.T) {
	store := newFakeStore()
	seeded := store.addUser("a@b.com", "")
	store.addIdentity(seeded.ID, identity.ProviderGoogle, "g-1")

	user, err := newEngine(store).ConsolidateOnLogin(context.Background(), identity.Login{
		Provider:   identity.ProviderGoogle,
		ProviderID: "g-1",
		Attributes: identity.Attributes{
			Email: "c@d.com", // must NOT replace a@b.com
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", user.Email)
}

func TestConsolidate_BackfillsMissingEmail(t *testing.T) {
	store := newFakeStore()
	seeded := store.addUser("", "+1555")
	store.addIdentity(seeded.ID, identity.ProviderWhatsApp, "+1555")

	user, err := newEngine(store).ConsolidateOnLogin(context.Background(), identity.Login{
		Provider:   identity.ProviderWhatsApp,
		ProviderID: "+1555",
		Attributes: identity.Attributes{Email: "x@y.com", Phone: "+1555"},
	})
	require.NoError(t, err)
	assert.Equal(t, "x@y.com", user.Email)
}

func TestConsolidate_AmbiguousMatchPicksTopRanked(t *testing.T) {
	// One user matches by email, a different one by phone. Email is
	// the stronger signal; first-wins, logged, never an error.
	store := newFakeStore()
	byEmail := store.addUser("shared@crew.com", "")
	byPhone := store.addUser("", "+1555")

	user, err := newEngine(store).ConsolidateOnLogin(context.Background(), identity.Login{
		Provider:   identity.ProviderLegacy,
		ProviderID: "shared@crew.com",
		Attributes: identity.Attributes{
			Email: "shared@crew.com",
			Phone: "+1555",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, byEmail.ID, user.ID)
	assert.Equal(t, 2, store.userCount(), "no merge on the hot path: both users remain")

	link, err := store.FindIdentity(context.Background(), identity.ProviderLegacy, "shared@crew.com")
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, byEmail.ID, link.UserID)
	_ = byPhone
}

func TestConsolidate_RetriesLostLinkRace(t *testing.T) {
	store := newFakeStore()
	store.addUser("race@crew.com", "")
	store.loseLinkRaceOnce = true

	user, err := newEngine(store).ConsolidateOnLogin(context.Background(), identity.Login{
		Provider:   identity.ProviderGoogle,
		ProviderID: "g-race",
		Attributes: identity.Attributes{Email: "race@crew.com"},
	})
	require.NoError(t, err, "a lost race must re-resolve, not fail the login")

	link, lerr := store.FindIdentity(context.Background(), identity.ProviderGoogle, "g-race")
	require.NoError(t, lerr)
	require.NotNil(t, link)
	assert.Equal(t, link.UserID, user.ID, "must return whoever won the race")
}

func TestConsolidate_RetriesLostCreateRace(t *testing.T) {
	store := newFakeStore()
	store.loseCreateRaceOnce = true

	user, err := newEngine(store).ConsolidateOnLogin(context.Background(), identity.Login{
		Provider:   identity.ProviderQaaqID,
		ProviderID: "sub-7",
		Attributes: identity.Attributes{Email: "second@boat.com"},
	})
	require.NoError(t, err)

	link, lerr := store.FindIdentity(context.Background(), identity.ProviderQaaqID, "sub-7")
	require.NoError(t, lerr)
	require.NotNil(t, link)
	assert.Equal(t, link.UserID, user.ID)
}

func TestConsolidate_ConcurrentSameIdentityYieldsOneUser(t *testing.T) {
	const attempts = 32

	store := newFakeStore()
	engine := newEngine(store)
	login := identity.Login{
		Provider:   identity.ProviderWhatsApp,
		ProviderID: "+911111111111",
		Attributes: identity.Attributes{Phone: "+911111111111", Verified: true},
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]bool)
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, err := engine.ConsolidateOnLogin(context.Background(), login)
			if err != nil {
				t.Errorf("concurrent consolidate failed: %v", err)
				return
			}
			mu.Lock()
			ids[user.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1, "all concurrent logins must resolve to the same user")
	assert.Equal(t, 1, store.userCount())
}

func TestFallbackDisplayName(t *testing.T) {
	tests := []struct {
		name  string
		login identity.Login
		want  string
	}{
		{
			name: "display name passes through",
			login: identity.Login{Attributes: identity.Attributes{
				DisplayName: "Capt. Nemo", Email: "nemo@nautilus.org",
			}},
			want: "Capt. Nemo",
		},
		{
			name: "email local part",
			login: identity.Login{Attributes: identity.Attributes{
				Email: "nemo@nautilus.org",
			}},
			want: "nemo",
		},
		{
			name: "phone when no email",
			login: identity.Login{Attributes: identity.Attributes{
				Phone: "+911234567890",
			}},
			want: "+911234567890",
		},
		{
			name: "provider-scoped id as last resort",
			login: identity.Login{
				Provider:   identity.ProviderGoogle,
				ProviderID: "g-1",
			},
			want: "google:g-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FallbackDisplayName(tt.login)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, got)
		})
	}
}
