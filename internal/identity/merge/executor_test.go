package merge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaaqit/identity-service/internal/identity"
)

// fakeMergeStore is an in-memory store with users, provider links and
// one owned-record table (posts). MergeGroup mirrors the real store's
// transactional behavior: an injected failure leaves the group
// untouched.
type fakeMergeStore struct {
	users map[string]identity.User
	links []link
	posts map[string]string // postID -> owning userID

	failPrimary map[string]bool // groups whose primary is listed roll back
}

type link struct {
	provider   string
	providerID string
	userID     string
}

func newFakeMergeStore() *fakeMergeStore {
	return &fakeMergeStore{
		users:       make(map[string]identity.User),
		posts:       make(map[string]string),
		failPrimary: make(map[string]bool),
	}
}

func (f *fakeMergeStore) addUser(id, email, phone string, created time.Time) {
	f.users[id] = identity.User{
		ID: id, DisplayName: id,
		Email: email, Phone: phone,
		CreatedAt: created, UpdatedAt: created,
	}
}

func (f *fakeMergeStore) addLink(userID, provider, providerID string) {
	f.links = append(f.links, link{provider: provider, providerID: providerID, userID: userID})
}

func (f *fakeMergeStore) addPost(postID, userID string) {
	f.posts[postID] = userID
}

func (f *fakeMergeStore) groupBy(key func(identity.User) string) []identity.DuplicateGroup {
	byKey := make(map[string][]identity.User)
	for _, u := range f.users {
		k := key(u)
		if k == "" {
			continue
		}
		byKey[k] = append(byKey[k], u)
	}

	var groups []identity.DuplicateGroup
	for k, users := range byKey {
		if len(users) < 2 {
			continue
		}
		sort.Slice(users, func(i, j int) bool {
			if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
				return users[i].CreatedAt.Before(users[j].CreatedAt)
			}
			return users[i].ID < users[j].ID
		})
		groups = append(groups, identity.DuplicateGroup{Key: k, Users: users})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups
}

func (f *fakeMergeStore) DuplicateEmailGroups(context.Context) ([]identity.DuplicateGroup, error) {
	return f.groupBy(func(u identity.User) string { return strings.ToLower(u.Email) }), nil
}

func (f *fakeMergeStore) DuplicatePhoneGroups(context.Context) ([]identity.DuplicateGroup, error) {
	return f.groupBy(func(u identity.User) string { return u.Phone }), nil
}

func (f *fakeMergeStore) MergeGroup(_ context.Context, primaryID string, duplicateIDs []string) (int, error) {
	if f.failPrimary[primaryID] {
		return 0, fmt.Errorf("injected failure for group of %s", primaryID)
	}

	primaryLinks := make(map[string]bool)
	for _, l := range f.links {
		if l.userID == primaryID {
			primaryLinks[l.provider+"/"+l.providerID] = true
		}
	}

	dropped := 0
	for _, dupID := range duplicateIDs {
		// move links, dropping copies the primary already holds
		kept := f.links[:0]
		for _, l := range f.links {
			if l.userID == dupID {
				if primaryLinks[l.provider+"/"+l.providerID] {
					dropped++
					continue
				}
				l.userID = primaryID
				primaryLinks[l.provider+"/"+l.providerID] = true
			}
			kept = append(kept, l)
		}
		f.links = kept

		for postID, owner := range f.posts {
			if owner == dupID {
				f.posts[postID] = primaryID
			}
		}

		delete(f.users, dupID)
	}
	return dropped, nil
}

func (f *fakeMergeStore) linkOwner(provider, providerID string) string {
	for _, l := range f.links {
		if l.provider == provider && l.providerID == providerID {
			return l.userID
		}
	}
	return ""
}

// =========================================================================
// TESTS
// =========================================================================

func day(n int) time.Time {
	return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC)
}

func TestRun_MergesPhoneDuplicatesIntoEarliest(t *testing.T) {
	// Two users share a phone number due to a historical bug. The
	// earlier-created one survives; the other's posts and links move.
	store := newFakeMergeStore()
	store.addUser("user-5", "", "+1555", day(1))
	store.addUser("user-9", "nine@sea.com", "+1555", day(2))
	store.addLink("user-5", identity.ProviderWhatsApp, "+1555")
	store.addLink("user-9", identity.ProviderGoogle, "g-9")
	store.addPost("post-1", "user-9")
	store.addPost("post-2", "user-9")

	report, err := NewExecutor(store).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Merged)
	assert.Equal(t, 0, report.Errors)

	_, exists := store.users["user-9"]
	assert.False(t, exists, "duplicate user must be deleted")
	_, exists = store.users["user-5"]
	assert.True(t, exists)

	assert.Equal(t, "user-5", store.posts["post-1"])
	assert.Equal(t, "user-5", store.posts["post-2"])
	assert.Equal(t, "user-5", store.linkOwner(identity.ProviderGoogle, "g-9"))
}

func TestRun_SecondRunFindsNothing(t *testing.T) {
	store := newFakeMergeStore()
	store.addUser("user-1", "dup@sea.com", "", day(1))
	store.addUser("user-2", "dup@sea.com", "", day(2))

	executor := NewExecutor(store)

	first, err := executor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Merged)

	second, err := executor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Merged, "merge must be idempotent")
	assert.Equal(t, 0, second.Errors)

	scan, err := executor.DuplicateScan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, scan.EmailGroups)
	assert.Empty(t, scan.PhoneGroups)
}

func TestRun_FailedGroupRollsBackAlone(t *testing.T) {
	store := newFakeMergeStore()
	store.addUser("user-1", "a@sea.com", "", day(1))
	store.addUser("user-2", "a@sea.com", "", day(2))
	store.addUser("user-3", "b@sea.com", "", day(3))
	store.addUser("user-4", "b@sea.com", "", day(4))
	store.failPrimary["user-1"] = true

	report, err := NewExecutor(store).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Merged, "healthy group still merges")
	assert.Equal(t, 1, report.Errors)

	// failed group untouched
	_, exists := store.users["user-2"]
	assert.True(t, exists)
}

func TestRun_ConflictingLinkIsDroppedNotMoved(t *testing.T) {
	// Both users hold a link for the same (provider, providerID);
	// legacy data predating the uniqueness constraint. The duplicate's
	// copy is dropped; the primary keeps its own.
	store := newFakeMergeStore()
	store.addUser("user-1", "dup@sea.com", "", day(1))
	store.addUser("user-2", "dup@sea.com", "", day(2))
	store.addLink("user-1", identity.ProviderLegacy, "dup@sea.com")
	store.addLink("user-2", identity.ProviderLegacy, "dup@sea.com")

	report, err := NewExecutor(store).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Merged)

	assert.Equal(t, "user-1", store.linkOwner(identity.ProviderLegacy, "dup@sea.com"))
	assert.Len(t, store.links, 1)
}

func TestDuplicateScan_ReportsWithoutMutating(t *testing.T) {
	store := newFakeMergeStore()
	store.addUser("user-1", "dup@sea.com", "+1555", day(1))
	store.addUser("user-2", "dup@sea.com", "", day(2))
	store.addUser("user-3", "", "+1555", day(3))

	scan, err := NewExecutor(store).DuplicateScan(context.Background())
	require.NoError(t, err)

	require.Len(t, scan.EmailGroups, 1)
	assert.Equal(t, "dup@sea.com", scan.EmailGroups[0].Key)
	require.Len(t, scan.PhoneGroups, 1)
	assert.Equal(t, "+1555", scan.PhoneGroups[0].Key)

	assert.Len(t, store.users, 3, "scan is a dry run")
}

func TestPickPrimary_Deterministic(t *testing.T) {
	tests := []struct {
		name        string
		users       []identity.User
		wantPrimary string
		wantDups    []string
	}{
		{
			name: "earliest created wins",
			users: []identity.User{
				{ID: "user-9", CreatedAt: day(2)},
				{ID: "user-5", CreatedAt: day(1)},
			},
			wantPrimary: "user-5",
			wantDups:    []string{"user-9"},
		},
		{
			name: "lowest id breaks ties",
			users: []identity.User{
				{ID: "user-b", CreatedAt: day(1)},
				{ID: "user-a", CreatedAt: day(1)},
			},
			wantPrimary: "user-a",
			wantDups:    []string{"user-b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary, dups := PickPrimary(identity.DuplicateGroup{Users: tt.users})
			assert.Equal(t, tt.wantPrimary, primary.ID)
			assert.Equal(t, tt.wantDups, dups)
		})
	}
}
