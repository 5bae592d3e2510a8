// Package merge is the batch reconciliation side of identity
// consolidation: it finds users that were mistakenly created as
// duplicates (degraded-mode logins, races, data predating
// consolidation) and irreversibly folds each set into one surviving
// primary. Administrator-triggered only; never runs on the login hot
// path.
package merge

import (
	"context"
	"sort"

	"github.com/qaaqit/identity-service/internal/identity"
	"github.com/qaaqit/identity-service/internal/logger"
)

// Store is the slice of the identity store the executor needs.
// MergeGroup must be one transaction per group and returns how many
// conflicting identity links were dropped instead of moved.
type Store interface {
	DuplicateEmailGroups(ctx context.Context) ([]identity.DuplicateGroup, error)
	DuplicatePhoneGroups(ctx context.Context) ([]identity.DuplicateGroup, error)
	MergeGroup(ctx context.Context, primaryID string, duplicateIDs []string) (dropped int, err error)
}

// ScanReport is the dry-run output: what a merge run would touch.
type ScanReport struct {
	EmailGroups []identity.DuplicateGroup `json:"email_groups"`
	PhoneGroups []identity.DuplicateGroup `json:"phone_groups"`
}

// Report summarizes a destructive run. Merged counts duplicate users
// folded away; Errors counts groups that rolled back.
type Report struct {
	Merged int `json:"merged"`
	Errors int `json:"errors"`
}

// Executor processes duplicate groups sequentially, one transaction at
// a time. Parallelizing would risk two groups racing on a shared
// identity row, and cleanup runs are infrequent enough not to care.
type Executor struct {
	store Store
}

func NewExecutor(store Store) *Executor {
	return &Executor{store: store}
}

// DuplicateScan reports duplicate groups without changing anything.
func (e *Executor) DuplicateScan(ctx context.Context) (*ScanReport, error) {
	emailGroups, err := e.store.DuplicateEmailGroups(ctx)
	if err != nil {
		return nil, err
	}
	phoneGroups, err := e.store.DuplicatePhoneGroups(ctx)
	if err != nil {
		return nil, err
	}
	return &ScanReport{
		EmailGroups: emailGroups,
		PhoneGroups: phoneGroups,
	}, nil
}

// Run merges every duplicate group. Email groups go first; phone
// groups are re-scanned afterwards because an email merge may have
// already deleted users a stale phone group still references. A failed
// group rolls back and is counted, never aborting the rest of the run.
// Running twice in a row finds zero groups on the second pass.
func (e *Executor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	emailGroups, err := e.store.DuplicateEmailGroups(ctx)
	if err != nil {
		return nil, err
	}
	e.mergeGroups(ctx, "email", emailGroups, report)

	phoneGroups, err := e.store.DuplicatePhoneGroups(ctx)
	if err != nil {
		return nil, err
	}
	e.mergeGroups(ctx, "phone", phoneGroups, report)

	logger.Info("duplicate merge run finished", map[string]any{
		"merged": report.Merged,
		"errors": report.Errors,
	})
	return report, nil
}

func (e *Executor) mergeGroups(
	ctx context.Context,
	signal string,
	groups []identity.DuplicateGroup,
	report *Report,
) {
	for _, group := range groups {
		primary, duplicates := PickPrimary(group)
		if len(duplicates) == 0 {
			continue
		}

		dropped, err := e.store.MergeGroup(ctx, primary.ID, duplicates)
		if err != nil {
			report.Errors++
			logger.Error("merge group failed, rolled back", map[string]any{
				"signal":  signal,
				"key":     group.Key,
				"primary": primary.ID,
				"error":   err.Error(),
			})
			continue
		}

		report.Merged += len(duplicates)
		fields := map[string]any{
			"signal":     signal,
			"key":        group.Key,
			"primary":    primary.ID,
			"duplicates": duplicates,
		}
		if dropped > 0 {
			// A duplicate held a provider link the primary also holds;
			// its copy was dropped rather than moved.
			fields["conflicting_links_dropped"] = dropped
		}
		logger.Info("merged duplicate users", fields)
	}
}

// PickPrimary chooses the surviving user deterministically: earliest
// created_at, lowest id as tie-break. The rule affects which user id
// survives in external references, so it must never change between
// runs.
func PickPrimary(group identity.DuplicateGroup) (identity.User, []string) {
	users := make([]identity.User, len(group.Users))
	copy(users, group.Users)

	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})

	duplicates := make([]string, 0, len(users)-1)
	for _, u := range users[1:] {
		duplicates = append(duplicates, u.ID)
	}
	return users[0], duplicates
}
