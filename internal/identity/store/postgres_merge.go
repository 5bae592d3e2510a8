package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/qaaqit/identity-service/internal/identity"
)

// DuplicateEmailGroups reports sets of users sharing one email,
// ordered inside each group by created_at then id.
func (p *Postgres) DuplicateEmailGroups(ctx context.Context) ([]identity.DuplicateGroup, error) {
	return p.duplicateGroups(ctx, `
		SELECT LOWER(email), `+userColumns+`
		FROM users
		WHERE email IS NOT NULL AND email <> ''
		ORDER BY LOWER(email), created_at, id
	`)
}

// DuplicatePhoneGroups reports sets of users sharing one phone number.
func (p *Postgres) DuplicatePhoneGroups(ctx context.Context) ([]identity.DuplicateGroup, error) {
	return p.duplicateGroups(ctx, `
		SELECT phone, `+userColumns+`
		FROM users
		WHERE phone IS NOT NULL AND phone <> ''
		ORDER BY phone, created_at, id
	`)
}

func (p *Postgres) duplicateGroups(ctx context.Context, query string) ([]identity.DuplicateGroup, error) {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("scan duplicate groups: %w", err)
	}
	defer rows.Close()

	var (
		groups  []identity.DuplicateGroup
		current identity.DuplicateGroup
	)
	flush := func() {
		if len(current.Users) > 1 {
			groups = append(groups, current)
		}
		current = identity.DuplicateGroup{}
	}

	for rows.Next() {
		var (
			key string
			u   identity.User
		)
		err := rows.Scan(
			&key,
			&u.ID,
			&u.DisplayName,
			&u.Email,
			&u.Phone,
			&u.ProfileImageURL,
			&u.Classification,
			&u.CreatedAt,
			&u.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan duplicate row: %w", err)
		}
		if key != current.Key {
			flush()
			current.Key = key
		}
		current.Users = append(current.Users, u)
	}
	flush()

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan duplicate groups: %w", err)
	}
	return groups, nil
}

// MergeGroup folds every duplicate user into the primary inside one
// transaction: backfill the primary's missing attributes from each
// duplicate, move identities (dropping copies that would collide with
// a link the primary already holds), reassign every owned table per
// the registry, then delete the duplicate rows. A failure rolls back
// the whole group. Returns how many colliding identity links were
// dropped instead of moved.
func (p *Postgres) MergeGroup(ctx context.Context, primaryID string, duplicateIDs []string) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin merge group: %w", err)
	}
	defer tx.Rollback()

	dropped := 0
	for _, dupID := range duplicateIDs {
		if dupID == primaryID {
			continue
		}

		if err := enrichFromDuplicateTx(ctx, tx, primaryID, dupID); err != nil {
			return 0, err
		}

		n, err := moveIdentitiesTx(ctx, tx, primaryID, dupID)
		if err != nil {
			return 0, err
		}
		dropped += n

		if err := reassignOwnershipTx(ctx, tx, dupID, primaryID); err != nil {
			return 0, err
		}
		if err := deleteUserTx(ctx, tx, dupID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit merge group: %w", err)
	}
	return dropped, nil
}

// enrichFromDuplicateTx backfills attributes the primary is missing
// from the duplicate before the duplicate row is deleted.
func enrichFromDuplicateTx(ctx context.Context, tx *sql.Tx, primaryID, dupID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users p SET
			email = COALESCE(p.email, d.email),
			phone = COALESCE(p.phone, d.phone),
			profile_image_url = COALESCE(p.profile_image_url, d.profile_image_url),
			updated_at = NOW()
		FROM users d
		WHERE p.id = $1 AND d.id = $2
	`, primaryID, dupID)
	if err != nil {
		return fmt.Errorf("backfill primary %s from %s: %w", primaryID, dupID, err)
	}
	return nil
}

// moveIdentitiesTx reassigns the duplicate's provider links to the
// primary. Links the primary already holds for the same (provider,
// provider_user_id) pair cannot be moved without violating the unique
// constraint, so the duplicate's copy is dropped; the merge-conflict
// rule. Moved links lose is_primary; the primary user keeps its own.
func moveIdentitiesTx(ctx context.Context, tx *sql.Tx, primaryID, dupID string) (int, error) {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM identities d
		WHERE d.user_id = $2
		  AND EXISTS (
			SELECT 1 FROM identities p
			WHERE p.user_id = $1
			  AND p.provider = d.provider
			  AND p.provider_user_id = d.provider_user_id
		  )
	`, primaryID, dupID)
	if err != nil {
		return 0, fmt.Errorf("drop conflicting identities of %s: %w", dupID, err)
	}
	dropped64, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx, `
		UPDATE identities
		SET user_id = $1, is_primary = false, updated_at = NOW()
		WHERE user_id = $2
	`, primaryID, dupID)
	if err != nil {
		return 0, fmt.Errorf("move identities of %s: %w", dupID, err)
	}

	return int(dropped64), nil
}
