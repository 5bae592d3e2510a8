package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/qaaqit/identity-service/internal/db"
	"github.com/qaaqit/identity-service/internal/identity"
)

// Postgres is the canonical identity store. All race resolution is
// pushed down to the identities_provider_unique constraint; no
// in-process locks are held across database calls.
type Postgres struct {
	db *db.DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *db.DB) *Postgres {
	return &Postgres{db: db}
}

const userColumns = `
	id,
	display_name,
	COALESCE(email, ''),
	COALESCE(phone, ''),
	COALESCE(profile_image_url, ''),
	classification,
	created_at,
	updated_at
`

func scanUser(row *sql.Row) (*identity.User, error) {
	var u identity.User
	err := row.Scan(
		&u.ID,
		&u.DisplayName,
		&u.Email,
		&u.Phone,
		&u.ProfileImageURL,
		&u.Classification,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *Postgres) FindIdentity(
	ctx context.Context,
	provider string,
	providerID string,
) (*identity.Identity, error) {

	var (
		ident identity.Identity
		meta  []byte
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, provider, provider_user_id,
		       is_primary, is_verified, metadata, created_at, updated_at
		FROM identities
		WHERE provider = $1
		  AND provider_user_id = $2
	`, provider, providerID).Scan(
		&ident.ID,
		&ident.UserID,
		&ident.Provider,
		&ident.ProviderID,
		&ident.IsPrimary,
		&ident.IsVerified,
		&meta,
		&ident.CreatedAt,
		&ident.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find identity %s/%s: %w", provider, providerID, err)
	}

	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &ident.Metadata); err != nil {
			return nil, fmt.Errorf("decode identity metadata: %w", err)
		}
	}

	return &ident, nil
}

func (p *Postgres) FindUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	if email == "" {
		return nil, nil
	}
	u, err := scanUser(p.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = LOWER($1)
		ORDER BY created_at, id
		LIMIT 1
	`, email))
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return u, nil
}

func (p *Postgres) FindUserByPhone(ctx context.Context, phone string) (*identity.User, error) {
	if phone == "" {
		return nil, nil
	}
	u, err := scanUser(p.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE phone = $1
		ORDER BY created_at, id
		LIMIT 1
	`, phone))
	if err != nil {
		return nil, fmt.Errorf("find user by phone: %w", err)
	}
	return u, nil
}

func (p *Postgres) GetUser(ctx context.Context, id string) (*identity.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (p *Postgres) LinkIdentity(
	ctx context.Context,
	userID string,
	login identity.Login,
	primary bool,
) error {

	meta, err := metadataJSON(login.Metadata)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO identities
			(id, user_id, provider, provider_user_id, is_primary, is_verified, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		uuid.NewString(),
		userID,
		login.Provider,
		login.ProviderID,
		primary,
		login.Attributes.Verified,
		meta,
	)
	if isUniqueViolation(err) {
		return identity.ErrDuplicateIdentity
	}
	if err != nil {
		return fmt.Errorf("link identity %s/%s: %w", login.Provider, login.ProviderID, err)
	}
	return nil
}

// CreateUser inserts the user row and its initial primary identity in
// one transaction. A concurrent login that already claimed the same
// (provider, provider_user_id) rolls the whole thing back as
// identity.ErrDuplicateIdentity, leaving no orphaned user behind.
func (p *Postgres) CreateUser(ctx context.Context, login identity.Login) (*identity.User, error) {
	meta, err := metadataJSON(login.Metadata)
	if err != nil {
		return nil, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create user: %w", err)
	}
	defer tx.Rollback()

	a := login.Attributes
	var u identity.User
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name, email, phone, profile_image_url, classification)
		VALUES (
			$1,
			$2,
			NULLIF($3, ''),
			NULLIF($4, ''),
			NULLIF($5, ''),
			COALESCE(NULLIF($6, ''), 'maritime_professional')
		)
		RETURNING `+userColumns+`
	`,
		uuid.NewString(),
		a.DisplayName,
		a.Email,
		a.Phone,
		a.ProfileImageURL,
		a.Classification,
	).Scan(
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
		return nil, fmt.Errorf("insert user: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO identities
			(id, user_id, provider, provider_user_id, is_primary, is_verified, metadata)
		VALUES ($1, $2, $3, $4, true, $5, $6)
	`,
		uuid.NewString(),
		u.ID,
		login.Provider,
		login.ProviderID,
		a.Verified,
		meta,
	)
	if isUniqueViolation(err) {
		return nil, identity.ErrDuplicateIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("insert initial identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create user: %w", err)
	}
	return &u, nil
}

// EnrichUser backfills attributes the user is missing. Strictly
// additive: every column keeps its stored value unless it is currently
// empty and the login supplied one. The default classification counts
// as unset.
func (p *Postgres) EnrichUser(ctx context.Context, userID string, attrs identity.Attributes) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE users SET
			display_name = COALESCE(NULLIF(display_name, ''), NULLIF($2, ''), display_name),
			email = COALESCE(email, NULLIF($3, '')),
			phone = COALESCE(phone, NULLIF($4, '')),
			profile_image_url = COALESCE(profile_image_url, NULLIF($5, '')),
			classification = COALESCE(
				NULLIF(classification, 'maritime_professional'),
				NULLIF($6, ''),
				classification
			),
			updated_at = NOW()
		WHERE id = $1
	`,
		userID,
		attrs.DisplayName,
		attrs.Email,
		attrs.Phone,
		attrs.ProfileImageURL,
		attrs.Classification,
	)
	if err != nil {
		return fmt.Errorf("enrich user %s: %w", userID, err)
	}
	return nil
}

// ReassignOwnership moves every owned-record row from one user to
// another in one transaction, walking the ownership registry.
func (p *Postgres) ReassignOwnership(ctx context.Context, fromUserID, toUserID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reassign: %w", err)
	}
	defer tx.Rollback()

	if err := reassignOwnershipTx(ctx, tx, fromUserID, toUserID); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteUser removes a user row. Only valid after everything the user
// owned has been reassigned; the schema's plain foreign keys reject
// the delete otherwise.
func (p *Postgres) DeleteUser(ctx context.Context, userID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete user: %w", err)
	}
	defer tx.Rollback()

	if err := deleteUserTx(ctx, tx, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func reassignOwnershipTx(ctx context.Context, tx *sql.Tx, fromUserID, toUserID string) error {
	for _, t := range ownedTables {
		query := fmt.Sprintf(
			`UPDATE %s SET %s = $1 WHERE %s = $2`,
			t.Table, t.Column, t.Column,
		)
		if _, err := tx.ExecContext(ctx, query, toUserID, fromUserID); err != nil {
			return fmt.Errorf("reassign %s.%s: %w", t.Table, t.Column, err)
		}
	}
	return nil
}

func deleteUserTx(ctx context.Context, tx *sql.Tx, userID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete user %s: no such user", userID)
	}
	return nil
}

func metadataJSON(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode identity metadata: %w", err)
	}
	return b, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
