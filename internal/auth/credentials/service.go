package credentials

import (
	"context"
	"errors"
	"strings"

	"github.com/qaaqit/identity-service/internal/db"
	"github.com/qaaqit/identity-service/internal/identity"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyRegistered  = errors.New("credentials already exist")
)

// Service owns the legacy email/password door. It stores and verifies
// password hashes only; which user an email belongs to is decided by
// the resolver, like every other provider.
type Service struct {
	db *db.DB
}

func NewService(db *db.DB) *Service {
	return &Service{db: db}
}

// LegacyLogin builds the normalized tuple for the legacy door. The
// provider-scoped identifier is the lowercased email, which is stable
// across logins. Legacy emails are unverified: a password proves
// knowledge of the password, not ownership of the mailbox.
func LegacyLogin(email string, displayName string) identity.Login {
	e := strings.ToLower(strings.TrimSpace(email))
	return identity.Login{
		Provider:   identity.ProviderLegacy,
		ProviderID: e,
		Attributes: identity.Attributes{
			Email:       e,
			DisplayName: displayName,
		},
	}
}

// Create attaches password credentials to an already-resolved user.
func (s *Service) Create(
	ctx context.Context,
	userID string,
	password string,
) error {

	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM credentials WHERE user_id = $1
		)
	`, userID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyRegistered
	}

	hash, version, err := HashPassword(password)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, password_hash, hash_version)
		VALUES ($1, $2, $3)
	`, userID, hash, version)
	return err
}

// Authenticate verifies an email/password pair. On success it returns
// the normalized legacy login tuple; the caller still routes it
// through the resolver so the legacy identity link exists and
// consolidation invariants hold.
func (s *Service) Authenticate(
	ctx context.Context,
	email string,
	password string,
) (*identity.Login, error) {

	var passwordHash string

	// A merged user may carry more than one credentials row; take the
	// oldest deterministically.
	err := s.db.QueryRowContext(ctx, `
		SELECT c.password_hash
		FROM users u
		JOIN credentials c ON c.user_id = u.id
		WHERE LOWER(u.email) = LOWER($1)
		ORDER BY c.created_at, c.id
		LIMIT 1
	`, email).Scan(&passwordHash)
	if err != nil {
		// hide whether the account exists
		return nil, ErrInvalidCredentials
	}

	if err := VerifyPassword(passwordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	login := LegacyLogin(email, "")
	return &login, nil
}
