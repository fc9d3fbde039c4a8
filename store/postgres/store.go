package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/credguard"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store reads and writes persons and their subscriptions.
type Store struct {
	db               *sql.DB
	blockingStatuses []string
}

// Option configures a Store.
type Option func(*Store)

// WithBlockingStatuses sets the subscription statuses that prevent
// DeleteIdentity. The default is active and pending.
func WithBlockingStatuses(statuses ...string) Option {
	return func(s *Store) {
		if len(statuses) == 0 {
			return
		}
		s.blockingStatuses = make([]string, 0, len(statuses))
		for _, st := range statuses {
			s.blockingStatuses = append(s.blockingStatuses, strings.ToLower(st))
		}
	}
}

var (
	_ credguard.IdentityStore      = (*Store)(nil)
	_ credguard.SubscriptionLookup = (*Store)(nil)
)

// New wraps an open database handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, blockingStatuses: []string{"active", "pending"}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

const identityColumns = `id, email, first_name, last_name, is_admin, active,
	password_hash, password_history, require_password_change`

func scanIdentity(row *sql.Row) (credguard.Identity, error) {
	var id credguard.Identity
	var history []string
	err := row.Scan(
		&id.SubjectID,
		&id.Email,
		&id.FirstName,
		&id.LastName,
		&id.IsAdmin,
		&id.Active,
		&id.PasswordHash,
		pq.Array(&history),
		&id.RequirePasswordChange,
	)
	if err != nil {
		return credguard.Identity{}, err
	}
	id.PasswordHistory = history
	return id, nil
}

// CreateIdentity inserts a person. A blank SubjectID is replaced with a new
// UUID; the stored id is returned.
func (s *Store) CreateIdentity(ctx context.Context, identity credguard.Identity) (string, error) {
	if identity.SubjectID == "" {
		identity.SubjectID = uuid.NewString()
	}
	history := identity.PasswordHistory
	if history == nil {
		history = []string{}
	}

	query := `
		INSERT INTO persons (
			id, email, first_name, last_name, is_admin, active,
			password_hash, password_history, require_password_change
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		identity.SubjectID,
		strings.ToLower(strings.TrimSpace(identity.Email)),
		identity.FirstName,
		identity.LastName,
		identity.IsAdmin,
		identity.Active,
		identity.PasswordHash,
		pq.Array(history),
		identity.RequirePasswordChange,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: %s", credguard.ErrEmailInUse, identity.Email)
		}
		return "", err
	}
	return identity.SubjectID, nil
}

// GetIdentity loads a person by id.
func (s *Store) GetIdentity(ctx context.Context, subjectID string) (credguard.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM persons WHERE id = $1`, subjectID)
	id, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credguard.Identity{}, fmt.Errorf("%w: %s", credguard.ErrPersonNotFound, subjectID)
	}
	return id, err
}

// GetIdentityByEmail loads a person by email, ignoring case.
func (s *Store) GetIdentityByEmail(ctx context.Context, email string) (credguard.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM persons WHERE LOWER(email) = LOWER($1)`,
		strings.TrimSpace(email))
	id, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credguard.Identity{}, fmt.Errorf("%w: email lookup", credguard.ErrPersonNotFound)
	}
	return id, err
}

// UpdateCredential replaces the hash, history and change flag together.
func (s *Store) UpdateCredential(ctx context.Context, subjectID string, update credguard.CredentialUpdate) error {
	history := update.PasswordHistory
	if history == nil {
		history = []string{}
	}

	query := `
		UPDATE persons
		SET password_hash = $1,
			password_history = $2,
			require_password_change = $3,
			updated_at = $4
		WHERE id = $5`

	res, err := s.db.ExecContext(ctx, query,
		update.PasswordHash,
		pq.Array(history),
		update.RequirePasswordChange,
		time.Now(),
		subjectID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, subjectID)
}

// UpdateEmail changes a person's address. The unique index turns a taken
// address into credguard.ErrEmailInUse.
func (s *Store) UpdateEmail(ctx context.Context, subjectID, email string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE persons SET email = $1, updated_at = $2 WHERE id = $3`,
		strings.ToLower(strings.TrimSpace(email)),
		time.Now(),
		subjectID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", credguard.ErrEmailInUse, email)
		}
		return err
	}
	return requireRow(res, subjectID)
}

// DeleteIdentity removes a person together with its non-blocking
// subscriptions. The person row is locked first, so a subscription being
// inserted concurrently either commits before the check and blocks the
// delete, or fails its foreign key afterwards.
func (s *Store) DeleteIdentity(ctx context.Context, subjectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM persons WHERE id = $1 FOR UPDATE`, subjectID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", credguard.ErrPersonNotFound, subjectID)
	}
	if err != nil {
		return err
	}

	var blocking int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE person_id = $1 AND LOWER(status) = ANY($2)`,
		subjectID, pq.Array(s.blockingStatuses),
	).Scan(&blocking)
	if err != nil {
		return err
	}
	if blocking > 0 {
		return fmt.Errorf("%w: %d blocking subscription(s) for %s", credguard.ErrReferentialIntegrity, blocking, subjectID)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM persons WHERE id = $1`, subjectID)
	if err != nil {
		return err
	}
	if err := requireRow(res, subjectID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetActive enables or disables a person.
func (s *Store) SetActive(ctx context.Context, subjectID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE persons SET active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now(), subjectID)
	if err != nil {
		return err
	}
	return requireRow(res, subjectID)
}

func requireRow(res sql.Result, subjectID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", credguard.ErrPersonNotFound, subjectID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}
