package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const userColumns = `
	id, name, email, phone, role, assigned_practitioner_id,
	progress, created_at, updated_at`

// DefaultPractitionerEmail identifies the shared fallback practitioner
// used when a generation request names no practitioner.
const DefaultPractitionerEmail = "duty.practitioner@ayursutra.local"

// UserRepository is the adapter over the identity directory. Profile
// management lives elsewhere; this service only reads contact info and
// writes the derived progress percentage.
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Phone,
		&u.Role,
		&u.AssignedPractitionerID,
		&u.Progress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser retrieves a user by ID
func (r *UserRepository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email address
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	u, err := scanUser(r.db.Pool().QueryRow(ctx, query, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user by email: %w", err)
	}
	return u, nil
}

// UpdateUserProgress persists the recomputed progress percentage
func (r *UserRepository) UpdateUserProgress(ctx context.Context, id uuid.UUID, progress int) error {
	query := `UPDATE users SET progress = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.Pool().Exec(ctx, query, progress, id)
	if err != nil {
		return fmt.Errorf("update user progress: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.logger.Info("patient progress updated",
		zap.String("user_id", id.String()),
		zap.Int("progress", progress),
	)
	return nil
}

// EnsureDefaultPractitioner resolves the shared fallback practitioner,
// creating it when absent. Called once at startup so request handling
// never races on the lookup-or-create.
func (r *UserRepository) EnsureDefaultPractitioner(ctx context.Context) (uuid.UUID, error) {
	query := `
		INSERT INTO users (id, name, email, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET updated_at = NOW()
		RETURNING id
	`

	var id uuid.UUID
	err := r.db.Pool().QueryRow(ctx, query,
		uuid.New(),
		"Duty Practitioner",
		DefaultPractitionerEmail,
		RolePractitioner,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ensure default practitioner: %w", err)
	}

	r.logger.Info("default practitioner resolved", zap.String("practitioner_id", id.String()))
	return id, nil
}
