package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/milkyano/barber-core/services/auth/internal/domain"
)

// UserRepository is the identity store. Finders return (nil, nil) when no row
// matches; mutations return domain.ErrNotFound. Every mutation is a single
// statement, so uniqueness is enforced by the database at write time.
type UserRepository interface {
	Create(ctx context.Context, u *domain.NewUser) (*domain.User, error)
	FindByPhone(ctx context.Context, phone string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	// MarkVerified reports whether this call moved the user from unverified to verified.
	MarkVerified(ctx context.Context, id string) (bool, error)
	UpdatePhone(ctx context.Context, id, phone string) (*domain.User, error)
	UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) (*domain.User, error)
	SetPassword(ctx context.Context, id, passwordHash string) error
	// SetExternalCustomerID stores extID unless an id is already present, and
	// returns whichever id is committed.
	SetExternalCustomerID(ctx context.Context, id, extID string) (string, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]domain.User, error)
}

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type userRepository struct {
	db DB
}

func NewUserRepository(db DB) UserRepository {
	return &userRepository{db: db}
}

const (
	queryTimeout = 3 * time.Second

	uniqueViolation       = "23505"
	phoneUniqueConstraint = "users_phone_number_key"
	emailUniqueConstraint = "users_email_key"
)

const userCols = `id, phone_number, email, first_name, last_name, password_hash, role, is_verified, external_customer_id, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var role string
	err := row.Scan(
		&u.ID, &u.PhoneNumber, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash,
		&role, &u.IsVerified, &u.ExternalCustomerID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	return &u, nil
}

// mapWriteError turns unique violations into typed conflicts naming the field.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == emailUniqueConstraint {
			return domain.EmailConflict()
		}
		return domain.PhoneConflict()
	}
	return err
}

func (r *userRepository) Create(ctx context.Context, nu *domain.NewUser) (*domain.User, error) {
	const q = `
		INSERT INTO users (id, phone_number, email, first_name, last_name, password_hash, role, is_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + userCols

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	u, err := scanUser(r.db.QueryRow(ctx, q,
		uuid.NewString(), nu.PhoneNumber, nu.Email, nu.FirstName, nu.LastName, nu.PasswordHash, string(nu.Role), nu.IsVerified,
	))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return u, nil
}

func (r *userRepository) findOne(ctx context.Context, where string, arg any) (*domain.User, error) {
	q := `SELECT ` + userCols + ` FROM users WHERE ` + where + ` = $1`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	u, err := scanUser(r.db.QueryRow(ctx, q, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (r *userRepository) FindByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return r.findOne(ctx, "phone_number", phone)
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, "email", email)
}

// validID reports whether id can match a row. Ids come from token subjects and
// URLs, and Postgres rejects a malformed uuid instead of matching nothing.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	if !validID(id) {
		return nil, nil
	}
	return r.findOne(ctx, "id", id)
}

func (r *userRepository) MarkVerified(ctx context.Context, id string) (bool, error) {
	const q = `UPDATE users SET is_verified = true, updated_at = now() WHERE id = $1 AND is_verified = false`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

func (r *userRepository) UpdatePhone(ctx context.Context, id, phone string) (*domain.User, error) {
	if !validID(id) {
		return nil, domain.ErrNotFound
	}

	const q = `
		UPDATE users
		SET phone_number = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + userCols

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	u, err := scanUser(r.db.QueryRow(ctx, q, id, phone))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapWriteError(err)
	}
	return u, nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) (*domain.User, error) {
	if !validID(id) {
		return nil, domain.ErrNotFound
	}

	const q = `
		UPDATE users
		SET first_name = COALESCE($2, first_name),
		    last_name = COALESCE($3, last_name),
		    email = COALESCE($4, email),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + userCols

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	u, err := scanUser(r.db.QueryRow(ctx, q, id, upd.FirstName, upd.LastName, upd.Email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapWriteError(err)
	}
	return u, nil
}

func (r *userRepository) SetPassword(ctx context.Context, id, passwordHash string) error {
	if !validID(id) {
		return domain.ErrNotFound
	}

	const q = `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.Exec(ctx, q, id, passwordHash)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *userRepository) SetExternalCustomerID(ctx context.Context, id, extID string) (string, error) {
	if !validID(id) {
		return "", domain.ErrNotFound
	}

	const q = `
		UPDATE users
		SET external_customer_id = COALESCE(external_customer_id, $2), updated_at = now()
		WHERE id = $1
		RETURNING external_customer_id`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var committed string
	err := r.db.QueryRow(ctx, q, id, extID).Scan(&committed)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return committed, nil
}

func (r *userRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return domain.ErrNotFound
	}

	const q = `DELETE FROM users WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *userRepository) List(ctx context.Context, limit, offset int) ([]domain.User, error) {
	limit, offset = clampPage(limit, offset)

	const q = `
		SELECT ` + userCols + `
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}

	return users, rows.Err()
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
