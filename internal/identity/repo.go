package identity

import (
	"context"
	"database/sql"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"classroom/internal/apperror"
)

// PGRepository persists users in Postgres.
type PGRepository struct {
	db *sql.DB
}

// NewPGRepository creates a repo.
func NewPGRepository(db *sql.DB) *PGRepository {
	return &PGRepository{db: db}
}

const userColumns = `id, email, name, role, enrollment_number, staff_id, department, phone, dob, gender,
	details, password_hash, created_at, updated_at`

// CreateUser inserts a new account.
func (r *PGRepository) CreateUser(ctx context.Context, u User) (User, error) {
	details, err := encodeDetails(u.Details)
	if err != nil {
		return User{}, err
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, role, enrollment_number, staff_id, department, phone, dob, gender,
			details, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+userColumns,
		u.ID, u.Email, u.Name, string(u.Role), nullable(u.EnrollmentNumber), nullable(u.StaffID),
		u.Department, u.Phone, u.DOB, u.Gender, details, u.PasswordHash)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "users_enrollment_number_key", "users_staff_id_key":
				return User{}, ErrKeyExists
			default:
				return User{}, apperror.ErrEmailExists
			}
		}
		return User{}, apperror.Remote("users.create", err)
	}
	return created, nil
}

func (r *PGRepository) GetUser(ctx context.Context, id string) (User, error) {
	return r.getBy(ctx, "users.get", "id", id)
}

func (r *PGRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.getBy(ctx, "users.get_by_email", "email", email)
}

func (r *PGRepository) GetByEnrollment(ctx context.Context, enrollment string) (User, error) {
	return r.getBy(ctx, "users.get_by_enrollment", "enrollment_number", enrollment)
}

func (r *PGRepository) GetByStaffID(ctx context.Context, staffID string) (User, error) {
	return r.getBy(ctx, "users.get_by_staff_id", "staff_id", staffID)
}

// getBy loads one user by a unique column. column is never caller input.
func (r *PGRepository) getBy(ctx context.Context, op, column, value string) (User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, value)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperror.ErrNotFound
	}
	if err != nil {
		return User{}, apperror.Remote(op, err)
	}
	return u, nil
}

// ListUsers returns matching users ordered by name.
func (r *PGRepository) ListUsers(ctx context.Context, f Filter) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE ($1::text = '' OR role = $1::text)
		  AND ($2::text = '' OR name ILIKE '%' || $2::text || '%' OR email ILIKE '%' || $2::text || '%'
		       OR enrollment_number ILIKE '%' || $2::text || '%' OR staff_id ILIKE '%' || $2::text || '%')
		ORDER BY name, id
	`, string(f.Role), f.Search)
	if err != nil {
		return nil, apperror.Remote("users.list", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, apperror.Remote("users.list", err)
		}
		users = append(users, u)
	}
	return users, apperror.Remote("users.list", rows.Err())
}

// UpdateUser writes the profile fields.
func (r *PGRepository) UpdateUser(ctx context.Context, u User) (User, error) {
	details, err := encodeDetails(u.Details)
	if err != nil {
		return User{}, err
	}
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET name = $2, department = $3, phone = $4, dob = $5, gender = $6, details = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns,
		u.ID, u.Name, u.Department, u.Phone, u.DOB, u.Gender, details)
	updated, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperror.ErrNotFound
	}
	if err != nil {
		return User{}, apperror.Remote("users.update", err)
	}
	return updated, nil
}

func (r *PGRepository) SetPassword(ctx context.Context, id string, hash []byte) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return apperror.Remote("users.set_password", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.ErrNotFound
	}
	return nil
}

func (r *PGRepository) DeleteUser(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return apperror.Remote("users.delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.ErrNotFound
	}
	return nil
}

func (r *PGRepository) CountByRole(ctx context.Context) (map[Role]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, apperror.Remote("users.count", err)
	}
	defer rows.Close()

	counts := map[Role]int{}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, apperror.Remote("users.count", err)
		}
		counts[Role(role)] = n
	}
	return counts, apperror.Remote("users.count", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (User, error) {
	var u User
	var role string
	var enrollment, staffID sql.NullString
	var details []byte
	if err := s.Scan(&u.ID, &u.Email, &u.Name, &role, &enrollment, &staffID, &u.Department, &u.Phone,
		&u.DOB, &u.Gender, &details, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	u.EnrollmentNumber = enrollment.String
	u.StaffID = staffID.String
	if len(details) > 0 {
		if err := sonic.Unmarshal(details, &u.Details); err != nil {
			return User{}, errors.Wrapf(err, "decode details of %s", u.ID)
		}
	}
	return u, nil
}

func encodeDetails(d map[string]string) ([]byte, error) {
	if d == nil {
		d = map[string]string{}
	}
	b, err := sonic.Marshal(d)
	return b, errors.Wrap(err, "encode details")
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
