// Package postgres implements CredentialStore on PostgreSQL through the pgx
// stdlib driver. The unique index on email is the authority for duplicate
// registrations; concurrent inserts race at the constraint, not in Go.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	auth "github.com/AHegab/Authorization-microservice"
	"github.com/AHegab/Authorization-microservice/store/postgres/migrations"
)

const pgUniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

// New wraps an existing connection without touching the schema. Tests hand
// in a mock here.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects, pings, and migrates. The returned store is ready for use.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	store := &Store{db: db}
	if err := store.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return store, nil
}

// gooseUpContext is a seam for testing RunMigrations.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

func (s *Store) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, s.db, ".")
}

func (s *Store) Close() error {
	return s.db.Close()
}

const userColumns = `id, email, password_hash, first_name, middle_name, last_name,
phone_number, profile_picture, birth_day, last_login, role,
two_factor_enabled, two_factor_secret, created_at, updated_at`

func (s *Store) FindByID(ctx context.Context, id string) (*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *Store) Create(ctx context.Context, user *auth.User) (*auth.User, error) {
	query := `INSERT INTO users (email, password_hash, first_name, middle_name, last_name,
phone_number, profile_picture, birth_day, role)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + userColumns

	row := s.db.QueryRowContext(ctx, query,
		user.Email, user.PasswordHash, user.FirstName, user.MiddleName, user.LastName,
		user.PhoneNumber, user.ProfilePicture, nullableTime(user.BirthDay), string(user.Role),
	)

	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, auth.ErrDuplicateEmail
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) Save(ctx context.Context, user *auth.User) (*auth.User, error) {
	query := `UPDATE users SET
password_hash = $2, first_name = $3, middle_name = $4, last_name = $5,
phone_number = $6, profile_picture = $7, birth_day = $8, last_login = $9,
role = $10, two_factor_enabled = $11, two_factor_secret = $12, updated_at = now()
WHERE id = $1
RETURNING ` + userColumns

	row := s.db.QueryRowContext(ctx, query,
		user.ID, user.PasswordHash, user.FirstName, user.MiddleName, user.LastName,
		user.PhoneNumber, user.ProfilePicture, nullableTime(user.BirthDay), nullableTime(user.LastLogin),
		string(user.Role), user.TwoFactorEnabled, user.TwoFactorSecret,
	)
	return scanUser(row)
}

func (s *Store) ListAll(ctx context.Context) ([]auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var users []auth.User
	for rows.Next() {
		user, err := scanUserFromRows(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	user := &auth.User{}
	var (
		birthDay  sql.NullTime
		lastLogin sql.NullTime
		role      string
	)

	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.MiddleName,
		&user.LastName, &user.PhoneNumber, &user.ProfilePicture, &birthDay, &lastLogin,
		&role, &user.TwoFactorEnabled, &user.TwoFactorSecret, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	user.Role = auth.Role(role)
	if birthDay.Valid {
		user.BirthDay = &birthDay.Time
	}
	if lastLogin.Valid {
		user.LastLogin = &lastLogin.Time
	}
	return user, nil
}

func scanUserFromRows(rows *sql.Rows) (*auth.User, error) {
	return scanUser(rows)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
