package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"

	auth "github.com/AHegab/Authorization-microservice"
)

var userRowColumns = []string{
	"id", "email", "password_hash", "first_name", "middle_name", "last_name",
	"phone_number", "profile_picture", "birth_day", "last_login", "role",
	"two_factor_enabled", "two_factor_secret", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return New(db), mock
}

func adaRow(createdAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(userRowColumns).AddRow(
		"u1", "ada@example.com", "$argon2id$hash", "Ada", "", "Lovelace",
		"", "", nil, nil, "user",
		false, "", createdAt, createdAt,
	)
}

func expectNoUnmet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	createdAt := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM users WHERE email = \$1`).
		WithArgs("ada@example.com").
		WillReturnRows(adaRow(createdAt))

	user, err := store.FindByEmail(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("FindByEmail failed: %v", err)
	}
	if user.ID != "u1" || user.Email != "ada@example.com" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.BirthDay != nil || user.LastLogin != nil {
		t.Fatal("expected nil pointers for NULL dates")
	}
	if user.Role != auth.RoleUser {
		t.Fatalf("unexpected role %q", user.Role)
	}
	expectNoUnmet(t, mock)
}

func TestFindByIDNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.FindByID(context.Background(), "nope"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectNoUnmet(t, mock)
}

func TestCreateMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	_, err := store.Create(context.Background(), &auth.User{
		Email:        "ada@example.com",
		PasswordHash: "hash",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Role:         auth.RoleUser,
	})
	if !errors.Is(err, auth.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	expectNoUnmet(t, mock)
}

func TestCreateReturnsStoredRow(t *testing.T) {
	store, mock := newMockStore(t)
	createdAt := time.Now()

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("ada@example.com", "hash", "Ada", "", "Lovelace", "", "", nil, "user").
		WillReturnRows(adaRow(createdAt))

	created, err := store.Create(context.Background(), &auth.User{
		Email:        "ada@example.com",
		PasswordHash: "hash",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Role:         auth.RoleUser,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID != "u1" {
		t.Fatalf("expected stored id, got %q", created.ID)
	}
	expectNoUnmet(t, mock)
}

func TestSaveReturnsUpdatedRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(userRowColumns).AddRow(
		"u1", "ada@example.com", "$argon2id$hash", "Ada", "", "Lovelace",
		"+44 20 7946 0000", "", nil, now, "user",
		true, "SECRET", now, now,
	)
	mock.ExpectQuery(`UPDATE users SET`).
		WillReturnRows(rows)

	saved, err := store.Save(context.Background(), &auth.User{
		ID:               "u1",
		PasswordHash:     "$argon2id$hash",
		FirstName:        "Ada",
		LastName:         "Lovelace",
		PhoneNumber:      "+44 20 7946 0000",
		LastLogin:        &now,
		Role:             auth.RoleUser,
		TwoFactorEnabled: true,
		TwoFactorSecret:  "SECRET",
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !saved.TwoFactorEnabled || saved.TwoFactorSecret != "SECRET" {
		t.Fatalf("unexpected saved user: %+v", saved)
	}
	if saved.LastLogin == nil {
		t.Fatal("expected last login set")
	}
	expectNoUnmet(t, mock)
}

func TestSaveUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE users SET`).
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Save(context.Background(), &auth.User{ID: "nope"}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectNoUnmet(t, mock)
}

func TestListAll(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(userRowColumns).
		AddRow("u1", "ada@example.com", "h1", "Ada", "", "Lovelace", "", "", nil, nil, "user", false, "", now, now).
		AddRow("u2", "grace@example.com", "h2", "Grace", "", "Hopper", "", "", nil, nil, "admin", false, "", now.Add(time.Second), now.Add(time.Second))

	mock.ExpectQuery(`SELECT .+ FROM users ORDER BY created_at`).
		WillReturnRows(rows)

	users, err := store.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if users[1].Role != auth.RoleAdmin {
		t.Fatalf("unexpected role %q", users[1].Role)
	}
	expectNoUnmet(t, mock)
}

func TestRunMigrationsRunsFromEmbeddedRoot(t *testing.T) {
	store, _ := newMockStore(t)

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	var gotDir string
	gooseUpContext = func(_ context.Context, _ *sql.DB, dir string, _ ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	if err := store.RunMigrations(context.Background()); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	if gotDir != "." {
		t.Fatalf("expected migration root %q, got %q", ".", gotDir)
	}
}
