package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
)

var (
	errNotFound   = errors.New("record not found")
	errInvalidOTP = errors.New("invalid or expired OTP")
)

// storage is the persistence boundary of the service. Lookups return
// (nil, nil) when no record matches; keyed mutations return errNotFound.
type storage interface {
	insertUser(u *user) error
	getUserByID(id int) (*user, error)
	getUserByEmail(email string) (*user, error)
	getUserByUsername(username string) (*user, error)

	createOTP(o *otp) error
	getValidOTP(email, code string) (*otp, error)
	resetPassword(email, code string, passwordHash []byte) error

	getTodos(userID int, completed *bool, skip, limit int) ([]todo, error)
	getTodo(userID, todoID int) (*todo, error)
	insertTodo(t *todo) error
	updateTodo(t *todo) error
	deleteTodo(userID, todoID int) error
}

func openDB(cfg config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.db.dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.db.maxOpenConnections)
	db.SetMaxIdleConns(cfg.db.maxIdleConnections)
	db.SetConnMaxIdleTime(cfg.db.maxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = db.PingContext(ctx)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func runMigrations(cfg config) error {
	m, err := migrate.New(cfg.db.migrationsURL, cfg.db.dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// isUniqueViolation reports whether err is a postgres unique-constraint
// failure, which the register handler maps to a conflict.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

type postgresStorage struct {
	db *sql.DB
}

func newStorage(db *sql.DB) *postgresStorage {
	return &postgresStorage{db: db}
}

func (s *postgresStorage) insertUser(u *user) error {
	query := `INSERT INTO users (email, username, hashed_password, is_active)
			  VALUES ($1, $2, $3, $4)
			  RETURNING id, created_at, updated_at`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := s.db.QueryRowContext(ctx, query, u.Email, u.Username, u.PasswordHash, u.IsActive)
	return row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
}

func (s *postgresStorage) getUserByID(id int) (*user, error) {
	query := `SELECT id, created_at, updated_at, email, username, hashed_password, is_active
			  FROM users
			  WHERE id = $1`
	return s.scanUser(query, id)
}

func (s *postgresStorage) getUserByEmail(email string) (*user, error) {
	query := `SELECT id, created_at, updated_at, email, username, hashed_password, is_active
			  FROM users
			  WHERE email = $1`
	return s.scanUser(query, email)
}

func (s *postgresStorage) getUserByUsername(username string) (*user, error) {
	query := `SELECT id, created_at, updated_at, email, username, hashed_password, is_active
			  FROM users
			  WHERE username = $1`
	return s.scanUser(query, username)
}

func (s *postgresStorage) scanUser(query string, arg any) (*user, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := s.db.QueryRowContext(ctx, query, arg)
	var u user
	err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt, &u.Email, &u.Username, &u.PasswordHash, &u.IsActive)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, nil
		default:
			return nil, err
		}
	}
	return &u, nil
}

// createOTP replaces any outstanding codes for the email with the new one, so
// at most one code per email is live at a time.
func (s *postgresStorage) createOTP(o *otp) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `DELETE FROM otps WHERE email = $1`, o.Email)
	if err != nil {
		return err
	}

	query := `INSERT INTO otps (email, otp, expires_at)
			  VALUES ($1, $2, $3)
			  RETURNING id, created_at`
	row := tx.QueryRowContext(ctx, query, o.Email, o.Code, o.ExpiresAt)
	err = row.Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *postgresStorage) getValidOTP(email, code string) (*otp, error) {
	query := `SELECT id, email, otp, created_at, expires_at, is_used
			  FROM otps
			  WHERE email = $1 AND otp = $2 AND is_used = FALSE AND expires_at > now()
			  ORDER BY created_at DESC
			  LIMIT 1`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := s.db.QueryRowContext(ctx, query, email, code)
	var o otp
	err := row.Scan(&o.ID, &o.Email, &o.Code, &o.CreatedAt, &o.ExpiresAt, &o.IsUsed)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, nil
		default:
			return nil, err
		}
	}
	return &o, nil
}

// resetPassword consumes the code and replaces the user's hash in one
// transaction, so a code can never be spent without the password changing.
func (s *postgresStorage) resetPassword(email, code string, passwordHash []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `SELECT id
			  FROM otps
			  WHERE email = $1 AND otp = $2 AND is_used = FALSE AND expires_at > now()
			  ORDER BY created_at DESC
			  LIMIT 1
			  FOR UPDATE`
	var otpID int
	err = tx.QueryRowContext(ctx, query, email, code).Scan(&otpID)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return errInvalidOTP
		default:
			return err
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE users SET hashed_password = $1, updated_at = now() WHERE email = $2 AND is_active = TRUE`,
		passwordHash, email)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errNotFound
	}

	_, err = tx.ExecContext(ctx, `UPDATE otps SET is_used = TRUE WHERE id = $1`, otpID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *postgresStorage) getTodos(userID int, completed *bool, skip, limit int) ([]todo, error) {
	query := `SELECT id, created_at, updated_at, user_id, title, description, completed
			  FROM todos
			  WHERE user_id = $1 AND ($2::boolean IS NULL OR completed = $2)
			  ORDER BY id
			  OFFSET $3 LIMIT $4`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, userID, completed, skip, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	todos := []todo{}
	for rows.Next() {
		var t todo
		err = rows.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.UserID, &t.Title, &t.Description, &t.Completed)
		if err != nil {
			return nil, err
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

func (s *postgresStorage) getTodo(userID, todoID int) (*todo, error) {
	query := `SELECT id, created_at, updated_at, user_id, title, description, completed
			  FROM todos
			  WHERE id = $1 AND user_id = $2`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := s.db.QueryRowContext(ctx, query, todoID, userID)
	var t todo
	err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.UserID, &t.Title, &t.Description, &t.Completed)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, nil
		default:
			return nil, err
		}
	}
	return &t, nil
}

func (s *postgresStorage) insertTodo(t *todo) error {
	query := `INSERT INTO todos (user_id, title, description, completed)
			  VALUES ($1, $2, $3, $4)
			  RETURNING id, created_at, updated_at`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := s.db.QueryRowContext(ctx, query, t.UserID, t.Title, t.Description, t.Completed)
	return row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (s *postgresStorage) updateTodo(t *todo) error {
	query := `UPDATE todos SET title = $1, description = $2, completed = $3, updated_at = now()
			  WHERE id = $4 AND user_id = $5
			  RETURNING updated_at`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := s.db.QueryRowContext(ctx, query, t.Title, t.Description, t.Completed, t.ID, t.UserID)
	err := row.Scan(&t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound
	}
	return err
}

func (s *postgresStorage) deleteTodo(userID, todoID int) error {
	query := `DELETE FROM todos
			  WHERE id = $1 AND user_id = $2`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := s.db.ExecContext(ctx, query, todoID, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errNotFound
	}
	return nil
}
