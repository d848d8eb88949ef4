package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"studentportal/backend/internal/model"
)

var (
	ErrDuplicateUser = errors.New("user already exists")
	ErrUserNotFound  = errors.New("user not found")
)

const mysqlDuplicateEntry = 1062

type CreateUserInput struct {
	Username     string
	RollNumber   *string
	Gender       *string
	Email        *string
	PhoneNumber  *string
	PasswordHash string
	Role         model.Role
}

type UserRepository interface {
	CreateUser(ctx context.Context, input CreateUserInput) (int64, error)
	FindByUsername(ctx context.Context, username string) (model.User, error)
	FindByID(ctx context.Context, id int64) (model.User, error)
	ListByRole(ctx context.Context, role model.Role) ([]model.User, error)
	CountByRole(ctx context.Context, role model.Role) (int, error)
	UpdateRole(ctx context.Context, id int64, role model.Role) error
}

type SQLUserRepository struct {
	db           *sqlx.DB
	queryTimeout time.Duration
}

func NewSQLUserRepository(db *sqlx.DB, queryTimeout time.Duration) *SQLUserRepository {
	return &SQLUserRepository{db: db, queryTimeout: queryTimeout}
}

const insertUserSQL = `
INSERT INTO users (username, roll_number, gender, email, phone_number, password, role)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

const findUserByUsernameSQL = `
SELECT id, username, password, role
FROM users
WHERE username = ?
LIMIT 1
`

const findUserByIDSQL = `
SELECT id, username, roll_number, gender, email, phone_number, role
FROM users
WHERE id = ?
LIMIT 1
`

const listUsersByRoleSQL = `
SELECT id, username, roll_number, gender, email, phone_number, role
FROM users
WHERE role = ?
ORDER BY id
`

const countUsersByRoleSQL = `SELECT COUNT(1) FROM users WHERE role = ?`

const updateUserRoleSQL = `UPDATE users SET role = ? WHERE id = ?`

type userRow struct {
	ID          int64          `db:"id"`
	Username    string         `db:"username"`
	RollNumber  sql.NullString `db:"roll_number"`
	Gender      sql.NullString `db:"gender"`
	Email       sql.NullString `db:"email"`
	PhoneNumber sql.NullString `db:"phone_number"`
	Password    string         `db:"password"`
	Role        int            `db:"role"`
}

func (r userRow) toModel() model.User {
	return model.User{
		ID:           r.ID,
		Username:     r.Username,
		RollNumber:   nullableString(r.RollNumber),
		Gender:       nullableString(r.Gender),
		Email:        nullableString(r.Email),
		PhoneNumber:  nullableString(r.PhoneNumber),
		PasswordHash: r.Password,
		Role:         model.Role(r.Role),
	}
}

// CreateUser inserts one row and returns its generated id. Writes are
// not bounded by the read timeout.
func (r *SQLUserRepository) CreateUser(ctx context.Context, input CreateUserInput) (int64, error) {
	res, err := r.db.ExecContext(ctx, insertUserSQL,
		input.Username,
		input.RollNumber,
		input.Gender,
		input.Email,
		input.PhoneNumber,
		input.PasswordHash,
		int(input.Role),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return 0, ErrDuplicateUser
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted user id: %w", err)
	}
	return id, nil
}

func (r *SQLUserRepository) FindByUsername(ctx context.Context, username string) (model.User, error) {
	ctx, cancel := r.readContext(ctx)
	defer cancel()

	var row userRow
	if err := r.db.GetContext(ctx, &row, findUserByUsernameSQL, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("find user by username: %w", err)
	}
	return row.toModel(), nil
}

func (r *SQLUserRepository) FindByID(ctx context.Context, id int64) (model.User, error) {
	ctx, cancel := r.readContext(ctx)
	defer cancel()

	var row userRow
	if err := r.db.GetContext(ctx, &row, findUserByIDSQL, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("find user by id: %w", err)
	}
	return row.toModel(), nil
}

func (r *SQLUserRepository) ListByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	ctx, cancel := r.readContext(ctx)
	defer cancel()

	var rows []userRow
	if err := r.db.SelectContext(ctx, &rows, listUsersByRoleSQL, int(role)); err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}

	users := make([]model.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toModel())
	}
	return users, nil
}

func (r *SQLUserRepository) CountByRole(ctx context.Context, role model.Role) (int, error) {
	ctx, cancel := r.readContext(ctx)
	defer cancel()

	var n int
	if err := r.db.GetContext(ctx, &n, countUsersByRoleSQL, int(role)); err != nil {
		return 0, fmt.Errorf("count users by role: %w", err)
	}
	return n, nil
}

func (r *SQLUserRepository) UpdateRole(ctx context.Context, id int64, role model.Role) error {
	res, err := r.db.ExecContext(ctx, updateUserRoleSQL, int(role), id)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *SQLUserRepository) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// isDuplicateKey is the only place driver-specific error codes are read.
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
		}
	}
	return false
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
