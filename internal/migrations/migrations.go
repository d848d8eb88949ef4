package migrations

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const mysqlUsersTable = `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    username VARCHAR(64) NOT NULL COLLATE utf8mb4_bin,
    roll_number VARCHAR(32) NULL,
    gender VARCHAR(16) NULL,
    email VARCHAR(255) NULL,
    phone_number VARCHAR(32) NULL,
    password VARCHAR(255) NOT NULL,
    role TINYINT NOT NULL DEFAULT 0,
    UNIQUE KEY uq_users_username (username),
    UNIQUE KEY uq_users_roll_number (roll_number)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const sqliteUsersTable = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL UNIQUE,
    roll_number TEXT UNIQUE,
    gender TEXT,
    email TEXT,
    phone_number TEXT,
    password TEXT NOT NULL,
    role INTEGER NOT NULL DEFAULT 0
)`

// Run creates the users table if it does not exist yet. The DDL is picked
// from the driver the pool was opened with.
func Run(ctx context.Context, db *sqlx.DB) error {
	var stmt string
	switch db.DriverName() {
	case "mysql":
		stmt = mysqlUsersTable
	case "sqlite":
		stmt = sqliteUsersTable
	default:
		return fmt.Errorf("migrations: unsupported driver %q", db.DriverName())
	}

	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migrations: create users table: %w", err)
	}
	return nil
}
