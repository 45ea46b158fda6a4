// Package db provides the Postgres-backed binding store: connection helpers,
// schema migration, and the narrow per-key record operations the scanners and
// the command surface run against.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/parlorworks/seatguard/crypto"
)

var (
	// encryptor protects stored account tokens at rest
	encryptor     crypto.Encryptor
	encryptorOnce sync.Once
	encryptorErr  error
)

// initEncryptor initializes the encryptor from ENCRYPTION_KEY. If unset,
// account tokens are stored in plaintext (token_encrypted = 0). Lazy, called
// on first store access.
func initEncryptor() {
	encryptorOnce.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("ENCRYPTION_KEY not set, account tokens will be stored in plaintext (not recommended for production)", slog.String("component", "db_encryption"))
			return
		}
		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			encryptorErr = fmt.Errorf("failed to initialize encryption: %w", err)
			slog.Error("encryption initialization failed", slog.Any("error", encryptorErr), slog.String("component", "db_encryption"))
			return
		}
		encryptor = enc
		slog.Info("account token encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"))
	})
}

func getEncryptor() (crypto.Encryptor, error) {
	initEncryptor()
	if encryptorErr != nil {
		return nil, encryptorErr
	}
	return encryptor, nil
}

// Connect opens a Postgres connection for the given DSN. The DSN comes from
// the config layer (DB_DSN with its documented default); an empty one is a
// wiring error, not something to paper over here.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty database DSN")
	}
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent embedded schema changes. Fallback path for
// deployments without the versioned migration files; see RunMigrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bindings (
			id SERIAL PRIMARY KEY,
			owner_id TEXT UNIQUE NOT NULL,
			account_token TEXT NOT NULL,
			token_encrypted INTEGER DEFAULT 0,
			monitoring_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			last_status TEXT NOT NULL DEFAULT 'unknown',
			locked BOOLEAN NOT NULL DEFAULT FALSE,
			lock_session_ref TEXT NOT NULL DEFAULT '',
			protection_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			notify_channel TEXT NOT NULL DEFAULT '',
			notify_user TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bindings_monitoring ON bindings(monitoring_enabled)`,
		`CREATE INDEX IF NOT EXISTS idx_bindings_locked ON bindings(locked)`,
		`CREATE INDEX IF NOT EXISTS idx_bindings_protection ON bindings(protection_enabled, locked)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}
