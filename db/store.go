package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/parlorworks/seatguard/crypto"
	"github.com/parlorworks/seatguard/guard"
)

// Store implements guard.BindingStore on Postgres. All writes are narrow
// (specific fields by owner key); there are no cross-record transactions.
type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

const bindingCols = `owner_id, account_token, token_encrypted, monitoring_enabled, last_status, locked, lock_session_ref, protection_enabled, notify_channel, notify_user, COALESCE(updated_at, created_at)`

func scanBinding(row interface{ Scan(...any) error }) (*guard.Binding, error) {
	var b guard.Binding
	var tokenEnc int
	var updated sql.NullTime
	var status string
	err := row.Scan(&b.OwnerID, &b.AccountToken, &tokenEnc, &b.MonitoringEnabled, &status, &b.Locked, &b.LockSessionRef, &b.ProtectionEnabled, &b.Notify.Channel, &b.Notify.User, &updated)
	if err != nil {
		return nil, err
	}
	b.LastStatus = guard.Status(status)
	if updated.Valid {
		b.UpdatedAt = updated.Time
	}
	if tokenEnc == 1 {
		enc, encErr := getEncryptor()
		if encErr != nil {
			return nil, fmt.Errorf("get encryptor for decryption: %w", encErr)
		}
		if enc == nil {
			return nil, fmt.Errorf("account token is encrypted but ENCRYPTION_KEY not configured")
		}
		plain, decErr := crypto.DecryptString(enc, b.AccountToken)
		if decErr != nil {
			return nil, fmt.Errorf("decrypt account token: %w", decErr)
		}
		b.AccountToken = plain
	}
	return &b, nil
}

// Get returns the binding for an owner, or (nil, nil) when none exists.
func (s *Store) Get(ctx context.Context, ownerID string) (*guard.Binding, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+bindingCols+` FROM bindings WHERE owner_id=$1`, ownerID)
	b, err := scanBinding(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) list(ctx context.Context, where string, args ...any) ([]guard.Binding, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+bindingCols+` FROM bindings WHERE `+where+` ORDER BY owner_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []guard.Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ListMonitored returns bindings with monitoring enabled.
func (s *Store) ListMonitored(ctx context.Context) ([]guard.Binding, error) {
	return s.list(ctx, `monitoring_enabled`)
}

// ListLocked returns bindings currently holding a lock session.
func (s *Store) ListLocked(ctx context.Context) ([]guard.Binding, error) {
	return s.list(ctx, `locked`)
}

// ListProtectedUnlocked returns bindings eligible for the auto-relock scan.
func (s *Store) ListProtectedUnlocked(ctx context.Context) ([]guard.Binding, error) {
	return s.list(ctx, `protection_enabled AND NOT locked`)
}

// Create inserts a new binding for an owner. Fails if one already exists;
// re-binding goes through Delete first so a stale lock can't be orphaned
// silently.
func (s *Store) Create(ctx context.Context, b guard.Binding) error {
	token := b.AccountToken
	tokenEnc := 0
	enc, err := getEncryptor()
	if err != nil {
		return fmt.Errorf("get encryptor: %w", err)
	}
	if enc != nil {
		ct, err := crypto.EncryptString(enc, token)
		if err != nil {
			return fmt.Errorf("encrypt account token: %w", err)
		}
		token = ct
		tokenEnc = 1
	}
	status := b.LastStatus
	if status == "" {
		status = guard.StatusUnknown
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO bindings
		(owner_id, account_token, token_encrypted, monitoring_enabled, last_status, locked, lock_session_ref, protection_enabled, notify_channel, notify_user, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())`,
		b.OwnerID, token, tokenEnc, b.MonitoringEnabled, string(status), b.Locked, b.LockSessionRef, b.ProtectionEnabled, b.Notify.Channel, b.Notify.User)
	return err
}

// Delete removes the binding for an owner. Missing rows are not an error.
func (s *Store) Delete(ctx context.Context, ownerID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM bindings WHERE owner_id=$1`, ownerID)
	return err
}

// SetLastStatus persists the latest observed login state.
func (s *Store) SetLastStatus(ctx context.Context, ownerID string, status guard.Status) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE bindings SET last_status=$1, updated_at=NOW() WHERE owner_id=$2`, string(status), ownerID)
	return err
}

// SetMonitoring flips monitoring for an owner. Enabling resets last_status to
// unknown so the next scan records a fresh baseline instead of notifying on
// stale state, and captures the notification target of the enabling session.
func (s *Store) SetMonitoring(ctx context.Context, ownerID string, enabled bool, target guard.Target) error {
	if enabled {
		_, err := s.DB.ExecContext(ctx, `UPDATE bindings SET monitoring_enabled=TRUE, last_status='unknown', notify_channel=$1, notify_user=$2, updated_at=NOW() WHERE owner_id=$3`,
			target.Channel, target.User, ownerID)
		return err
	}
	_, err := s.DB.ExecContext(ctx, `UPDATE bindings SET monitoring_enabled=FALSE, updated_at=NOW() WHERE owner_id=$1`, ownerID)
	return err
}

// SetProtection flips protection mode. Independent of lock state; survives
// lock and unlock.
func (s *Store) SetProtection(ctx context.Context, ownerID string, enabled bool, target guard.Target) error {
	if enabled {
		_, err := s.DB.ExecContext(ctx, `UPDATE bindings SET protection_enabled=TRUE, notify_channel=$1, notify_user=$2, updated_at=NOW() WHERE owner_id=$3`,
			target.Channel, target.User, ownerID)
		return err
	}
	_, err := s.DB.ExecContext(ctx, `UPDATE bindings SET protection_enabled=FALSE, updated_at=NOW() WHERE owner_id=$1`, ownerID)
	return err
}

// SetLock marks the binding locked and forces monitoring off in the same
// statement: a self-held session must never also be flagged for drift
// monitoring, or the monitor would report our own lock as a login.
func (s *Store) SetLock(ctx context.Context, ownerID, sessionRef string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE bindings SET locked=TRUE, lock_session_ref=$1, monitoring_enabled=FALSE, updated_at=NOW() WHERE owner_id=$2`, sessionRef, ownerID)
	return err
}

// SetUnlocked clears the lock; protection_enabled is untouched.
func (s *Store) SetUnlocked(ctx context.Context, ownerID string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE bindings SET locked=FALSE, lock_session_ref='', updated_at=NOW() WHERE owner_id=$1`, ownerID)
	return err
}

// SetLockSession replaces the stored lock session ref (server-side rotation).
func (s *Store) SetLockSession(ctx context.Context, ownerID, sessionRef string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE bindings SET lock_session_ref=$1, updated_at=NOW() WHERE owner_id=$2`, sessionRef, ownerID)
	return err
}

// Heartbeat records the last run time of a scanner in the kv table, surfaced
// by the /status endpoint.
func (s *Store) Heartbeat(ctx context.Context, scanner string) {
	_, _ = s.DB.ExecContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
		"scanner_"+scanner+"_last", time.Now().UTC().Format(time.RFC3339))
}

// GetFlag reads a persistent feature flag from kv; empty string when unset.
func (s *Store) GetFlag(ctx context.Context, key string) (string, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// SetFlag writes a persistent feature flag to kv.
func (s *Store) SetFlag(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES ($1,$2,NOW())
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, value)
	return err
}
