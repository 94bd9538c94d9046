package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// LoadSessionState reads the persisted session state. Missing keys leave
// their fields zero; an empty table yields an empty state.
func (db *DB) LoadSessionState(ctx context.Context) (*SessionState, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM session_state`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	st := &SessionState{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		switch key {
		case KeyAnonymousUserID:
			st.AnonymousUserID = value
		case KeyAnonymousLoginTime:
			t, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", key, err)
			}
			st.AnonymousLoginTime = t
		case KeyDurableUserID:
			st.DurableUserID = value
		case KeyDevMode:
			st.DevMode, _ = strconv.ParseBool(value)
		}
	}
	return st, rows.Err()
}

// SaveSessionState replaces the persisted session state in one transaction.
// Zero fields are removed rather than stored.
func (db *DB) SaveSessionState(ctx context.Context, st *SessionState) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_state`); err != nil {
		return fmt.Errorf("clear session state: %w", err)
	}

	values := map[string]string{}
	if st.AnonymousUserID != "" {
		values[KeyAnonymousUserID] = st.AnonymousUserID
	}
	if !st.AnonymousLoginTime.IsZero() {
		values[KeyAnonymousLoginTime] = st.AnonymousLoginTime.UTC().Format(time.RFC3339Nano)
	}
	if st.DurableUserID != "" {
		values[KeyDurableUserID] = st.DurableUserID
	}
	if st.DevMode {
		values[KeyDevMode] = "true"
	}

	now := time.Now().UnixMilli()
	for key, value := range values {
		if err := upsertValue(ctx, tx, key, value, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ClearSessionState removes every persisted session key.
func (db *DB) ClearSessionState(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `DELETE FROM session_state`)
	return err
}

// getValue retrieves a single session_state value; ok is false if unset.
func (db *DB) getValue(ctx context.Context, key string) (value string, ok bool, err error) {
	err = db.QueryRowContext(ctx, `SELECT value FROM session_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertValue(ctx context.Context, ex execer, key, value string, now int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO session_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}
