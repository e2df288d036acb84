package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/repository"
)

// Compile-time check that *DB implements repository.ResultCache.
var _ repository.ResultCache = (*DB)(nil)

// now is replaced in tests to move the clock.
var now = time.Now

// Get returns the live entry stored under key, or repository.ErrCacheMiss.
//
// Expired rows are treated as missing; PurgeExpired removes them later.
func (db *DB) Get(ctx context.Context, key string) (*executor.ExecutionResult, error) {
	var payload string
	err := db.conn.QueryRowContext(ctx,
		`SELECT payload FROM results WHERE key = ? AND expires_at > ?`,
		key, now().UnixMilli(),
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrCacheMiss
		}
		return nil, fmt.Errorf("sqlite: getting result %s: %w", key, err)
	}

	var res executor.ExecutionResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, fmt.Errorf("sqlite: decoding result %s: %w", key, err)
	}
	return &res, nil
}

// Put stores result under key for ttl, replacing any previous entry.
func (db *DB) Put(ctx context.Context, key, language string, result *executor.ExecutionResult, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("sqlite: encoding result: %w", err)
	}

	created := now()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO results (key, language, payload, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   language = excluded.language,
		   payload = excluded.payload,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at`,
		key,
		language,
		string(payload),
		created.UnixMilli(),
		created.Add(ttl).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: storing result %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes every expired entry.
func (db *DB) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM results WHERE expires_at <= ?`,
		now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purging results: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}
