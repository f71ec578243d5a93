package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"styleauth/internal/features"
	"styleauth/internal/model"
)

const defaultBusyTimeout = 5 * time.Second

// SQLiteStore keeps bundles, decisions and training runs in one database.
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
}

// OpenSQLite opens or creates the database at path, applies pending
// migrations and checks that every table exists. The file is restricted to
// its owner. sealer may be nil, in
// which case bundles are stored without tags and not verified.
func OpenSQLite(path string, sealer *Sealer, busyTimeout time.Duration) (*SQLiteStore, error) {
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("set database permissions: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := ValidateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("database %s: %w", path, err)
	}

	return &SQLiteStore{db: db, sealer: sealer}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// MigrationStatus reports applied and pending schema migrations.
func (s *SQLiteStore) MigrationStatus() (*MigrationStatus, error) {
	return GetMigrationStatus(s.db)
}

const upsertBundle = `
	INSERT INTO bundles (user_id, nu, gamma, schema_version, payload, hmac, trained_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, nu, gamma) DO UPDATE SET
		schema_version = excluded.schema_version,
		payload        = excluded.payload,
		hmac           = excluded.hmac,
		trained_at     = excluded.trained_at,
		updated_at     = excluded.updated_at`

func (s *SQLiteStore) bundleArgs(m *model.UserModel, now time.Time) ([]any, error) {
	payload, err := encodePayload(m)
	if err != nil {
		return nil, err
	}
	var tag []byte
	if s.sealer != nil {
		tag = s.sealer.Seal(payload)
	}
	return []any{m.UserID, m.Nu, m.Gamma, int(m.SchemaVersion), payload, tag, unixNano(m.TrainedAt), now.UnixNano()}, nil
}

// Save implements BundleStore.
func (s *SQLiteStore) Save(ctx context.Context, m *model.UserModel) error {
	args, err := s.bundleArgs(m, time.Now())
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertBundle, args...); err != nil {
		return fmt.Errorf("save bundle %q %s: %w", m.UserID, m.Key(), err)
	}
	return nil
}

// SaveAll implements BatchSaver with one transaction.
func (s *SQLiteStore) SaveAll(ctx context.Context, models []*model.UserModel) error {
	now := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bundle batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertBundle)
	if err != nil {
		return fmt.Errorf("prepare bundle batch: %w", err)
	}
	defer stmt.Close()

	for _, m := range models {
		args, err := s.bundleArgs(m, now)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("save bundle %q %s: %w", m.UserID, m.Key(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bundle batch: %w", err)
	}
	return nil
}

// Load implements model.Loader.
func (s *SQLiteStore) Load(ctx context.Context, userID string, k model.Key) (*model.UserModel, error) {
	var payload, tag []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload, hmac FROM bundles WHERE user_id = ? AND nu = ? AND gamma = ?",
		userID, k.Nu, k.Gamma,
	).Scan(&payload, &tag)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(userID, k)
		}
		return nil, fmt.Errorf("load bundle %q %s: %w", userID, k, err)
	}

	if s.sealer != nil {
		if err := s.sealer.Verify(payload, tag); err != nil {
			return nil, fmt.Errorf("bundle %q %s: %w", userID, k, err)
		}
	}
	m, err := decodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("bundle %q %s: %w", userID, k, err)
	}
	if err := checkIdentity(m, userID, k); err != nil {
		return nil, err
	}
	return m, nil
}

// Keys implements model.KeyLister.
func (s *SQLiteStore) Keys(ctx context.Context, userID string) ([]model.Key, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT nu, gamma FROM bundles WHERE user_id = ? ORDER BY nu, gamma", userID)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []model.Key
	for rows.Next() {
		var k model.Key
		if err := rows.Scan(&k.Nu, &k.Gamma); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Users implements BundleStore.
func (s *SQLiteStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT user_id FROM bundles ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Delete implements BundleStore.
func (s *SQLiteStore) Delete(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM bundles WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("delete bundles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// RecordDecision implements DecisionRecorder.
func (s *SQLiteStore) RecordDecision(ctx context.Context, r DecisionRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	var session any
	if r.SessionID != "" {
		session = r.SessionID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (user_id, session_id, outcome, decision, certainty, confidence, locked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, session, r.Outcome, r.Decision, r.Certainty, r.Confidence, r.Locked, r.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

// Decisions implements HistoryReader. A non-positive limit selects 100.
func (s *SQLiteStore) Decisions(ctx context.Context, userID string, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(session_id, ''), outcome, decision, certainty, COALESCE(confidence, 0), locked, created_at
		FROM decisions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		var created int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.SessionID, &r.Outcome, &r.Decision, &r.Certainty, &r.Confidence, &r.Locked, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		r.CreatedAt = time.Unix(0, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordTrainingRun implements TrainingRecorder.
func (s *SQLiteStore) RecordTrainingRun(ctx context.Context, r TrainingRun) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO training_runs (user_id, train_samples, test_samples, models, schema_version, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.TrainSamples, r.TestSamples, r.Models, int(r.SchemaVersion), r.Duration.Milliseconds(), r.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record training run: %w", err)
	}
	return nil
}

// TrainingRuns implements HistoryReader.
func (s *SQLiteStore) TrainingRuns(ctx context.Context, userID string) ([]TrainingRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, train_samples, test_samples, models, schema_version, duration_ms, created_at
		FROM training_runs WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query training runs: %w", err)
	}
	defer rows.Close()

	var out []TrainingRun
	for rows.Next() {
		var r TrainingRun
		var version int
		var durationMs, created int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.TrainSamples, &r.TestSamples, &r.Models, &version, &durationMs, &created); err != nil {
			return nil, fmt.Errorf("scan training run: %w", err)
		}
		r.SchemaVersion = features.Version(version)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.CreatedAt = time.Unix(0, created)
		out = append(out, r)
	}
	return out, rows.Err()
}
