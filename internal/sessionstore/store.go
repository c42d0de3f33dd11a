// Package sessionstore persists a durable index of known sessions and
// their sidecar paths (spec.md SPEC_FULL §B, C10) so the runtime can
// resume sessions across process restarts without holding conversation
// content in SQL: only rollout/sidecar paths and lifecycle metadata
// live here, exactly as the teacher's persistence layer separates its
// durable index from bulk content.
package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/crabmiau/loaf/internal/compaction"
	"github.com/crabmiau/loaf/internal/db"
	"github.com/crabmiau/loaf/internal/loaferr"
	"github.com/crabmiau/loaf/internal/process"
)

// Record is one tracked session's durable metadata.
type Record struct {
	ID            string    `db:"id"`
	Name          string    `db:"name"`
	RolloutPath   string    `db:"rollout_path"`
	WorkingDir    string    `db:"working_dir"`
	Provider      string    `db:"provider"`
	CreatedAtISO  string    `db:"created_at_iso"`
	UpdatedAtISO  string    `db:"updated_at_iso"`
	LastAnchor    int       `db:"last_anchor_event_index"`
	AnchorUpdated time.Time `db:"-"`
}

// Store is the sqlx-backed session index.
type Store struct {
	pool *db.Pool
}

// New wraps an already-opened Pool. Callers build the Pool with db.NewPool
// from db.OpenSQLite/db.OpenPostgres connections, matching the writer/reader split the
// teacher's db package establishes for WAL-mode SQLite.
func New(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                      TEXT PRIMARY KEY,
	name                    TEXT NOT NULL DEFAULT '',
	rollout_path            TEXT NOT NULL,
	working_dir             TEXT NOT NULL DEFAULT '',
	provider                TEXT NOT NULL DEFAULT '',
	created_at_iso          TEXT NOT NULL,
	updated_at_iso          TEXT NOT NULL,
	last_anchor_event_index INTEGER NOT NULL DEFAULT 0
);
`

// Migrate creates the sessions table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Writer().ExecContext(ctx, schema); err != nil {
		return loaferr.Wrap(loaferr.StorageError, "migrating session index", err)
	}
	return nil
}

// Upsert records or updates a session's durable metadata.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	now := time.Now().UTC().Format(time.RFC3339)
	rec.UpdatedAtISO = now
	if rec.CreatedAtISO == "" {
		rec.CreatedAtISO = now
	}
	_, err := s.pool.Writer().NamedExecContext(ctx, `
		INSERT INTO sessions (id, name, rollout_path, working_dir, provider, created_at_iso, updated_at_iso, last_anchor_event_index)
		VALUES (:id, :name, :rollout_path, :working_dir, :provider, :created_at_iso, :updated_at_iso, :last_anchor_event_index)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			rollout_path = excluded.rollout_path,
			working_dir = excluded.working_dir,
			provider = excluded.provider,
			updated_at_iso = excluded.updated_at_iso,
			last_anchor_event_index = excluded.last_anchor_event_index
	`, rec)
	if err != nil {
		return loaferr.Wrap(loaferr.StorageError, "upserting session record", err)
	}
	return nil
}

// Get loads a session's durable record by id.
func (s *Store) Get(ctx context.Context, id string) (Record, bool, error) {
	var rec Record
	err := s.pool.Reader().GetContext(ctx, &rec, `SELECT * FROM sessions WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, loaferr.Wrap(loaferr.StorageError, "loading session record", err)
	}
	return rec, true, nil
}

// List returns every tracked session, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var recs []Record
	err := s.pool.Reader().SelectContext(ctx, &recs, `SELECT * FROM sessions ORDER BY updated_at_iso DESC`)
	if err != nil {
		return nil, loaferr.Wrap(loaferr.StorageError, "listing session records", err)
	}
	return recs, nil
}

// Delete removes a session's durable record (the sidecars themselves are
// left on disk; callers prune those separately).
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Writer().ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return loaferr.Wrap(loaferr.StorageError, "deleting session record", err)
	}
	return nil
}

// RecordStart implements process.SessionRecorder: a newly started
// background shell session is upserted into the index with an empty
// rollout path (shell sessions have no transcript of their own).
func (s *Store) RecordStart(ctx context.Context, info process.Info) error {
	return s.Upsert(ctx, Record{
		ID:         info.ID,
		Name:       info.Name,
		WorkingDir: info.WorkingDir,
		Provider:   "shell:" + info.ShellTag,
	})
}

// RecordExit implements process.SessionRecorder: an exited shell session
// is removed; its OS process cannot be resumed.
func (s *Store) RecordExit(ctx context.Context, info process.Info) error {
	return s.Delete(ctx, info.ID)
}

// Reconcile is called once at startup: shell-session records left behind
// by a previous run are pruned (their processes died with that run), and
// conversation-session records with a rollout path are returned for the
// caller to resume from their compaction sidecars.
func (s *Store) Reconcile(ctx context.Context) (resumable []Record, err error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.RolloutPath == "" {
			if err := s.Delete(ctx, rec.ID); err != nil {
				return nil, err
			}
			continue
		}
		resumable = append(resumable, rec)
	}
	return resumable, nil
}

// SidecarPaths resolves the compaction sidecars for a tracked session.
func (s *Store) SidecarPaths(ctx context.Context, id string) (compaction.SidecarPaths, error) {
	rec, ok, err := s.Get(ctx, id)
	if err != nil {
		return compaction.SidecarPaths{}, err
	}
	if !ok {
		return compaction.SidecarPaths{}, loaferr.New(loaferr.NotFound, fmt.Sprintf("unknown session: %s", id))
	}
	return compaction.DeriveSidecarPaths(rec.RolloutPath), nil
}
