// Package sqlstore persists units of work in SQLite. The optimistic version
// check is a UNIQUE(aggregate_id, version) constraint: the losing writer of
// a race gets a constraint violation, reported as store.ErrVersionConflict.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/alekseev-bro/sourcing/internal/serde"
	"github.com/alekseev-bro/sourcing/internal/typereg"
	"github.com/alekseev-bro/sourcing/pkg/codec"
	"github.com/alekseev-bro/sourcing/pkg/domain"
	"github.com/alekseev-bro/sourcing/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS units_of_work (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  uow_id TEXT NOT NULL UNIQUE,
  aggregate_id TEXT NOT NULL,
  version INTEGER NOT NULL,
  envelope BLOB NOT NULL,
  created_at INTEGER NOT NULL,
  UNIQUE (aggregate_id, version)
);
CREATE TABLE IF NOT EXISTS snapshots (
  aggregate_id TEXT PRIMARY KEY,
  version INTEGER NOT NULL,
  state BLOB NOT NULL,
  updated_at INTEGER NOT NULL
);
`

type eventSerder[T any] interface {
	Serialize(domain.Event[T]) ([]byte, error)
	Deserialize(string, []byte) (domain.Event[T], error)
}

type typeRegistry interface {
	Register(tname string, c func() any)
	Create(name string) (any, error)
	NameFor(in any) (string, error)
}

type Store[T any] struct {
	sqlDB *sql.DB

	snapThreshold int
	snapInterval  time.Duration

	eventRegistry typeRegistry
	eventSerder   eventSerder[T]
	snapshotCodec codec.Codec
}

// Open opens (creating if needed) a SQLite-backed store at path.
func Open[T any](path string, opts ...Option[T]) (*Store[T], error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlstore: storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: apply schema: %w", err)
	}

	reg := typereg.New()
	s := &Store[T]{
		sqlDB:         sqlDB,
		snapThreshold: 100,
		snapInterval:  time.Second,
		eventRegistry: reg,
		eventSerder:   serde.NewSerder[domain.Event[T]](reg, codec.JSON),
		snapshotCodec: codec.JSON,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store[T]) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append inserts the unit of work as one row. The insert only fires when
// the unit of work's version is exactly one past the aggregate's stored
// maximum, so stale writers and gapped versions are both rejected; a
// duplicate uow_id means this unit of work is already committed and its
// original sequence is returned.
func (s *Store[T]) Append(ctx context.Context, uow *domain.UnitOfWork[T]) (uint64, error) {
	envelope, err := s.encodeEnvelope(uow)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: append: %w", err)
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO units_of_work (uow_id, aggregate_id, version, envelope, created_at)
		 SELECT ?, ?, ?, ?, ?
		 WHERE ? = 1 + COALESCE((SELECT MAX(version) FROM units_of_work WHERE aggregate_id = ?), 0)`,
		uow.ID.String(),
		uow.TargetID().String(),
		uint64(uow.Version),
		envelope,
		time.Now().UTC().UnixMilli(),
		uint64(uow.Version),
		uow.TargetID().String(),
	)
	if err != nil && !isUniqueViolation(err) {
		return 0, fmt.Errorf("sqlstore: append: %w", err)
	}
	if err == nil {
		if n, aerr := res.RowsAffected(); aerr != nil {
			return 0, fmt.Errorf("sqlstore: append: %w", aerr)
		} else if n == 1 {
			seq, lerr := res.LastInsertId()
			if lerr != nil {
				return 0, fmt.Errorf("sqlstore: append: %w", lerr)
			}
			return uint64(seq), nil
		}
	}

	var seq uint64
	qerr := s.sqlDB.QueryRowContext(ctx,
		`SELECT seq FROM units_of_work WHERE uow_id = ?`, uow.ID.String()).Scan(&seq)
	if qerr == nil {
		return seq, nil
	}
	if !errors.Is(qerr, sql.ErrNoRows) {
		return 0, fmt.Errorf("sqlstore: append: %w", qerr)
	}
	return 0, fmt.Errorf("sqlstore: append %s at %d: %w", uow.TargetID(), uow.Version, store.ErrVersionConflict)
}

// LoadLatest reads the stored snapshot, replays newer units of work and
// refreshes the snapshot write-behind when enough replay work accumulated.
func (s *Store[T]) LoadLatest(ctx context.Context, id domain.AggregateID) (domain.Snapshot[T], error) {
	snap := domain.EmptySnapshot[T]()
	var updatedAt int64

	var state []byte
	var version uint64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT version, state, updated_at FROM snapshots WHERE aggregate_id = ?`, id.String()).
		Scan(&version, &state, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return domain.Snapshot[T]{}, fmt.Errorf("sqlstore: load snapshot: %w", err)
	default:
		if err := s.snapshotCodec.Unmarshal(state, snap.State); err != nil {
			return domain.Snapshot[T]{}, fmt.Errorf("sqlstore: decode snapshot: %w", err)
		}
		snap.Version = domain.Version(version)
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT envelope FROM units_of_work
		 WHERE aggregate_id = ? AND version > ?
		 ORDER BY version ASC`,
		id.String(), uint64(snap.Version))
	if err != nil {
		return domain.Snapshot[T]{}, fmt.Errorf("sqlstore: load: %w", err)
	}
	defer rows.Close()

	replayed := 0
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return domain.Snapshot[T]{}, fmt.Errorf("sqlstore: load: %w", err)
		}
		envel, events, err := s.decodeEnvelope(raw)
		if err != nil {
			return domain.Snapshot[T]{}, fmt.Errorf("sqlstore: replay: %w", err)
		}
		events.Apply(snap.State)
		snap.Version = domain.Version(envel.Version)
		replayed++
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot[T]{}, fmt.Errorf("sqlstore: load: %w", err)
	}

	if replayed >= s.snapThreshold && time.Since(time.UnixMilli(updatedAt)) > s.snapInterval {
		go s.saveSnapshot(ctx, id, snap)
	}

	return snap, nil
}

func (s *Store[T]) saveSnapshot(ctx context.Context, id domain.AggregateID, snap domain.Snapshot[T]) {
	b, err := s.snapshotCodec.Marshal(snap.State)
	if err != nil {
		slog.Warn("snapshot save serialization", "error", err.Error())
		return
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_id, version, state, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (aggregate_id) DO UPDATE SET
		   version = excluded.version,
		   state = excluded.state,
		   updated_at = excluded.updated_at`,
		id.String(), uint64(snap.Version), b, time.Now().UTC().UnixMilli())
	if err != nil {
		slog.Error("snapshot save", "error", err.Error())
		return
	}
	slog.Info("snapshot saved", "version", snap.Version, "aggregate_id", id)
}

func (s *Store[T]) encodeEnvelope(uow *domain.UnitOfWork[T]) ([]byte, error) {
	records := make([]store.EventRecord, len(uow.Events))
	for i, ev := range uow.Events {
		kind, err := s.eventRegistry.NameFor(ev)
		if err != nil {
			return nil, err
		}
		b, err := s.eventSerder.Serialize(ev)
		if err != nil {
			return nil, err
		}
		records[i] = store.EventRecord{Kind: kind, Payload: b}
	}
	return s.snapshotCodec.Marshal(store.Envelope{
		UnitOfWorkID: uow.ID.String(),
		CommandID:    uow.Command.CommandID().String(),
		AggregateID:  uow.TargetID().String(),
		Version:      uint64(uow.Version),
		Events:       records,
	})
}

func (s *Store[T]) decodeEnvelope(b []byte) (*store.Envelope, domain.Events[T], error) {
	var envel store.Envelope
	if err := s.snapshotCodec.Unmarshal(b, &envel); err != nil {
		return nil, nil, err
	}
	events := make(domain.Events[T], len(envel.Events))
	for i, rec := range envel.Events {
		ev, err := s.eventSerder.Deserialize(rec.Kind, rec.Payload)
		if err != nil {
			return nil, nil, err
		}
		events[i] = ev
	}
	return &envel, events, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
