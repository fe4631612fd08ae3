package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"worldsync.dev/internal/persistence/snapshot"
	"worldsync.dev/internal/sim/arena"
	"worldsync.dev/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index over the edit stream and the
// snapshot catalog. All writes go through a single goroutine; enqueue never
// blocks the ingest path.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqEdit reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	edit     arena.EditLogEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	TakenAt  uint64
	Path     string
	Version  uint16
	Entities int
	Bytes    int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: edit bursts from a catch-up replay must not stall ingest.
		ch: make(chan req, 262144),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS edits (
			entity_id TEXT NOT NULL,
			edited_at INTEGER NOT NULL,
			source TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			PRIMARY KEY (entity_id, edited_at)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_edited_at ON edits(edited_at);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_source ON edits(source, edited_at);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			taken_at INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			protocol_version INTEGER NOT NULL,
			entities INTEGER NOT NULL,
			bytes INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// IndexEdit implements arena.EditIndexer.
func (s *SQLiteIndex) IndexEdit(entry arena.EditLogEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEdit, edit: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
	}
}

// RecordSnapshot catalogs a written snapshot file.
func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		TakenAt:  snap.Header.TakenAt,
		Path:     path,
		Version:  snap.ProtocolVersion,
		Entities: snap.Header.Entities,
		Bytes:    len(snap.Records),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
	}
}

// RecordTuning stores the applied tuning values with a content digest, so a
// replay can verify it runs under the same parameters.
func (s *SQLiteIndex) RecordTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, _ := json.Marshal(tune)
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_json',?)`, string(b)); err != nil {
		return err
	}
	return tx.Commit()
}

// EditCount returns the number of indexed edits for one entity id.
func (s *SQLiteIndex) EditCount(entityID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM edits WHERE entity_id = ?`, entityID).Scan(&n)
	return n, err
}

// LatestSnapshot returns the path of the most recent cataloged snapshot.
func (s *SQLiteIndex) LatestSnapshot() (string, error) {
	var path string
	err := s.db.QueryRow(`SELECT path FROM snapshots ORDER BY taken_at DESC LIMIT 1`).Scan(&path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return path, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEdit, _ := s.db.Prepare(`INSERT OR REPLACE INTO edits(entity_id,edited_at,source,bytes) VALUES(?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(taken_at,path,protocol_version,entities,bytes) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertEdit != nil {
			_ = insertEdit.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEdit:
			e := r.edit
			if insertEdit != nil {
				if _, err := tx.Stmt(insertEdit).Exec(
					e.EntityID.String(),
					int64(e.EditedAt),
					e.Source.String(),
					e.Bytes,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.TakenAt),
					sn.Path,
					int(sn.Version),
					sn.Entities,
					sn.Bytes,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
