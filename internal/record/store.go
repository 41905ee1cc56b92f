package record

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/gdmirror/internal/db"
	"github.com/openmined/gdmirror/internal/entity"
	"github.com/openmined/gdmirror/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
    pk INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    kind TEXT NOT NULL CHECK (kind IN ('Local', 'Remote')),
    path TEXT NOT NULL,
    identifier TEXT,
    is_dir INTEGER NOT NULL,
    deleted INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL CHECK (status IN ('queued', 'synced', 'modified')),
    mime TEXT,
    content_hash TEXT,
    size INTEGER,
    created_at TEXT NOT NULL, -- RFC3339Nano
    content_modified_at TEXT NOT NULL,
    record_updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_path ON records(path);
CREATE INDEX IF NOT EXISTS idx_records_identifier ON records(identifier);
CREATE UNIQUE INDEX IF NOT EXISTS idx_records_natural_key ON records(path, is_dir, kind) WHERE deleted = 0;
`

var (
	ErrNotConnected = errors.New("record store not connected")
	ErrBadPattern   = errors.New("bad path pattern")
)

type Status string

const (
	StatusQueued   Status = "queued"
	StatusSynced   Status = "synced"
	StatusModified Status = "modified"
)

// Store is the durable table of previously seen entities. It also owns the
// two namespace roots used for mirror path arithmetic.
type Store struct {
	env        *entity.Env
	db         *sqlx.DB
	location   string
	localRoot  string
	remoteRoot string
	now        func() time.Time
}

var _ entity.Resolver = (*Store)(nil)

func New(env *entity.Env) *Store {
	return &Store{
		env: env,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Connect opens the database at location and remembers the roots. A second
// call on an open store does nothing.
func (s *Store) Connect(location, remoteRoot, localRoot string) error {
	if s.db != nil {
		return nil
	}

	conn, err := db.NewSqliteDB(db.WithPath(location))
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return fmt.Errorf("init record schema: %w", err)
	}

	s.db = conn
	s.location = location
	s.remoteRoot = rootPath(remoteRoot, "/")
	if !strings.HasPrefix(s.remoteRoot, "/") {
		s.remoteRoot = "/" + s.remoteRoot
	}
	s.localRoot = rootPath(localRoot, "")
	slog.Debug("record store connected", "path", location, "local", s.localRoot, "remote", s.remoteRoot)
	return nil
}

// Close releases the database. Closing a closed store is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close record store: %w", err)
	}
	slog.Debug("record store closed", "path", s.location)
	return nil
}

func (s *Store) Connected() bool {
	return s.db != nil
}

func (s *Store) LocalRoot() string { return s.localRoot }
func (s *Store) RemoteRoot() string { return s.remoteRoot }

// Root returns the root path of a namespace.
func (s *Store) Root(kind entity.Kind) string {
	if kind == entity.KindLocal {
		return s.localRoot
	}
	return s.remoteRoot
}

func (s *Store) conn() (*sqlx.DB, error) {
	if s.db == nil {
		return nil, ErrNotConnected
	}
	return s.db, nil
}

func rootPath(p, fallback string) string {
	p = utils.NormPath(p)
	if p == "" {
		return fallback
	}
	return p
}
