package record

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/gdmirror/internal/entity"
	"github.com/openmined/gdmirror/internal/utils"
)

// Record is the persisted projection of an entity.
type Record struct {
	PK                int64
	Name              string
	Kind              entity.Kind
	Path              string
	Identifier        string
	IsDir             bool
	Deleted           bool
	Status            Status
	Mime              string
	ContentHash       string
	Size              int64
	CreatedAt         time.Time
	ContentModifiedAt time.Time
	UpdatedAt         time.Time
}

// dbRecord mirrors the table; timestamps are stored as text.
type dbRecord struct {
	PK                int64          `db:"pk"`
	Name              string         `db:"name"`
	Kind              string         `db:"kind"`
	Path              string         `db:"path"`
	Identifier        sql.NullString `db:"identifier"`
	IsDir             bool           `db:"is_dir"`
	Deleted           bool           `db:"deleted"`
	Status            string         `db:"status"`
	Mime              sql.NullString `db:"mime"`
	ContentHash       sql.NullString `db:"content_hash"`
	Size              sql.NullInt64  `db:"size"`
	CreatedAt         string         `db:"created_at"`
	ContentModifiedAt string         `db:"content_modified_at"`
	UpdatedAt         string         `db:"record_updated_at"`
}

const selectColumns = `pk, name, kind, path, identifier, is_dir, deleted, status, mime, content_hash, size,
	created_at, content_modified_at, record_updated_at`

const naturalKey = `path = ? AND is_dir = ? AND kind = ? AND deleted = 0`

func (r *dbRecord) toRecord() (*Record, error) {
	kind, err := entity.ParseKind(r.Kind)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		PK:          r.PK,
		Name:        r.Name,
		Kind:        kind,
		Path:        r.Path,
		Identifier:  r.Identifier.String,
		IsDir:       r.IsDir,
		Deleted:     r.Deleted,
		Status:      Status(r.Status),
		Mime:        r.Mime.String,
		ContentHash: r.ContentHash.String,
		Size:        r.Size.Int64,
	}
	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&rec.CreatedAt, r.CreatedAt},
		{&rec.ContentModifiedAt, r.ContentModifiedAt},
		{&rec.UpdatedAt, r.UpdatedAt},
	} {
		t, err := time.Parse(time.RFC3339Nano, f.src)
		if err != nil {
			return nil, fmt.Errorf("parse stored timestamp for %s: %w", r.Path, err)
		}
		*f.dst = t
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// fromEntity snapshots the live entity into a row. Hash failures are
// stored as a missing hash.
func (s *Store) fromEntity(e entity.Entity, status Status) (*dbRecord, error) {
	dir, err := e.IsDir()
	if err != nil {
		return nil, err
	}
	if err := e.ResolvePath(); err != nil {
		return nil, err
	}

	now := formatTime(s.now())
	row := &dbRecord{
		Name:              e.Name(),
		Kind:              string(e.Kind()),
		Path:              e.Path(),
		Identifier:        nullString(e.ID()),
		IsDir:             dir,
		Status:            string(status),
		Mime:              nullString(e.MimeType()),
		CreatedAt:         now,
		ContentModifiedAt: formatTime(e.ModifiedTime()),
		UpdatedAt:         now,
	}
	if !dir {
		hash, err := e.ContentHash()
		if err != nil {
			slog.Warn("record without content hash", "entity", entity.String(e), "error", err)
		}
		row.ContentHash = nullString(hash)
		row.Size = sql.NullInt64{Int64: e.Size(), Valid: true}
	}
	return row, nil
}

func keyArgs(e entity.Entity) ([]any, error) {
	dir, err := e.IsDir()
	if err != nil {
		return nil, err
	}
	if err := e.ResolvePath(); err != nil {
		return nil, err
	}
	return []any{e.Path(), dir, string(e.Kind())}, nil
}

// Add inserts a record for e unless an active one already holds its
// natural key. It never overwrites and reports whether a row was inserted.
func (s *Store) Add(e entity.Entity) (bool, error) {
	conn, err := s.conn()
	if err != nil {
		return false, err
	}
	row, err := s.fromEntity(e, StatusSynced)
	if err != nil {
		return false, err
	}

	res, err := conn.NamedExec(`INSERT OR IGNORE INTO records
		(name, kind, path, identifier, is_dir, deleted, status, mime, content_hash, size, created_at, content_modified_at, record_updated_at)
		VALUES (:name, :kind, :path, :identifier, :is_dir, 0, :status, :mime, :content_hash, :size, :created_at, :content_modified_at, :record_updated_at)`, row)
	if err != nil {
		return false, fmt.Errorf("add record %s: %w", row.Path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		utils.Trace("record added", "kind", row.Kind, "path", row.Path)
	}
	return n > 0, nil
}

// Update inserts the record or refreshes its content fields, marking it synced.
func (s *Store) Update(e entity.Entity) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}
	row, err := s.fromEntity(e, StatusSynced)
	if err != nil {
		return err
	}

	_, err = conn.NamedExec(`INSERT INTO records
		(name, kind, path, identifier, is_dir, deleted, status, mime, content_hash, size, created_at, content_modified_at, record_updated_at)
		VALUES (:name, :kind, :path, :identifier, :is_dir, 0, :status, :mime, :content_hash, :size, :created_at, :content_modified_at, :record_updated_at)
		ON CONFLICT (path, is_dir, kind) WHERE deleted = 0 DO UPDATE SET
			name = excluded.name,
			identifier = excluded.identifier,
			status = excluded.status,
			mime = excluded.mime,
			content_hash = excluded.content_hash,
			size = excluded.size,
			content_modified_at = excluded.content_modified_at,
			record_updated_at = excluded.record_updated_at`, row)
	if err != nil {
		return fmt.Errorf("update record %s: %w", row.Path, err)
	}
	return nil
}

// Remove soft-deletes the active record of e, if any.
func (s *Store) Remove(e entity.Entity) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}
	args, err := keyArgs(e)
	if err != nil {
		return err
	}

	_, err = conn.Exec(`UPDATE records SET deleted = 1, status = ?, record_updated_at = ? WHERE `+naturalKey,
		append([]any{string(StatusSynced), formatTime(s.now())}, args...)...)
	if err != nil {
		return fmt.Errorf("remove record %s: %w", e.Path(), err)
	}
	return nil
}

// SetStatus changes the status of e's active record, if any.
func (s *Store) SetStatus(e entity.Entity, status Status) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}
	args, err := keyArgs(e)
	if err != nil {
		return err
	}
	_, err = conn.Exec(`UPDATE records SET status = ?, record_updated_at = ? WHERE `+naturalKey,
		append([]any{string(status), formatTime(s.now())}, args...)...)
	if err != nil {
		return fmt.Errorf("set status %s: %w", e.Path(), err)
	}
	return nil
}

// Get returns the active record for e's natural key, or nil.
func (s *Store) Get(e entity.Entity) (*Record, error) {
	args, err := keyArgs(e)
	if err != nil {
		return nil, err
	}
	return s.getOne(`SELECT `+selectColumns+` FROM records WHERE `+naturalKey, args...)
}

// History returns every record, deleted or not, ever stored at e's path
// and type, newest first.
func (s *Store) History(e entity.Entity) ([]*Record, error) {
	args, err := keyArgs(e)
	if err != nil {
		return nil, err
	}
	return s.selectMany(`SELECT `+selectColumns+` FROM records WHERE path = ? AND is_dir = ? AND kind = ? ORDER BY pk DESC`, args...)
}

func (s *Store) FileExists(e entity.Entity) (bool, error) {
	rec, err := s.Get(e)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// GetFileAsDB materializes the stored record of e as a comparable entity.
func (s *Store) GetFileAsDB(e entity.Entity) (entity.Entity, error) {
	rec, err := s.Get(e)
	if err != nil || rec == nil {
		return nil, err
	}
	return s.toEntity(rec), nil
}

func (s *Store) GetRecordByID(id string) (*Record, error) {
	return s.getOne(`SELECT `+selectColumns+` FROM records WHERE identifier = ? AND deleted = 0 ORDER BY pk DESC LIMIT 1`, id)
}

func (s *Store) GetFileByID(id string) (entity.Entity, error) {
	rec, err := s.GetRecordByID(id)
	if err != nil || rec == nil {
		return nil, err
	}
	return s.toEntity(rec), nil
}

// GetAllLocal returns every active local record as a live entity. Missing
// files come back with Exists false.
func (s *Store) GetAllLocal() ([]entity.Entity, error) {
	recs, err := s.selectMany(`SELECT `+selectColumns+` FROM records WHERE kind = ? AND deleted = 0 ORDER BY path`, string(entity.KindLocal))
	if err != nil {
		return nil, err
	}

	out := make([]entity.Entity, 0, len(recs))
	for _, rec := range recs {
		l := s.env.NewLocal(rec.attrs())
		if err := l.Refresh(); err != nil {
			slog.Warn("rescan local record", "path", rec.Path, "error", err)
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Store) IsEmpty() (bool, error) {
	conn, err := s.conn()
	if err != nil {
		return false, err
	}
	var n int
	if err := conn.Get(&n, `SELECT COUNT(*) FROM records WHERE deleted = 0`); err != nil {
		return false, fmt.Errorf("count records: %w", err)
	}
	return n == 0, nil
}

// RecordPathByID resolves a remote identifier to the path of its record.
func (s *Store) RecordPathByID(id string) (string, bool, error) {
	rec, err := s.getOne(`SELECT `+selectColumns+` FROM records WHERE identifier = ? AND kind = ? AND deleted = 0 ORDER BY pk DESC LIMIT 1`,
		id, string(entity.KindRemote))
	if err != nil || rec == nil {
		return "", false, err
	}
	return rec.Path, true, nil
}

// DirectoryIDAt returns the identifier of the active directory record at p.
func (s *Store) DirectoryIDAt(p string, kind entity.Kind) (string, bool, error) {
	rec, err := s.getOne(`SELECT `+selectColumns+` FROM records WHERE `+naturalKey, p, true, string(kind))
	if err != nil || rec == nil {
		return "", false, err
	}
	return rec.Identifier, true, nil
}

func (s *Store) getOne(query string, args ...any) (*Record, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}
	var row dbRecord
	if err := conn.Get(&row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query record: %w", err)
	}
	return row.toRecord()
}

func (s *Store) selectMany(query string, args ...any) ([]*Record, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}
	var rows []dbRecord
	if err := conn.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	out := make([]*Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			slog.Error("skip corrupt record", "pk", rows[i].PK, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Record) attrs() entity.Attrs {
	dir := r.IsDir
	return entity.Attrs{
		Name:         r.Name,
		Path:         r.Path,
		ID:           r.Identifier,
		Dir:          &dir,
		Size:         r.Size,
		ModifiedTime: r.ContentModifiedAt,
		Hash:         r.ContentHash,
		MimeType:     r.Mime,
		Exists:       !r.Deleted,
		Trashed:      r.Deleted,
	}
}

func (s *Store) toEntity(r *Record) entity.Entity {
	return s.env.New(r.Kind, r.attrs())
}

// List returns the active records of kind whose root-relative path matches
// pattern. An empty pattern matches everything; "**" crosses directories.
func (s *Store) List(kind entity.Kind, pattern string) ([]*Record, error) {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}
	recs, err := s.selectMany(`SELECT `+selectColumns+` FROM records WHERE kind = ? AND deleted = 0 ORDER BY path`, string(kind))
	if err != nil {
		return nil, err
	}

	root := s.Root(kind)
	out := recs[:0]
	for _, rec := range recs {
		rel, ok := utils.RelTo(root, rec.Path)
		if !ok || rel == "" {
			continue
		}
		if pattern != "" {
			if matched, _ := doublestar.Match(pattern, rel); !matched {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
