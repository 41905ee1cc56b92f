package entity

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openmined/gdmirror/internal/remote"
	"github.com/spf13/afero"
)

// Entity is one trackable file or directory. It is implemented only by
// *Local and *Remote.
type Entity interface {
	Kind() Kind
	Name() string
	// Path is a slash path. For remote entities it may be empty until
	// ResolvePath succeeds.
	Path() string
	// ID is the relative path for local entities and the opaque object ID
	// for remote ones.
	ID() string
	Parents() []string
	IsDir() (bool, error)
	IsFile() (bool, error)
	TypeSet() bool
	Size() int64
	ModifiedTime() time.Time
	ContentHash() (string, error)
	MimeType() string
	Trashed() bool
	SetTrashed(bool)
	Exists() bool
	IsLocal() bool
	IsRemote() bool
	Children() []Entity
	ListChildren(ctx context.Context, recursive bool) error
	SameAs(other Entity) bool
	// UploadOrDownload transfers this file's bytes into counterpart, which
	// lives in the other namespace.
	UploadOrDownload(ctx context.Context, counterpart Entity) error
	// Update overwrites counterpart's existing content with this file's.
	Update(ctx context.Context, counterpart Entity) error
	Remove(ctx context.Context) error
	CreateDir(ctx context.Context) error
	ResolvePath() error
	Attrs() Attrs

	sealed()
}

// Resolver answers record lookups needed to place entities. It is
// implemented by the record store.
type Resolver interface {
	// RecordPathByID returns the path of the active record with id.
	RecordPathByID(id string) (string, bool, error)
	// DirectoryIDAt returns the identifier of the active directory record at p.
	DirectoryIDAt(p string, kind Kind) (string, bool, error)
}

const hashCacheSize = 4096

type hashKey struct {
	path  string
	size  int64
	mtime int64
}

// Env carries the I/O collaborators shared by all entities of one run.
type Env struct {
	Fs       afero.Fs
	Remote   remote.Storage
	Resolver Resolver

	hashes *lru.Cache[hashKey, string]
}

func NewEnv(fs afero.Fs, storage remote.Storage) *Env {
	cache, err := lru.New[hashKey, string](hashCacheSize)
	if err != nil {
		panic(fmt.Sprintf("hash cache: %v", err))
	}
	return &Env{Fs: fs, Remote: storage, hashes: cache}
}

// New builds an entity of the given kind from plain attributes.
func (e *Env) New(kind Kind, a Attrs) Entity {
	if kind == KindLocal {
		return e.NewLocal(a)
	}
	return e.NewRemote(a)
}

// SameAs reports whether a and b describe the same content. Directories
// match on name and trashed state. Files match on trashed state, size and
// content hash. Modification times are never compared.
func SameAs(a, b Entity) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Trashed() != b.Trashed() {
		return false
	}

	aDir, errA := a.IsDir()
	bDir, errB := b.IsDir()
	if errA != nil || errB != nil || aDir != bDir {
		return false
	}
	// an entity compares with its own record or its mirror, which share the
	// root-relative path up to the parent, so the name carries the shape
	if aDir {
		return a.Name() == b.Name()
	}

	if a.Size() != b.Size() {
		return false
	}
	ha, err := a.ContentHash()
	if err != nil {
		return false
	}
	hb, err := b.ContentHash()
	if err != nil {
		return false
	}
	return ha == hb
}

// String renders an entity for log lines.
func String(e Entity) string {
	if e == nil {
		return "<nil>"
	}
	p := e.Path()
	if p == "" {
		p = "?/" + e.Name()
	}
	return fmt.Sprintf("%s:%s", e.Kind(), p)
}
