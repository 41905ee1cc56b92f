package entity

import (
	"fmt"
	"time"
)

// Kind is the namespace an entity lives in.
type Kind string

const (
	KindLocal  Kind = "Local"
	KindRemote Kind = "Remote"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindLocal, KindRemote:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown namespace kind %q", s)
}

// Opposite returns the other namespace.
func (k Kind) Opposite() Kind {
	if k == KindLocal {
		return KindRemote
	}
	return KindLocal
}

// Attrs is the plain data of an entity, used to build one from a record or
// from test fixtures.
type Attrs struct {
	Name         string
	Path         string
	ID           string
	Parents      []string
	Dir          *bool
	Size         int64
	ModifiedTime time.Time
	Hash         string
	MimeType     string
	Trashed      bool
	Exists       bool
}

// Dir and File are convenience values for Attrs.Dir.
func Dir() *bool  { v := true; return &v }
func File() *bool { v := false; return &v }

type base struct {
	env      *Env
	name     string
	path     string
	id       string
	parents  []string
	dir      *bool
	size     int64
	modified time.Time
	hash     string
	mime     string
	trashed  bool
	exists   bool
	children []Entity
}

func newBase(env *Env, a Attrs) base {
	b := base{
		env:      env,
		name:     a.Name,
		path:     a.Path,
		id:       a.ID,
		parents:  append([]string(nil), a.Parents...),
		size:     a.Size,
		modified: a.ModifiedTime,
		hash:     a.Hash,
		mime:     a.MimeType,
		trashed:  a.Trashed,
		exists:   a.Exists,
	}
	if a.Dir != nil {
		v := *a.Dir
		b.dir = &v
	}
	return b
}

func (b *base) Name() string { return b.name }
func (b *base) Path() string { return b.path }
func (b *base) ID() string { return b.id }
func (b *base) Parents() []string { return b.parents }
func (b *base) ModifiedTime() time.Time { return b.modified }
func (b *base) Trashed() bool { return b.trashed }
func (b *base) SetTrashed(v bool) { b.trashed = v }
func (b *base) Exists() bool { return b.exists }
func (b *base) Children() []Entity { return b.children }
func (b *base) TypeSet() bool { return b.dir != nil }
func (b *base) setDir(v bool) { b.dir = &v }

func (b *base) IsDir() (bool, error) {
	if b.dir == nil {
		return false, fmt.Errorf("%s: %w", b.path, ErrTypeUnset)
	}
	return *b.dir, nil
}

func (b *base) IsFile() (bool, error) {
	dir, err := b.IsDir()
	return !dir, err
}

// Size is 0 for directories.
func (b *base) Size() int64 {
	if b.dir != nil && *b.dir {
		return 0
	}
	return b.size
}

func (b *base) Attrs() Attrs {
	a := Attrs{
		Name:         b.name,
		Path:         b.path,
		ID:           b.id,
		Parents:      append([]string(nil), b.parents...),
		Size:         b.size,
		ModifiedTime: b.modified,
		Hash:         b.hash,
		MimeType:     b.mime,
		Trashed:      b.trashed,
		Exists:       b.exists,
	}
	if b.dir != nil {
		v := *b.dir
		a.Dir = &v
	}
	return a
}
