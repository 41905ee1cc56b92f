package record

import (
	"fmt"
	"path"

	"github.com/openmined/gdmirror/internal/entity"
	"github.com/openmined/gdmirror/internal/utils"
)

// RelPath returns e's path relative to its namespace root.
func (s *Store) RelPath(e entity.Entity) (string, bool) {
	if err := e.ResolvePath(); err != nil {
		return "", false
	}
	return utils.RelTo(s.Root(e.Kind()), e.Path())
}

// InRoot reports whether e lives under its namespace root.
func (s *Store) InRoot(e entity.Entity) bool {
	_, ok := s.RelPath(e)
	return ok
}

// CalculateMirror translates e's path into the other namespace. The result
// carries only name, path and type: a local mirror has no parent and a
// remote mirror has unresolved parent identifiers.
func (s *Store) CalculateMirror(e entity.Entity) (entity.Entity, error) {
	if err := e.ResolvePath(); err != nil {
		return nil, err
	}
	rel, ok := utils.RelTo(s.Root(e.Kind()), e.Path())
	if !ok {
		return nil, fmt.Errorf("%s: %w", entity.String(e), entity.ErrOutsideRoot)
	}

	kind := e.Kind().Opposite()
	mirrorPath := utils.JoinSlash(s.Root(kind), rel)
	a := entity.Attrs{
		Name: path.Base(mirrorPath),
		Path: mirrorPath,
	}
	if rel != "" {
		a.Name = e.Name()
	}
	if e.TypeSet() {
		dir, _ := e.IsDir()
		a.Dir = &dir
	}
	return s.env.New(kind, a), nil
}

// GetMirror is CalculateMirror plus the mirror's stored identity, if it has
// a record, and its parent directory. It fails with ErrParentNotFound when
// no active directory record exists at the mirror's parent path.
func (s *Store) GetMirror(e entity.Entity) (entity.Entity, error) {
	m, err := s.CalculateMirror(e)
	if err != nil {
		return nil, err
	}

	if m.TypeSet() {
		rec, err := s.Get(m)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			m = s.toEntity(rec)
		}
	}

	parentPath := path.Dir(m.Path())
	parentID, ok, err := s.DirectoryIDAt(parentPath, m.Kind())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", parentPath, entity.ErrParentNotFound)
	}

	if m.IsRemote() {
		a := m.Attrs()
		a.Parents = []string{parentID}
		m = s.env.NewRemote(a)
	}
	return m, nil
}

// MirrorExists reports whether the mirror of e has an active record. Any
// resolution failure counts as absent.
func (s *Store) MirrorExists(e entity.Entity) bool {
	m, err := s.CalculateMirror(e)
	if err != nil {
		return false
	}
	ok, err := s.FileExists(m)
	return err == nil && ok
}
