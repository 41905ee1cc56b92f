package entity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/openmined/gdmirror/internal/remote"
	"github.com/openmined/gdmirror/internal/utils"
	"github.com/spf13/afero"
)

const backupSuffix = ".bak"

// Remote is an entity in the remote store, addressed by an opaque ID.
type Remote struct {
	base
}

var _ Entity = (*Remote)(nil)

func (e *Env) NewRemote(a Attrs) *Remote {
	if a.Path != "" {
		a.Path = utils.NormPath(a.Path)
		if a.Name == "" {
			a.Name = path.Base(a.Path)
		}
	}
	return &Remote{base: newBase(e, a)}
}

// RemoteFromObject wraps remote metadata. p may be empty, leaving the path
// for ResolvePath.
func (e *Env) RemoteFromObject(obj *remote.Object, p string) *Remote {
	r := e.NewRemote(Attrs{Path: p})
	r.apply(obj)
	return r
}

func (r *Remote) apply(obj *remote.Object) {
	r.id = obj.ID
	if obj.Name != "" {
		r.name = obj.Name
	}
	if len(obj.Parents) > 0 {
		r.parents = append([]string(nil), obj.Parents...)
	}
	r.setDir(obj.IsFolder())
	r.mime = obj.MimeType
	r.modified = obj.ModifiedTime.UTC()
	r.trashed = obj.Trashed
	r.exists = true
	if obj.IsFolder() {
		r.size, r.hash = 0, ""
	} else {
		r.size, r.hash = obj.Size, obj.MD5
	}
}

func (r *Remote) Kind() Kind { return KindRemote }
func (r *Remote) IsLocal() bool { return false }
func (r *Remote) IsRemote() bool { return true }
func (r *Remote) sealed() {}
func (r *Remote) MimeType() string { return r.mime }

func (r *Remote) ContentHash() (string, error) {
	if dir, err := r.IsDir(); err != nil || dir {
		return "", err
	}
	return r.hash, nil
}

func (r *Remote) SameAs(other Entity) bool {
	return SameAs(r, other)
}

// ResolvePath derives the path from the first parent's record. It never
// guesses: without a known parent it fails with ErrPathNotResolved.
func (r *Remote) ResolvePath() error {
	if r.path != "" {
		return nil
	}
	if len(r.parents) == 0 || r.env.Resolver == nil {
		return fmt.Errorf("%s: %w", r.name, ErrPathNotResolved)
	}
	parentPath, ok, err := r.env.Resolver.RecordPathByID(r.parents[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", r.name, ErrPathNotResolved)
	}
	r.path = utils.JoinSlash(parentPath, r.name)
	return nil
}

func (r *Remote) ListChildren(ctx context.Context, recursive bool) error {
	if err := r.ResolvePath(); err != nil {
		return err
	}
	if r.id == "" {
		return fmt.Errorf("%s: %w", r.path, ErrPathNotFound)
	}
	if dir, err := r.IsDir(); err != nil {
		return err
	} else if !dir {
		return fmt.Errorf("%s: %w", r.path, ErrNotADirectory)
	}

	objs, err := remote.ListAll(ctx, r.env.Remote, r.id)
	if errors.Is(err, remote.ErrNotFound) {
		return fmt.Errorf("%s: %w", r.path, ErrPathNotFound)
	}
	if errors.Is(err, remote.ErrNotAFolder) {
		return fmt.Errorf("%s: %w", r.path, ErrNotADirectory)
	}
	if err != nil {
		return fmt.Errorf("list %s: %w", r.path, err)
	}

	r.children = r.children[:0]
	for _, obj := range objs {
		child := r.env.RemoteFromObject(obj, utils.JoinSlash(r.path, obj.Name))
		r.children = append(r.children, child)
		if recursive && obj.IsFolder() {
			if err := child.ListChildren(ctx, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// UploadOrDownload writes this file's content to the local counterpart.
func (r *Remote) UploadOrDownload(ctx context.Context, counterpart Entity) error {
	return r.download(ctx, counterpart)
}

func (r *Remote) Update(ctx context.Context, counterpart Entity) error {
	return r.download(ctx, counterpart)
}

// download replaces the local file. An existing file is kept as a .bak
// copy until the new content is fully written.
func (r *Remote) download(ctx context.Context, counterpart Entity) error {
	if dir, err := r.IsDir(); err != nil {
		return err
	} else if dir {
		return fmt.Errorf("%s: %w", r.path, ErrIsADirectory)
	}
	l, ok := counterpart.(*Local)
	if !ok {
		return fmt.Errorf("counterpart of %s: %w", r.path, ErrNotAFileSystemEntity)
	}
	if l.path == "" {
		return ErrPathNotResolved
	}

	body, err := r.env.Remote.Download(ctx, r.id)
	if err != nil {
		return fmt.Errorf("download %s: %w", r.path, err)
	}
	defer body.Close()

	fsys := l.env.Fs
	backup := ""
	if info, err := fsys.Stat(l.path); err == nil {
		if info.IsDir() {
			return fmt.Errorf("%s: %w", l.path, ErrNameCollision)
		}
		backup = l.path + backupSuffix
		if err := fsys.Rename(l.path, backup); err != nil {
			return fmt.Errorf("backup %s: %w", l.path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	n, err := writeFile(fsys, l.path, body)
	if err != nil {
		if backup != "" {
			_ = fsys.Remove(l.path)
			if rerr := fsys.Rename(backup, l.path); rerr != nil {
				slog.Error("restore backup", "path", l.path, "error", rerr)
			}
		}
		return fmt.Errorf("write %s: %w", l.path, err)
	}
	if backup != "" {
		if err := fsys.Remove(backup); err != nil {
			slog.Warn("remove backup", "path", backup, "error", err)
		}
	}

	if err := l.Refresh(); err != nil {
		return err
	}
	slog.Info("downloaded", "path", r.path, "to", l.path, "size", humanize.Bytes(uint64(n)))
	return nil
}

func writeFile(fsys afero.Fs, p string, r io.Reader) (int64, error) {
	f, err := fsys.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%s: %w", p, ErrParentNotFound)
		}
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// Remove moves the object to the remote trash.
func (r *Remote) Remove(ctx context.Context) error {
	if r.id == "" {
		return fmt.Errorf("remove %s: %w", r.path, ErrPathNotResolved)
	}
	err := r.env.Remote.Trash(ctx, r.id)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		// already trashed, usually together with a trashed parent folder
		slog.Debug("remote object already gone", "path", r.path, "id", r.id)
	case err != nil:
		return fmt.Errorf("trash %s: %w", r.path, err)
	}
	r.trashed = true
	return nil
}

func (r *Remote) CreateDir(ctx context.Context) error {
	if r.path == "" {
		return ErrPathNotResolved
	}
	parentID, err := r.parentID(ctx)
	if err != nil {
		return err
	}
	obj, err := r.env.Remote.CreateFolder(ctx, parentID, r.name)
	if err != nil {
		return fmt.Errorf("create folder %s: %w", r.path, err)
	}
	r.apply(obj)
	return nil
}

// parentID finds where this entity lives remotely: a known parent ID, the
// parent directory's record, or a lookup of the parent path.
func (r *Remote) parentID(ctx context.Context) (string, error) {
	if len(r.parents) > 0 && r.parents[0] != "" {
		return r.parents[0], nil
	}
	if r.path == "" {
		return "", ErrPathNotResolved
	}

	parentPath := path.Dir(r.path)
	if r.env.Resolver != nil {
		id, ok, err := r.env.Resolver.DirectoryIDAt(parentPath, KindRemote)
		if err != nil {
			return "", err
		}
		if ok && id != "" {
			r.parents = []string{id}
			return id, nil
		}
	}

	obj, err := r.env.Remote.Lookup(ctx, parentPath)
	if errors.Is(err, remote.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", parentPath, ErrParentNotFound)
	}
	if err != nil {
		return "", err
	}
	if !obj.IsFolder() {
		return "", fmt.Errorf("%s: %w", parentPath, ErrNotADirectory)
	}
	r.parents = []string{obj.ID}
	return obj.ID, nil
}
