package entity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/gdmirror/internal/remote"
	"github.com/openmined/gdmirror/internal/utils"
	"github.com/spf13/afero"
)

// Local is an entity on the local file system. Its ID is its path.
type Local struct {
	base
}

var _ Entity = (*Local)(nil)

func (e *Env) NewLocal(a Attrs) *Local {
	a.Path = utils.NormPath(a.Path)
	if a.ID == "" {
		a.ID = a.Path
	}
	if a.Name == "" && a.Path != "" {
		a.Name = path.Base(a.Path)
	}
	return &Local{base: newBase(e, a)}
}

// StatLocal builds a Local from the file system. A missing path yields an
// entity with Exists false and an unset type.
func (e *Env) StatLocal(p string) (*Local, error) {
	l := e.NewLocal(Attrs{Path: p})
	if err := l.Refresh(); err != nil {
		return nil, err
	}
	return l, nil
}

// Refresh re-reads size, type and modification time from disk.
func (l *Local) Refresh() error {
	info, err := l.env.Fs.Stat(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		l.exists = false
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", l.path, err)
	}
	l.fromInfo(info)
	return nil
}

func (l *Local) fromInfo(info fs.FileInfo) {
	l.exists = true
	l.setDir(info.IsDir())
	l.modified = info.ModTime().UTC()
	l.hash = ""
	if info.IsDir() {
		l.size = 0
		l.mime = remote.FolderMimeType
	} else {
		l.size = info.Size()
		l.mime = utils.DetectContentType(l.name)
	}
}

func (l *Local) Kind() Kind { return KindLocal }
func (l *Local) IsLocal() bool { return true }
func (l *Local) IsRemote() bool { return false }
func (l *Local) sealed() {}

func (l *Local) MimeType() string {
	if l.mime == "" && l.dir != nil && !*l.dir {
		return utils.DetectContentType(l.name)
	}
	return l.mime
}

func (l *Local) ResolvePath() error {
	if l.path == "" {
		return ErrPathNotResolved
	}
	return nil
}

// ContentHash streams the file through md5. Results are cached by path,
// size and modification time.
func (l *Local) ContentHash() (string, error) {
	if dir, err := l.IsDir(); err != nil || dir {
		return "", err
	}
	if l.hash != "" {
		return l.hash, nil
	}
	if !l.exists {
		return "", fmt.Errorf("%s: %w", l.path, ErrPathNotFound)
	}

	key := hashKey{path: l.path, size: l.size, mtime: l.modified.UnixNano()}
	if h, ok := l.env.hashes.Get(key); ok {
		l.hash = h
		return h, nil
	}

	f, err := l.env.Fs.Open(l.path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()

	h, err := utils.HashReader(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", l.path, err)
	}
	l.env.hashes.Add(key, h)
	l.hash = h
	return h, nil
}

func (l *Local) SameAs(other Entity) bool {
	return SameAs(l, other)
}

func (l *Local) ListChildren(ctx context.Context, recursive bool) error {
	info, err := l.env.Fs.Stat(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", l.path, ErrPathNotFound)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", l.path, ErrNotADirectory)
	}
	l.fromInfo(info)

	infos, err := afero.ReadDir(l.env.Fs, l.path)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", l.path, err)
	}

	l.children = l.children[:0]
	for _, ci := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}
		child := l.env.NewLocal(Attrs{Path: utils.JoinSlash(l.path, ci.Name())})
		child.fromInfo(ci)
		l.children = append(l.children, child)

		if recursive && ci.IsDir() {
			if err := child.ListChildren(ctx, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// UploadOrDownload uploads this file as the new remote counterpart.
func (l *Local) UploadOrDownload(ctx context.Context, counterpart Entity) error {
	r, err := l.remoteFileTarget(counterpart)
	if err != nil {
		return err
	}
	parentID, err := r.parentID(ctx)
	if err != nil {
		return err
	}

	f, err := l.env.Fs.Open(l.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()

	start := time.Now()
	obj, err := l.env.Remote.Upload(ctx, &remote.UploadParams{
		ParentID: parentID,
		Name:     r.name,
		MimeType: l.MimeType(),
		Body:     f,
		Size:     l.size,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", l.path, err)
	}
	r.apply(obj)

	slog.Info("uploaded", "path", l.path, "to", r.path, "size", humanize.Bytes(uint64(l.size)), "took", time.Since(start))
	return nil
}

// Update pushes this file's bytes over the existing remote counterpart.
func (l *Local) Update(ctx context.Context, counterpart Entity) error {
	r, err := l.remoteFileTarget(counterpart)
	if err != nil {
		return err
	}
	if r.id == "" {
		return fmt.Errorf("update %s: %w", r.path, ErrPathNotResolved)
	}

	f, err := l.env.Fs.Open(l.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()

	obj, err := l.env.Remote.Update(ctx, r.id, f, l.size)
	if err != nil {
		return fmt.Errorf("update %s: %w", r.path, err)
	}
	if len(obj.Parents) == 0 {
		obj.Parents = r.parents
	}
	r.apply(obj)

	slog.Info("updated remote", "path", r.path, "size", humanize.Bytes(uint64(l.size)))
	return nil
}

// Remove never deletes local data. Propagating remote deletions to disk is
// not supported.
func (l *Local) Remove(context.Context) error {
	slog.Warn("local delete not supported, leaving file in place", "path", l.path)
	return nil
}

func (l *Local) CreateDir(context.Context) error {
	if l.path == "" {
		return ErrPathNotResolved
	}
	if _, err := l.env.Fs.Stat(l.path); err == nil {
		return fmt.Errorf("%s: %w", l.path, ErrNameCollision)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := l.env.Fs.Mkdir(l.path, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", l.path, ErrNameCollision)
		}
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", l.path, ErrParentNotFound)
		}
		return fmt.Errorf("mkdir %s: %w", l.path, err)
	}
	return l.Refresh()
}

func (l *Local) remoteFileTarget(counterpart Entity) (*Remote, error) {
	if dir, err := l.IsDir(); err != nil {
		return nil, err
	} else if dir {
		return nil, fmt.Errorf("%s: %w", l.path, ErrIsADirectory)
	}
	r, ok := counterpart.(*Remote)
	if !ok {
		return nil, fmt.Errorf("counterpart of %s: %w", l.path, ErrNotAFileSystemEntity)
	}
	return r, nil
}
