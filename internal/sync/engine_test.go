package sync

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/gdmirror/internal/entity"
	"github.com/openmined/gdmirror/internal/ignore"
	"github.com/openmined/gdmirror/internal/record"
	"github.com/openmined/gdmirror/internal/remote"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	localRoot  = "Sync_Dir"
	remoteRoot = "/Photos"
)

type harness struct {
	fs      afero.Fs
	mem     *remote.MemoryStorage
	session *remote.Session
	env     *entity.Env
	store   *record.Store
	photos  *remote.Object
}

// newHarness connects a store with both roots recorded. wrap, if set,
// decorates the in-memory remote the session logs into.
func newHarness(t *testing.T, wrap func(*remote.MemoryStorage) remote.Storage) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{fs: afero.NewMemMapFs(), mem: remote.NewMemoryStorage()}
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h.mem.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	var st remote.Storage = h.mem
	if wrap != nil {
		st = wrap(h.mem)
	}
	h.session = remote.NewSession(remote.AuthenticatorFunc(func(context.Context) (remote.Storage, error) {
		return st, nil
	}))
	h.env = entity.NewEnv(h.fs, h.session)
	h.store = record.New(h.env)
	h.env.Resolver = h.store
	require.NoError(t, h.store.Connect(filepath.Join(t.TempDir(), "state.sqlite"), remoteRoot, localRoot))
	t.Cleanup(func() { h.store.Close() })

	require.NoError(t, h.fs.MkdirAll(localRoot, 0o755))
	photos, err := h.mem.CreateFolder(ctx, remote.RootID, "Photos")
	require.NoError(t, err)
	h.photos = photos

	root, err := h.env.StatLocal(localRoot)
	require.NoError(t, err)
	_, err = h.store.Add(root)
	require.NoError(t, err)
	_, err = h.store.Add(h.env.RemoteFromObject(photos, remoteRoot))
	require.NoError(t, err)
	return h
}

func (h *harness) writeLocal(t *testing.T, p, content string) *entity.Local {
	t.Helper()
	require.NoError(t, afero.WriteFile(h.fs, p, []byte(content), 0o644))
	l, err := h.env.StatLocal(p)
	require.NoError(t, err)
	return l
}

func (h *harness) upload(t *testing.T, name, content string) *remote.Object {
	t.Helper()
	obj, err := h.mem.Upload(context.Background(), &remote.UploadParams{
		ParentID: h.photos.ID,
		Name:     name,
		MimeType: "text/plain",
		Body:     bytes.NewReader([]byte(content)),
		Size:     int64(len(content)),
	})
	require.NoError(t, err)
	return obj
}

// synced records a local file and its remote copy as already mirrored.
func (h *harness) synced(t *testing.T, name, content string) (*entity.Local, *entity.Remote) {
	t.Helper()
	l := h.writeLocal(t, localRoot+"/"+name, content)
	r := h.env.RemoteFromObject(h.upload(t, name, content), remoteRoot+"/"+name)
	require.NoError(t, h.store.Update(l))
	require.NoError(t, h.store.Update(r))
	return l, r
}

func (h *harness) record(t *testing.T, kind entity.Kind, p string, dir bool) *record.Record {
	t.Helper()
	rec, err := h.store.Get(h.env.New(kind, entity.Attrs{Path: p, Dir: &dir}))
	require.NoError(t, err)
	return rec
}

func md5Hex(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

func TestEngine_LoadNewLocalFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	e := NewEngine(h.store, h.session)

	require.True(t, e.Add(h.writeLocal(t, "Sync_Dir/a.txt", "hello")))

	res, err := e.Check()
	require.NoError(t, err)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, TaskLoad, res.Tasks[0].Type)
	assert.Equal(t, 0, h.session.Logins(), "check never authenticates")
	assert.Nil(t, h.record(t, entity.KindLocal, "Sync_Dir/a.txt", false), "check never writes records")

	report, err := e.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed[TaskLoad])
	assert.Equal(t, 1, h.session.Logins())

	local := h.record(t, entity.KindLocal, "Sync_Dir/a.txt", false)
	require.NotNil(t, local)
	assert.Equal(t, record.StatusSynced, local.Status)

	rem := h.record(t, entity.KindRemote, "/Photos/a.txt", false)
	require.NotNil(t, rem)
	assert.Equal(t, record.StatusSynced, rem.Status)
	assert.Equal(t, md5Hex("hello"), rem.ContentHash)

	data, ok := h.mem.Content(rem.Identifier)
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))
}

func TestEngine_CreateRemoteDirLocally(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	e := NewEngine(h.store, h.session)

	dir, err := h.mem.CreateFolder(ctx, h.photos.ID, "album")
	require.NoError(t, err)
	require.True(t, e.Add(h.env.RemoteFromObject(dir, "/Photos/album")))

	report, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed[TaskCreate])

	info, err := h.fs.Stat("Sync_Dir/album")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.NotNil(t, h.record(t, entity.KindLocal, "Sync_Dir/album", true))
	assert.NotNil(t, h.record(t, entity.KindRemote, "/Photos/album", true))
}

func TestEngine_CreateCollisionIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	e := NewEngine(h.store, h.session)

	h.writeLocal(t, "Sync_Dir/album", "not a directory")
	dir, err := h.mem.CreateFolder(ctx, h.photos.ID, "album")
	require.NoError(t, err)
	e.Add(h.env.RemoteFromObject(dir, "/Photos/album"))

	report, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped[TaskCreate])
	assert.Nil(t, h.record(t, entity.KindRemote, "/Photos/album", true))
}

func TestEngine_UpdateRemoteChange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	e := NewEngine(h.store, h.session)

	_, r := h.synced(t, "f.txt", "v1")
	require.Equal(t, md5Hex("v1"), h.record(t, entity.KindRemote, "/Photos/f.txt", false).ContentHash)

	obj, err := h.mem.Update(ctx, r.ID(), bytes.NewReader([]byte("v2")), 2)
	require.NoError(t, err)
	e.Add(h.env.RemoteFromObject(obj, "/Photos/f.txt"))

	res, err := e.Check()
	require.NoError(t, err)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, TaskUpdate, res.Tasks[0].Type)

	report, err := e.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed[TaskUpdate])

	data, err := afero.ReadFile(h.fs, "Sync_Dir/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	assert.Equal(t, md5Hex("v2"), h.record(t, entity.KindRemote, "/Photos/f.txt", false).ContentHash)
	assert.Equal(t, md5Hex("v2"), h.record(t, entity.KindLocal, "Sync_Dir/f.txt", false).ContentHash)

	exists, err := afero.Exists(h.fs, "Sync_Dir/f.txt.bak")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEngine_UpdateNotNewerIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	e := NewEngine(h.store, h.session)

	_, r := h.synced(t, "f.txt", "v1")
	stale := h.env.NewRemote(entity.Attrs{
		ID: r.ID(), Path: r.Path(), Dir: entity.File(),
		Hash: md5Hex("other"), Size: 5, ModifiedTime: r.ModifiedTime(), Exists: true,
	})
	e.Add(stale)

	report, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped[TaskUpdate])

	data, err := afero.ReadFile(h.fs, "Sync_Dir/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestEngine_DeleteRemoteTrash(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	e := NewEngine(h.store, h.session)

	l, r := h.synced(t, "f.txt", "v1")
	require.NoError(t, h.mem.Trash(ctx, r.ID()))
	obj, err := h.mem.Get(ctx, r.ID())
	require.NoError(t, err)
	e.Add(h.env.RemoteFromObject(obj, "/Photos/f.txt"))

	report, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed[TaskDelete])

	for _, ent := range []entity.Entity{l, r} {
		history, err := h.store.History(ent)
		require.NoError(t, err)
		require.NotEmpty(t, history)
		assert.True(t, history[0].Deleted, ent.Path())
	}

	// local deletion is not propagated to disk
	exists, err := afero.Exists(h.fs, "Sync_Dir/f.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEngine_DeleteLocalTrashesRemote(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	e := NewEngine(h.store, h.session)

	l, r := h.synced(t, "f.txt", "v1")
	require.NoError(t, h.fs.Remove(l.Path()))
	// a vanished file has no type on disk; the rescan takes it from the record
	locals, err := h.store.GetAllLocal()
	require.NoError(t, err)
	for _, ent := range locals {
		if ent.Path() == l.Path() {
			ent.SetTrashed(true)
			e.Add(ent)
		}
	}

	report, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed[TaskDelete])

	obj, err := h.mem.Get(ctx, r.ID())
	require.NoError(t, err)
	assert.True(t, obj.Trashed)
	assert.Nil(t, h.record(t, entity.KindRemote, "/Photos/f.txt", false))
	assert.Nil(t, h.record(t, entity.KindLocal, "Sync_Dir/f.txt", false))
}

func TestEngine_RemovedOnBothSidesIsSoftDeleted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	e := NewEngine(h.store, h.session)

	l, r := h.synced(t, "a.txt", "v1")
	require.NoError(t, h.fs.Remove(l.Path()))
	require.NoError(t, h.mem.Trash(ctx, r.ID()))

	locals, err := h.store.GetAllLocal()
	require.NoError(t, err)
	for _, ent := range locals {
		if ent.Path() == l.Path() {
			ent.SetTrashed(true)
			e.Add(ent)
		}
	}
	obj, err := h.mem.Get(ctx, r.ID())
	require.NoError(t, err)
	e.Add(h.env.RemoteFromObject(obj, "/Photos/a.txt"))

	res, err := e.Check()
	require.NoError(t, err)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, TaskNoChange, res.Tasks[0].Type)

	report, err := e.Execute(ctx)
	require.NoError(t, err)
	assert.True(t, report.Settled())
	assert.Equal(t, 0, h.session.Logins())

	assert.Nil(t, h.record(t, entity.KindLocal, "Sync_Dir/a.txt", false))
	assert.Nil(t, h.record(t, entity.KindRemote, "/Photos/a.txt", false))
	for _, ent := range []entity.Entity{l, r} {
		history, err := h.store.History(ent)
		require.NoError(t, err)
		require.NotEmpty(t, history)
		assert.True(t, history[0].Deleted, ent.Path())
	}

	// the next rescan has nothing left to delete
	locals, err = h.store.GetAllLocal()
	require.NoError(t, err)
	for _, ent := range locals {
		assert.NotEqual(t, l.Path(), ent.Path())
	}
}

func TestEngine_DeleteLocalFolderWithContent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	e := NewEngine(h.store, h.session)

	require.NoError(t, h.fs.Mkdir("Sync_Dir/d", 0o755))
	ld, err := h.env.StatLocal("Sync_Dir/d")
	require.NoError(t, err)
	rdObj, err := h.mem.CreateFolder(ctx, h.photos.ID, "d")
	require.NoError(t, err)
	lf := h.writeLocal(t, "Sync_Dir/d/f.txt", "f")
	rfObj, err := h.mem.Upload(ctx, &remote.UploadParams{
		ParentID: rdObj.ID, Name: "f.txt", MimeType: "text/plain",
		Body: bytes.NewReader([]byte("f")), Size: 1,
	})
	require.NoError(t, err)
	for _, ent := range []entity.Entity{
		ld, h.env.RemoteFromObject(rdObj, "/Photos/d"),
		lf, h.env.RemoteFromObject(rfObj, "/Photos/d/f.txt"),
	} {
		require.NoError(t, h.store.Update(ent))
	}

	require.NoError(t, h.fs.RemoveAll("Sync_Dir/d"))
	locals, err := h.store.GetAllLocal()
	require.NoError(t, err)
	for _, ent := range locals {
		if ent.Path() != localRoot {
			ent.SetTrashed(true)
			e.Add(ent)
		}
	}

	// the folder goes first and takes the file with it remotely
	report, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Executed[TaskDelete])
	assert.Zero(t, report.Total(report.Failed))

	obj, err := h.mem.Get(ctx, rfObj.ID)
	require.NoError(t, err)
	assert.True(t, obj.Trashed)
	assert.Nil(t, h.record(t, entity.KindLocal, "Sync_Dir/d/f.txt", false))
	assert.Nil(t, h.record(t, entity.KindRemote, "/Photos/d/f.txt", false))
	assert.Nil(t, h.record(t, entity.KindRemote, "/Photos/d", true))
}

func TestEngine_DedupeAndIgnore(t *testing.T) {
	h := newHarness(t, nil)
	e := NewEngine(h.store, h.session, WithIgnore(ignore.New("*.tmp")))

	a := h.writeLocal(t, "Sync_Dir/a.txt", "a")
	assert.True(t, e.Add(a))
	assert.False(t, e.Add(a))
	assert.False(t, e.Add(h.writeLocal(t, "Sync_Dir/.DS_Store", "x")))
	assert.False(t, e.Add(h.writeLocal(t, "Sync_Dir/scratch.tmp", "x")))

	res, err := e.Check()
	require.NoError(t, err)
	assert.Len(t, res.Tasks, 1)
}

func TestEngine_UnchangedIsDropped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	e := NewEngine(h.store, h.session)

	l, r := h.synced(t, "f.txt", "v1")
	e.Add(l)
	e.Add(r)

	res, err := e.Check()
	require.NoError(t, err)
	assert.Empty(t, res.Tasks)
	assert.Equal(t, 2, res.Dropped)

	_, err = e.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, h.session.Logins())
}

func TestEngine_NoChangeAdoptsWithoutAuth(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	e := NewEngine(h.store, h.session)

	require.NoError(t, h.fs.Mkdir("Sync_Dir/album", 0o755))
	local, err := h.env.StatLocal("Sync_Dir/album")
	require.NoError(t, err)
	dir, err := h.mem.CreateFolder(ctx, h.photos.ID, "album")
	require.NoError(t, err)

	e.Add(local)
	e.Add(h.env.RemoteFromObject(dir, "/Photos/album"))

	res, err := e.Check()
	require.NoError(t, err)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, TaskNoChange, res.Tasks[0].Type)
	assert.Equal(t, 0, res.Actionable())

	_, err = e.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, h.session.Logins())
	assert.NotNil(t, h.record(t, entity.KindLocal, "Sync_Dir/album", true))
	assert.NotNil(t, h.record(t, entity.KindRemote, "/Photos/album", true))
}

func TestEngine_Conflict(t *testing.T) {
	tests := []struct {
		name       string
		resolver   ConflictResolver
		wantLocal  string
		wantRemote string
		recorded   bool
	}{
		{"skip", SkipResolver{}, "mine", "theirs", false},
		{"keep local", FixedResolver{Choice: ResolveKeepLocal}, "mine", "mine", true},
		{"keep remote", FixedResolver{Choice: ResolveKeepRemote}, "theirs", "theirs", true},
		{"func keeps local", ResolverFunc(func(_ context.Context, c *Conflict) (Resolution, error) {
			if c.Local.IsLocal() && c.Remote.IsRemote() {
				return ResolveKeepLocal, nil
			}
			return ResolveSkip, nil
		}), "mine", "mine", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, nil)
			e := NewEngine(h.store, h.session, WithResolver(tt.resolver))

			e.Add(h.writeLocal(t, "Sync_Dir/c.txt", "mine"))
			obj := h.upload(t, "c.txt", "theirs")
			e.Add(h.env.RemoteFromObject(obj, "/Photos/c.txt"))

			res, err := e.Check()
			require.NoError(t, err)
			require.Len(t, res.Tasks, 1)
			assert.Equal(t, TaskConflict, res.Tasks[0].Type)

			report, err := e.Execute(ctx)
			require.NoError(t, err)
			assert.Zero(t, report.Total(report.Failed))

			data, err := afero.ReadFile(h.fs, "Sync_Dir/c.txt")
			require.NoError(t, err)
			assert.Equal(t, tt.wantLocal, string(data))
			remoteData, _ := h.mem.Content(obj.ID)
			assert.Equal(t, tt.wantRemote, string(remoteData))

			rec := h.record(t, entity.KindRemote, "/Photos/c.txt", false)
			if !tt.recorded {
				assert.Nil(t, rec)
				assert.Equal(t, 1, report.Skipped[TaskConflict])
				assert.False(t, report.Settled())
				return
			}
			assert.True(t, report.Settled())
			require.NotNil(t, rec)
			assert.Equal(t, md5Hex(tt.wantRemote), rec.ContentHash)
			assert.Equal(t, md5Hex(tt.wantLocal), h.record(t, entity.KindLocal, "Sync_Dir/c.txt", false).ContentHash)
		})
	}
}

type flakyStorage struct {
	*remote.MemoryStorage
	failName string
}

func (f *flakyStorage) Upload(ctx context.Context, params *remote.UploadParams) (*remote.Object, error) {
	if params.Name == f.failName {
		return nil, errors.New("quota exceeded")
	}
	return f.MemoryStorage.Upload(ctx, params)
}

func TestEngine_FailureDoesNotStopBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(m *remote.MemoryStorage) remote.Storage {
		return &flakyStorage{MemoryStorage: m, failName: "bad.txt"}
	})
	e := NewEngine(h.store, h.session)

	e.Add(h.writeLocal(t, "Sync_Dir/bad.txt", "x"))
	e.Add(h.writeLocal(t, "Sync_Dir/good.txt", "y"))

	report, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed[TaskLoad])
	assert.Equal(t, 1, report.Executed[TaskLoad])
	assert.Equal(t, 1, report.Unsettled)
	assert.Nil(t, h.record(t, entity.KindRemote, "/Photos/bad.txt", false))
	assert.NotNil(t, h.record(t, entity.KindRemote, "/Photos/good.txt", false))
	assert.Empty(t, e.Pending())
}

func TestEngine_AuthFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	session := remote.NewSession(remote.AuthenticatorFunc(func(context.Context) (remote.Storage, error) {
		return nil, errors.New("bad credentials")
	}))
	e := NewEngine(h.store, session)
	e.Add(h.writeLocal(t, "Sync_Dir/a.txt", "a"))

	_, err := e.Run(ctx)
	assert.Error(t, err)
	assert.Nil(t, h.record(t, entity.KindLocal, "Sync_Dir/a.txt", false))
}

func TestEngine_UnresolvedEntityIsSkipped(t *testing.T) {
	h := newHarness(t, nil)
	e := NewEngine(h.store, h.session)

	orphan := h.env.RemoteFromObject(&remote.Object{
		ID: "x", Name: "lost.txt", Parents: []string{"nowhere"}, MimeType: "text/plain",
	}, "")
	e.Add(orphan)
	e.Add(h.writeLocal(t, "Sync_Dir/a.txt", "a"))

	res, err := e.Check()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.SkippedRemote)
	assert.Len(t, res.Tasks, 1)
}

func TestEngine_RunReportsUnsettledRemoteSkips(t *testing.T) {
	h := newHarness(t, nil)
	e := NewEngine(h.store, h.session)

	e.Add(h.env.RemoteFromObject(&remote.Object{
		ID: "x", Name: "lost.txt", Parents: []string{"nowhere"}, MimeType: "text/plain",
	}, ""))

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unsettled)
	assert.False(t, report.Settled())
}

func TestEngine_RunRejectsConcurrentRun(t *testing.T) {
	h := newHarness(t, nil)
	e := NewEngine(h.store, h.session)

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.Run(context.Background())
	assert.ErrorIs(t, err, ErrSyncAlreadyRunning)
}
