package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/openmined/gdmirror/internal/config"
	"github.com/openmined/gdmirror/internal/entity"
	"github.com/openmined/gdmirror/internal/remote"
	"github.com/openmined/gdmirror/internal/sync"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLocalRoot = "/data/Sync_Dir"

type testEnv struct {
	fs     afero.Fs
	mem    *remote.MemoryStorage
	cfg    *config.Config
	client *Client
}

func setupClient(t *testing.T) *testEnv {
	t.Helper()
	return setupClientWith(t, nil)
}

// setupClientWith is setupClient with the remote the session logs into
// decorated by wrap.
func setupClientWith(t *testing.T, wrap func(*remote.MemoryStorage) remote.Storage) *testEnv {
	t.Helper()
	tmp := t.TempDir()

	te := &testEnv{fs: afero.NewMemMapFs(), mem: remote.NewMemoryStorage()}
	require.NoError(t, te.fs.MkdirAll(testLocalRoot, 0o755))
	te.cfg = &config.Config{
		LocalRoot:   testLocalRoot,
		RemoteRoot:  "/Photos",
		Backend:     config.BackendMemory,
		DBPath:      filepath.Join(tmp, "state.sqlite"),
		IgnorePaths: config.DefaultIgnorePaths,
		Path:        filepath.Join(tmp, "config.json"),
	}
	var st remote.Storage = te.mem
	if wrap != nil {
		st = wrap(te.mem)
	}
	auth := remote.AuthenticatorFunc(func(context.Context) (remote.Storage, error) {
		return st, nil
	})
	te.client = New(te.cfg, auth, WithFs(te.fs))
	require.NoError(t, te.client.Open())
	t.Cleanup(func() { te.client.Close() })
	return te
}

func (te *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	p := testLocalRoot + "/" + rel
	require.NoError(t, te.fs.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, afero.WriteFile(te.fs, p, []byte(content), 0o644))
}

func (te *testEnv) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := afero.ReadFile(te.fs, testLocalRoot+"/"+rel)
	require.NoError(t, err)
	return string(data)
}

func (te *testEnv) remoteContent(t *testing.T, p string) string {
	t.Helper()
	obj, err := te.mem.Lookup(context.Background(), p)
	require.NoError(t, err, p)
	data, ok := te.mem.Content(obj.ID)
	require.True(t, ok)
	return string(data)
}

func upload(t *testing.T, mem *remote.MemoryStorage, parentID, name, content string) *remote.Object {
	t.Helper()
	obj, err := mem.Upload(context.Background(), &remote.UploadParams{
		ParentID: parentID,
		Name:     name,
		Body:     bytes.NewReader([]byte(content)),
		Size:     int64(len(content)),
	})
	require.NoError(t, err)
	return obj
}

func TestClient_FirstSyncIsFull(t *testing.T) {
	ctx := context.Background()
	te := setupClient(t)

	te.write(t, "a.txt", "alpha")
	te.write(t, "sub/b.txt", "beta")
	te.write(t, ".gdmirror-scratch", "ignored")

	photos, err := te.mem.CreateFolder(ctx, remote.RootID, "Photos")
	require.NoError(t, err)
	upload(t, te.mem, photos.ID, "r.txt", "remote")

	report, err := te.client.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Executed[sync.TaskLoad])
	assert.Equal(t, 1, report.Executed[sync.TaskCreate])
	assert.Zero(t, report.Total(report.Failed))

	assert.Equal(t, "alpha", te.remoteContent(t, "/Photos/a.txt"))
	assert.Equal(t, "beta", te.remoteContent(t, "/Photos/sub/b.txt"))
	assert.Equal(t, "remote", te.read(t, "r.txt"))
	_, err = te.mem.Lookup(ctx, "/Photos/.gdmirror-scratch")
	assert.ErrorIs(t, err, remote.ErrNotFound)

	assert.Equal(t, photos.ID, te.cfg.RemoteRootID)
	assert.NotEmpty(t, te.cfg.LastChangeToken)

	saved, err := config.Load(te.cfg.Path)
	require.NoError(t, err)
	assert.Equal(t, te.cfg.LastChangeToken, saved.LastChangeToken)
}

func TestClient_CreatesMissingRemoteRoot(t *testing.T) {
	ctx := context.Background()
	te := setupClient(t)
	te.write(t, "a.txt", "alpha")

	_, err := te.client.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "alpha", te.remoteContent(t, "/Photos/a.txt"))
}

func TestClient_IncrementalSync(t *testing.T) {
	ctx := context.Background()
	te := setupClient(t)

	te.write(t, "a.txt", "alpha")
	te.write(t, "gone.txt", "bye")
	photos, err := te.mem.CreateFolder(ctx, remote.RootID, "Photos")
	require.NoError(t, err)
	r := upload(t, te.mem, photos.ID, "r.txt", "v1")

	_, err = te.client.Sync(ctx, false)
	require.NoError(t, err)
	firstToken := te.cfg.LastChangeToken

	// a second pass with nothing changed does nothing
	report, err := te.client.Sync(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, report.Total(report.Executed))

	te.write(t, "n.txt", "new")
	require.NoError(t, te.fs.Remove(testLocalRoot+"/gone.txt"))
	_, err = te.mem.Update(ctx, r.ID, bytes.NewReader([]byte("v2")), 2)
	require.NoError(t, err)
	album, err := te.mem.CreateFolder(ctx, photos.ID, "album")
	require.NoError(t, err)
	upload(t, te.mem, album.ID, "x.txt", "inside")

	report, err = te.client.Sync(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, report.Total(report.Failed))
	assert.Equal(t, 1, report.Executed[sync.TaskUpdate])
	assert.Equal(t, 1, report.Executed[sync.TaskDelete])
	assert.Equal(t, 1, report.Executed[sync.TaskCreate])
	assert.NotEqual(t, firstToken, te.cfg.LastChangeToken)

	assert.Equal(t, "new", te.remoteContent(t, "/Photos/n.txt"))
	assert.Equal(t, "v2", te.read(t, "r.txt"))
	assert.Equal(t, "inside", te.read(t, "album/x.txt"))

	obj, err := te.mem.Lookup(ctx, "/Photos/gone.txt")
	if err == nil {
		assert.True(t, obj.Trashed)
	} else {
		assert.ErrorIs(t, err, remote.ErrNotFound)
	}
}

func TestClient_PlanWritesNothing(t *testing.T) {
	ctx := context.Background()
	te := setupClient(t)
	te.write(t, "a.txt", "alpha")
	photos, err := te.mem.CreateFolder(ctx, remote.RootID, "Photos")
	require.NoError(t, err)
	upload(t, te.mem, photos.ID, "r.txt", "remote")

	res, err := te.client.Plan(ctx, true)
	require.NoError(t, err)
	assert.Len(t, res.Tasks, 2)
	for _, task := range res.Tasks {
		assert.Equal(t, sync.TaskLoad, task.Type)
	}

	empty, err := te.client.Store().IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)
	assert.Empty(t, te.cfg.LastChangeToken)

	exists, err := afero.Exists(te.fs, testLocalRoot+"/r.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClient_InvalidTokenFallsBackToFullScan(t *testing.T) {
	ctx := context.Background()
	te := setupClient(t)
	te.write(t, "a.txt", "alpha")

	_, err := te.client.Sync(ctx, false)
	require.NoError(t, err)

	te.cfg.LastChangeToken = "9999"
	te.write(t, "b.txt", "beta")
	_, err = te.client.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "beta", te.remoteContent(t, "/Photos/b.txt"))
	assert.NotEqual(t, "9999", te.cfg.LastChangeToken)
}

type flakyDownloads struct {
	*remote.MemoryStorage
	failures int
}

func (f *flakyDownloads) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset")
	}
	return f.MemoryStorage.Download(ctx, id)
}

func TestClient_FailedRemoteChangeIsRetried(t *testing.T) {
	ctx := context.Background()
	var flaky *flakyDownloads
	te := setupClientWith(t, func(m *remote.MemoryStorage) remote.Storage {
		flaky = &flakyDownloads{MemoryStorage: m}
		return flaky
	})
	te.write(t, "a.txt", "alpha")
	photos, err := te.mem.CreateFolder(ctx, remote.RootID, "Photos")
	require.NoError(t, err)

	_, err = te.client.Sync(ctx, false)
	require.NoError(t, err)
	token := te.cfg.LastChangeToken
	require.NotEmpty(t, token)

	upload(t, te.mem, photos.ID, "new.txt", "fresh")
	flaky.failures = 1

	report, err := te.client.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed[sync.TaskLoad])
	assert.False(t, report.Settled())
	assert.Equal(t, token, te.cfg.LastChangeToken)
	saved, err := config.Load(te.cfg.Path)
	require.NoError(t, err)
	assert.Equal(t, token, saved.LastChangeToken)
	exists, err := afero.Exists(te.fs, testLocalRoot+"/new.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	// the same remote change comes back once the failure clears
	report, err = te.client.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed[sync.TaskLoad])
	assert.True(t, report.Settled())
	assert.Equal(t, "fresh", te.read(t, "new.txt"))
	assert.NotEqual(t, token, te.cfg.LastChangeToken)
}

func TestClient_CommitTokenKeepsSettingsFile(t *testing.T) {
	ctx := context.Background()

	t.Run("same mirror", func(t *testing.T) {
		te := setupClient(t)
		onDisk := &config.Config{
			LocalRoot:   testLocalRoot,
			RemoteRoot:  "Photos",
			Backend:     config.BackendMemory,
			DBPath:      "custom.sqlite",
			IgnorePaths: []string{"*.tmp"},
		}
		require.NoError(t, onDisk.Save(te.cfg.Path))
		te.write(t, "a.txt", "alpha")

		_, err := te.client.Sync(ctx, false)
		require.NoError(t, err)

		saved, err := config.Load(te.cfg.Path)
		require.NoError(t, err)
		assert.Equal(t, te.cfg.LastChangeToken, saved.LastChangeToken)
		assert.Equal(t, te.cfg.RemoteRootID, saved.RemoteRootID)
		assert.Equal(t, "Photos", saved.RemoteRoot)
		assert.Equal(t, "custom.sqlite", saved.DBPath)
		assert.Equal(t, []string{"*.tmp"}, saved.IgnorePaths)
	})

	t.Run("other mirror", func(t *testing.T) {
		te := setupClient(t)
		onDisk := &config.Config{
			LocalRoot:  "/elsewhere",
			RemoteRoot: "/Photos",
			Backend:    config.BackendMemory,
		}
		require.NoError(t, onDisk.Save(te.cfg.Path))
		te.write(t, "a.txt", "alpha")

		_, err := te.client.Sync(ctx, false)
		require.NoError(t, err)
		assert.NotEmpty(t, te.cfg.LastChangeToken)

		saved, err := config.Load(te.cfg.Path)
		require.NoError(t, err)
		assert.Empty(t, saved.LastChangeToken)
		assert.Equal(t, "/elsewhere", saved.LocalRoot)
	})
}

func TestClient_History(t *testing.T) {
	ctx := context.Background()
	te := setupClient(t)
	te.write(t, "a.txt", "alpha")

	_, err := te.client.Sync(ctx, false)
	require.NoError(t, err)

	recs, err := te.client.History("a.txt")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, testLocalRoot+"/a.txt", recs[0].Path)
	assert.Equal(t, "/Photos/a.txt", recs[1].Path)

	recs, err = te.client.History("missing.txt")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestClient_OpenRequiresLocalRoot(t *testing.T) {
	cfg := &config.Config{
		LocalRoot:  "/missing",
		RemoteRoot: "/",
		DBPath:     filepath.Join(t.TempDir(), "state.sqlite"),
	}
	c := New(cfg, remote.AuthenticatorFunc(func(context.Context) (remote.Storage, error) {
		return remote.NewMemoryStorage(), nil
	}), WithFs(afero.NewMemMapFs()))
	assert.ErrorIs(t, c.Open(), ErrLocalRootMissing)
}

func TestClient_IgnoredPath(t *testing.T) {
	te := setupClient(t)
	assert.True(t, te.client.ignoredPath(testLocalRoot+"/.gdmirror-db.sqlite"))
	assert.True(t, te.client.ignoredPath("/elsewhere/file.txt"))
	assert.False(t, te.client.ignoredPath(testLocalRoot+"/photo.jpg"))
}

func TestWalkTree_ParentsFirst(t *testing.T) {
	te := setupClient(t)
	te.write(t, "d/e/f.txt", "x")

	root, err := te.client.env.StatLocal(testLocalRoot)
	require.NoError(t, err)
	require.NoError(t, root.ListChildren(context.Background(), true))

	var seen []string
	require.NoError(t, walkTree(root, func(e entity.Entity) error {
		seen = append(seen, e.Path())
		return nil
	}))
	assert.Equal(t, []string{
		testLocalRoot + "/d",
		testLocalRoot + "/d/e",
		testLocalRoot + "/d/e/f.txt",
	}, seen)
}
