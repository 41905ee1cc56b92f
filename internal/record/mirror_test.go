package record

import (
	"testing"

	"github.com/openmined/gdmirror/internal/entity"
	"github.com/openmined/gdmirror/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateMirror_RoundTrip(t *testing.T) {
	s, env := setupStore(t)

	tests := []struct {
		name   string
		in     entity.Entity
		mirror string
	}{
		{"local file", localFile(env, "Sync_Dir/Photos/2.jpg", "", 0), "/Photos/Photos/2.jpg"},
		{"remote file", remoteFile(env, "X", "/Photos/Photos/2.jpg", "", 0), "Sync_Dir/Photos/2.jpg"},
		{"local dir", localDir(env, "Sync_Dir/a/b"), "/Photos/a/b"},
		{"remote dir", remoteDir(env, "D", "/Photos/a"), "Sync_Dir/a"},
		{"local root", localDir(env, "Sync_Dir"), "/Photos"},
		{"remote root", remoteDir(env, "R", "/Photos"), "Sync_Dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := s.CalculateMirror(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.mirror, m.Path())
			assert.Equal(t, tt.in.Kind().Opposite(), m.Kind())

			back, err := s.CalculateMirror(m)
			require.NoError(t, err)
			assert.Equal(t, tt.in.Path(), back.Path())

			inDir, _ := tt.in.IsDir()
			mDir, err := m.IsDir()
			require.NoError(t, err)
			assert.Equal(t, inDir, mDir)
		})
	}
}

func TestCalculateMirror_ShapeOfResult(t *testing.T) {
	s, env := setupStore(t)

	m, err := s.CalculateMirror(localFile(env, "Sync_Dir/a.txt", "h", 1))
	require.NoError(t, err)
	assert.Empty(t, m.Parents(), "remote mirror starts unresolved")
	assert.Empty(t, m.ID())

	m, err = s.CalculateMirror(env.NewRemote(entity.Attrs{ID: "x", Path: "/Photos/a.txt", Parents: []string{"p"}, Dir: entity.File()}))
	require.NoError(t, err)
	assert.Empty(t, m.Parents(), "local mirror has no parent")
}

func TestCalculateMirror_Errors(t *testing.T) {
	s, env := setupStore(t)

	_, err := s.CalculateMirror(localFile(env, "Sync_Dir2/a.txt", "", 0))
	assert.ErrorIs(t, err, entity.ErrOutsideRoot)

	unresolved := env.NewRemote(entity.Attrs{ID: "x", Name: "a.txt", Parents: []string{"nobody"}, Dir: entity.File()})
	_, err = s.CalculateMirror(unresolved)
	assert.ErrorIs(t, err, entity.ErrPathNotResolved)
	assert.False(t, s.MirrorExists(unresolved))
}

func TestGetMirror_ParentNotFoundUntilParentRecorded(t *testing.T) {
	s, env := setupStore(t)
	child := localFile(env, "Sync_Dir/2024/a.jpg", "h", 1)

	_, err := s.GetMirror(child)
	assert.ErrorIs(t, err, entity.ErrParentNotFound)

	// a local dir record at the mirror's parent path does not count
	_, err = s.Add(localDir(env, "/Photos/2024"))
	require.NoError(t, err)
	_, err = s.GetMirror(child)
	assert.ErrorIs(t, err, entity.ErrParentNotFound)

	_, err = s.Add(remoteDir(env, "D2024", "/Photos/2024"))
	require.NoError(t, err)

	m, err := s.GetMirror(child)
	require.NoError(t, err)
	assert.Equal(t, "/Photos/2024/a.jpg", m.Path())
	assert.Equal(t, []string{"D2024"}, m.Parents())
}

func TestGetMirror_CarriesStoredIdentity(t *testing.T) {
	s, env := setupStore(t)
	_, err := s.Add(remoteDir(env, remote.RootID, "/Photos"))
	require.NoError(t, err)
	_, err = s.Add(remoteFile(env, "F1", "/Photos/a.txt", "H1", 3))
	require.NoError(t, err)

	m, err := s.GetMirror(localFile(env, "Sync_Dir/a.txt", "H2", 3))
	require.NoError(t, err)
	assert.Equal(t, "F1", m.ID())
	assert.Equal(t, []string{remote.RootID}, m.Parents())

	h, err := m.ContentHash()
	require.NoError(t, err)
	assert.Equal(t, "H1", h)

	assert.True(t, s.MirrorExists(localFile(env, "Sync_Dir/a.txt", "", 0)))
	assert.False(t, s.MirrorExists(localFile(env, "Sync_Dir/b.txt", "", 0)))
}

func TestRelPathAndInRoot(t *testing.T) {
	s, env := setupStore(t)

	rel, ok := s.RelPath(localFile(env, "Sync_Dir/x/y.txt", "", 0))
	assert.True(t, ok)
	assert.Equal(t, "x/y.txt", rel)

	rel, ok = s.RelPath(remoteFile(env, "R", "/Photos/y.txt", "", 0))
	assert.True(t, ok)
	assert.Equal(t, "y.txt", rel)

	assert.False(t, s.InRoot(remoteFile(env, "R", "/Other/y.txt", "", 0)))
}
