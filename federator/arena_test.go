package federator_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eida/federator/federator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaNewJobDirAndRelease(t *testing.T) {
	root := t.TempDir()
	a := &federator.Arena{Root: root}
	require.NoError(t, a.Open())
	defer a.Close()

	jd, err := a.NewJobDir()
	require.NoError(t, err)
	assert.DirExists(t, jd.Path)

	path := jd.SpoolPath(0)
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	require.NoError(t, a.Release(jd))
	assert.NoDirExists(t, jd.Path)
}

func TestArenaStartupSweepRemovesStaleDirs(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "leftover-job")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	mock := clock.NewMock()
	mock.Set(time.Now())
	a := &federator.Arena{Root: root, MaxAge: time.Hour, Clock: mock}
	require.NoError(t, a.Open())
	defer a.Close()

	assert.NoDirExists(t, stale)
}

func TestArenaSoftQuotaRejectsNewJobs(t *testing.T) {
	root := t.TempDir()
	a := &federator.Arena{Root: root, SoftQuotaBytes: 1}
	require.NoError(t, a.Open())
	defer a.Close()

	jd, err := a.NewJobDir()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(jd.SpoolPath(0), make([]byte, 1024), 0o644))
	require.NoError(t, a.Sweep())

	_, err = a.NewJobDir()
	assert.Error(t, err)
}
