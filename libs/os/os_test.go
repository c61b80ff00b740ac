package os_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orvnode/orv/libs/log"
	orvos "github.com/orvnode/orv/libs/os"
)

func TestEnsureDir(t *testing.T) {
	tmp := t.TempDir()

	dir := filepath.Join(tmp, "a", "b")
	require.NoError(t, orvos.EnsureDir(dir, 0700))
	require.True(t, orvos.FileExists(dir))

	// existing directory is fine
	require.NoError(t, orvos.EnsureDir(dir, 0700))

	// a file in the way is not created over
	file := filepath.Join(tmp, "file")
	require.NoError(t, os.WriteFile(file, []byte{}, 0600))
	require.NoError(t, orvos.EnsureDir(file, 0700))
	require.False(t, orvos.FileExists(filepath.Join(tmp, "missing")))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")

	require.NoError(t, orvos.WriteFileAtomic(path, []byte("first"), 0600))
	require.NoError(t, orvos.WriteFileAtomic(path, []byte("second"), 0600))

	bz, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(bz))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSignalContextParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := orvos.SignalContext(parent, log.NewNopLogger())
	defer stop()

	cancel()
	<-ctx.Done()
}
