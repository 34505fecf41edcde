package mkfs_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmichaelk/mkfs"
)

func newTestBitmap(t *testing.T, blocks int64) (*mkfs.Device, *mkfs.Bitmap) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, mkfs.Format(path, blocks))

	dev, err := mkfs.OpenDevice(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	bm, err := mkfs.OpenBitmap(dev)
	require.NoError(t, err)
	return dev, bm
}

func TestBitmapEnsureInitializedMarksPrefix(t *testing.T) {
	_, bm := newTestBitmap(t, 64)
	require.NoError(t, bm.EnsureInitialized())

	for i := int64(0); i < bm.Blocks(); i++ {
		state, err := bm.GetState(i)
		require.NoError(t, err)
		assert.Equalf(t, 1, state, "block %d should be part of the bitmap prefix", i)
	}

	state, err := bm.GetState(bm.Blocks())
	require.NoError(t, err)
	assert.Equal(t, 0, state, "first data block should still be free")
}

func TestBitmapEnsureInitializedIsIdempotent(t *testing.T) {
	_, bm := newTestBitmap(t, 64)
	require.NoError(t, bm.EnsureInitialized())

	dataBlock := bm.Blocks()
	require.NoError(t, bm.Set(dataBlock))

	// A second EnsureInitialized must not clobber the allocation made above:
	// byte 0 is already non-zero, so it should be a no-op.
	require.NoError(t, bm.EnsureInitialized())

	state, err := bm.GetState(dataBlock)
	require.NoError(t, err)
	assert.Equal(t, 1, state)
}

func TestBitmapFindFreeSpaceContiguousRun(t *testing.T) {
	_, bm := newTestBitmap(t, 64)
	require.NoError(t, bm.EnsureInitialized())

	start := bm.Blocks()
	require.NoError(t, bm.Allocate(start, 3))

	found := bm.FindFreeSpace(2)
	assert.Equal(t, start+3, found)
}

func TestBitmapFindFreeSpaceReturnsMinusOneWhenFull(t *testing.T) {
	_, bm := newTestBitmap(t, 16)
	require.NoError(t, bm.EnsureInitialized())

	remaining := bm.LastBlockIndex() - bm.Blocks() + 1
	require.NoError(t, bm.Allocate(bm.Blocks(), remaining))

	assert.Equal(t, int64(-1), bm.FindFreeSpace(1))
}

func TestBitmapAllocateFreeRoundTrip(t *testing.T) {
	_, bm := newTestBitmap(t, 32)
	require.NoError(t, bm.EnsureInitialized())

	start := bm.Blocks()
	require.NoError(t, bm.Allocate(start, 4))
	require.NoError(t, bm.Free(start, 4))

	found := bm.FindFreeSpace(4)
	assert.Equal(t, start, found)
}

func TestBitmapGetStateOutOfRange(t *testing.T) {
	_, bm := newTestBitmap(t, 8)
	_, err := bm.GetState(bm.LastBlockIndex() + 1)
	assert.Error(t, err)
}

func TestBitmapPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, mkfs.Format(path, 32))

	dev, err := mkfs.OpenDevice(path, false)
	require.NoError(t, err)
	bm, err := mkfs.OpenBitmap(dev)
	require.NoError(t, err)
	require.NoError(t, bm.EnsureInitialized())
	require.NoError(t, bm.Set(bm.Blocks()))
	require.NoError(t, dev.Close())

	dev2, err := mkfs.OpenDevice(path, false)
	require.NoError(t, err)
	defer dev2.Close()
	bm2, err := mkfs.OpenBitmap(dev2)
	require.NoError(t, err)

	state, err := bm2.GetState(bm2.Blocks())
	require.NoError(t, err)
	assert.Equal(t, 1, state)
}
