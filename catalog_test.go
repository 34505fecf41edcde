package mkfs_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmichaelk/mkfs"
)

// TestMaxFilesPerDirCapacity asserts the derived capacity against the
// formula in spec.md §3: (512 - 9 - sizeof(int32)) / sizeof(fileEntry),
// where a file entry is name[9] + ext[4] + size:uint64 + startBlock:int64.
func TestMaxFilesPerDirCapacity(t *testing.T) {
	const fileEntrySize = 9 + 4 + 8 + 8
	expected := (512 - 9 - 4) / fileEntrySize
	assert.Equal(t, expected, mkfs.MaxFilesPerDir)
}

func newTestCatalog(t *testing.T) *mkfs.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	cat, err := mkfs.OpenCatalog(path, true)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestCatalogAppendAndFindDir(t *testing.T) {
	cat := newTestCatalog(t)

	offset, err := cat.AppendDir("docs")
	require.NoError(t, err)

	rec, foundOffset, err := cat.FindDir("docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", rec.Name)
	assert.Equal(t, int32(0), rec.FileCount)
	assert.Equal(t, offset, foundOffset)
}

func TestCatalogFindDirNotFound(t *testing.T) {
	cat := newTestCatalog(t)
	_, _, err := cat.FindDir("missing")
	assert.ErrorIs(t, err, mkfs.ErrNotFound)
}

func TestCatalogMkdirRmdirIsNoOpOnLength(t *testing.T) {
	cat := newTestCatalog(t)

	offset, err := cat.AppendDir("tmp")
	require.NoError(t, err)
	require.NoError(t, cat.RemoveDirAt(offset))

	dirs, err := cat.ListDirs()
	require.NoError(t, err)
	assert.Empty(t, dirs)
}

func TestCatalogRemoveDirSwapsWithLast(t *testing.T) {
	cat := newTestCatalog(t)

	_, err := cat.AppendDir("a")
	require.NoError(t, err)
	bOffset, err := cat.AppendDir("b")
	require.NoError(t, err)
	_, err = cat.AppendDir("c")
	require.NoError(t, err)

	// Remove "b" (the middle record); "c" should now occupy its slot.
	require.NoError(t, cat.RemoveDirAt(bOffset))

	rec, _, err := cat.FindDir("c")
	require.NoError(t, err)
	assert.Equal(t, bOffset, mustOffsetOf(t, cat, "c"))
	assert.Equal(t, "c", rec.Name)

	_, _, err = cat.FindDir("b")
	assert.ErrorIs(t, err, mkfs.ErrNotFound)

	dirs, err := cat.ListDirs()
	require.NoError(t, err)
	assert.Len(t, dirs, 2)
}

func mustOffsetOf(t *testing.T, cat *mkfs.Catalog, name string) int64 {
	t.Helper()
	_, offset, err := cat.FindDir(name)
	require.NoError(t, err)
	return offset
}

func TestCatalogWriteDirAtAndFindFile(t *testing.T) {
	cat := newTestCatalog(t)
	offset, err := cat.AppendDir("docs")
	require.NoError(t, err)

	rec, _, err := cat.FindDir("docs")
	require.NoError(t, err)
	rec.Files[0] = mkfs.FileEntry{Name: "readme", Ext: "txt", Size: 5, StartBlock: 3}
	rec.FileCount = 1
	require.NoError(t, cat.WriteDirAt(offset, rec))

	reread, _, err := cat.FindDir("docs")
	require.NoError(t, err)
	idx := cat.FindFile(reread, "readme", "txt")
	require.NotEqual(t, -1, idx)
	assert.Equal(t, uint64(5), reread.Files[idx].Size)
	assert.Equal(t, "readme.txt", reread.Files[idx].FormattedName())
}
