package mkfs

import (
	"log"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"
)

// Attr is the subset of file/directory metadata the operation surface
// reports to getattr, independent of any FUSE types.
type Attr struct {
	IsDir  bool
	Size   uint64
	Blocks uint64
}

// FS is the core filesystem: the block device, the bitmap allocator and the
// directory catalog, plus the operations that keep their invariants (spec.md
// §1). FS implements github.com/hanwen/go-fuse/v2/fuse/pathfs.FileSystem
// directly so it can be mounted without an adapter type; everything it does
// not override falls back to pathfs.NewDefaultFileSystem()'s ENOSYS stubs.
type FS struct {
	pathfs.FileSystem

	dev     *Device
	bitmap  *Bitmap
	catalog *Catalog

	uid, gid        uint32
	createIfMissing bool
}

// New opens (and, by default, creates if missing) the backing device at
// devicePath and the directory catalog at catalogPath, and returns a
// mountable FS. Both files are opened and the bitmap is read here, so a
// malformed device or catalog fails at construction time rather than on the
// first filesystem operation (spec.md §12's init/destroy lifecycle).
func New(devicePath, catalogPath string, opts ...Option) (*FS, error) {
	fs := &FS{
		FileSystem:      pathfs.NewDefaultFileSystem(),
		createIfMissing: true,
	}
	for _, opt := range opts {
		if err := opt(fs); err != nil {
			return nil, err
		}
	}

	dev, err := OpenDevice(devicePath, fs.createIfMissing)
	if err != nil {
		return nil, err
	}
	fs.dev = dev

	bm, err := OpenBitmap(dev)
	if err != nil {
		dev.Close()
		return nil, err
	}
	fs.bitmap = bm

	cat, err := OpenCatalog(catalogPath, fs.createIfMissing)
	if err != nil {
		dev.Close()
		return nil, err
	}
	fs.catalog = cat

	if _, err := cat.count(); err != nil {
		cat.Close()
		dev.Close()
		return nil, err
	}

	return fs, nil
}

// Close releases the catalog and device host file handles.
func (fs *FS) Close() error {
	var firstErr error
	if err := fs.catalog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := fs.dev.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ---- internal operation surface (spec.md §4.5), FUSE-agnostic ----

// getAttr resolves path to either a directory or a file's attributes.
func (fs *FS) getAttr(path string) (Attr, error) {
	r, err := ResolvePath(path)
	if err != nil {
		return Attr{}, err
	}
	if r.IsRoot() {
		return Attr{IsDir: true}, nil
	}

	dir, _, err := fs.catalog.FindDir(r.Dir)
	if err != nil {
		return Attr{}, ErrNotFound
	}
	if !r.HasFile() {
		return Attr{IsDir: true}, nil
	}

	idx := dir.findFileIndex(r.Name, r.Ext)
	if idx < 0 {
		return Attr{}, ErrNotFound
	}
	entry := dir.Files[idx]
	return Attr{Size: entry.Size, Blocks: uint64(entry.Blocks())}, nil
}

// listDir returns directory names at root, or formatted file names within
// an existing directory.
func (fs *FS) listDir(path string) ([]string, error) {
	r, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}
	if r.IsRoot() {
		dirs, err := fs.catalog.ListDirs()
		if err != nil {
			return nil, err
		}
		names := make([]string, len(dirs))
		for i, d := range dirs {
			names[i] = d.Name
		}
		return names, nil
	}

	dir, _, err := fs.catalog.FindDir(r.Dir)
	if err != nil {
		return nil, ErrNotFound
	}
	names := make([]string, 0, dir.FileCount)
	for i := 0; i < int(dir.FileCount); i++ {
		names = append(names, dir.Files[i].FormattedName())
	}
	return names, nil
}

func (fs *FS) mkdir(path string) error {
	r, err := ResolvePath(path)
	if err != nil {
		return err
	}
	if len(r.Dir) > MaxNameLen {
		return ErrNameTooLong
	}
	if r.HasFile() {
		return ErrNotPermitted
	}
	if _, _, err := fs.catalog.FindDir(r.Dir); err == nil {
		return ErrExists
	} else if err != ErrNotFound {
		return err
	}
	_, err = fs.catalog.AppendDir(r.Dir)
	return err
}

// rmdir does not check fileCount == 0 before removing, matching the
// original source (spec.md §9); see DESIGN.md for the rationale.
func (fs *FS) rmdir(path string) error {
	r, err := ResolvePath(path)
	if err != nil {
		return err
	}
	if r.HasFile() {
		return ErrNotADirectory
	}
	_, offset, err := fs.catalog.FindDir(r.Dir)
	if err != nil {
		return ErrNotFound
	}
	return fs.catalog.RemoveDirAt(offset)
}

func (fs *FS) mknod(path string) error {
	r, err := ResolvePath(path)
	if err != nil {
		return err
	}
	if r.Name == "" {
		return ErrNotPermitted
	}
	if len(r.Name) > MaxNameLen || len(r.Ext) > MaxExtLen {
		return ErrNameTooLong
	}
	if err := fs.bitmap.EnsureInitialized(); err != nil {
		return err
	}

	dir, offset, err := fs.catalog.FindDir(r.Dir)
	if err != nil {
		return ErrNotFound
	}
	if dir.findFileIndex(r.Name, r.Ext) >= 0 {
		return ErrExists
	}
	// fileCount >= capacity, not >, per spec.md §9's off-by-one correction.
	if dir.FileCount >= MaxFilesPerDir {
		return ErrNotPermitted
	}

	dir.Files[dir.FileCount] = FileEntry{Name: r.Name, Ext: r.Ext, Size: 0, StartBlock: -1}
	dir.FileCount++
	return fs.catalog.WriteDirAt(offset, dir)
}

func (fs *FS) unlink(path string) error {
	r, err := ResolvePath(path)
	if err != nil {
		return err
	}
	if !r.HasFile() {
		return ErrIsADirectory
	}

	dir, offset, err := fs.catalog.FindDir(r.Dir)
	if err != nil {
		return ErrNotFound
	}
	idx := dir.findFileIndex(r.Name, r.Ext)
	if idx < 0 {
		return ErrNotFound
	}

	entry := dir.Files[idx]
	if entry.Size > 0 {
		if err := fs.bitmap.Free(entry.StartBlock, entry.Blocks()); err != nil {
			return err
		}
	}

	last := int(dir.FileCount) - 1
	dir.Files[idx] = dir.Files[last]
	dir.Files[last] = FileEntry{}
	dir.FileCount--
	return fs.catalog.WriteDirAt(offset, dir)
}

func (fs *FS) read(path string, size int, offset int64) ([]byte, error) {
	r, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}
	dir, _, err := fs.catalog.FindDir(r.Dir)
	if err != nil {
		return nil, ErrNotFound
	}
	idx := dir.findFileIndex(r.Name, r.Ext)
	if idx < 0 {
		return nil, ErrNotFound
	}

	entry := dir.Files[idx]
	if size == 0 || offset >= int64(entry.Size) {
		return nil, nil
	}
	if offset+int64(size) > int64(entry.Size) {
		size = int(int64(entry.Size) - offset)
	}
	return fs.dev.ReadAt(entry.StartBlock*BlockSize+offset, size)
}

// growExtent ensures entry has at least minBlocks blocks of contiguous
// storage. It frees the current extent and takes the first free run of
// minBlocks blocks, so the file keeps its start block only when that run
// begins there; otherwise the extent moves, even if growing in place would
// have fit. This is the one rollback point in the whole design (spec.md §9):
// if no run of minBlocks is free after the old extent is freed, the old
// extent is re-allocated before returning ErrNoSpace, so invariant 3 never
// stays broken across a failed operation.
func (fs *FS) growExtent(entry *FileEntry, minBlocks int64) error {
	curBlocks := entry.Blocks()
	if minBlocks <= curBlocks {
		return nil
	}

	if entry.Size > 0 {
		if err := fs.bitmap.Free(entry.StartBlock, curBlocks); err != nil {
			return err
		}
	}

	start := fs.bitmap.FindFreeSpace(minBlocks)
	if start < 0 {
		if entry.Size > 0 {
			if err := fs.bitmap.Allocate(entry.StartBlock, curBlocks); err != nil {
				return err
			}
		}
		return ErrNoSpace
	}

	if err := fs.bitmap.Allocate(start, minBlocks); err != nil {
		return err
	}

	// Copy the file's existing bytes into the new extent before any new
	// payload is written. spec.md §9 flags the source as losing this data
	// on relocation; this port treats that as a bug and fixes it.
	if entry.Size > 0 && start != entry.StartBlock {
		old, err := fs.dev.ReadAt(entry.StartBlock*BlockSize, int(entry.Size))
		if err != nil {
			return err
		}
		if err := fs.dev.WriteAt(start*BlockSize, old); err != nil {
			return err
		}
	}

	entry.StartBlock = start
	return nil
}

func (fs *FS) write(path string, buf []byte, offset int64) (int, error) {
	r, err := ResolvePath(path)
	if err != nil {
		return 0, err
	}
	dir, dirOffset, err := fs.catalog.FindDir(r.Dir)
	if err != nil {
		return 0, ErrNotFound
	}
	idx := dir.findFileIndex(r.Name, r.Ext)
	if idx < 0 {
		return 0, ErrNotFound
	}

	entry := dir.Files[idx]
	size := len(buf)
	if size == 0 || offset > int64(entry.Size) {
		return 0, nil
	}

	newBytes := (offset + int64(size)) - int64(entry.Size)
	if newBytes < 0 {
		newBytes = 0
	}
	curBlocks := entry.Blocks()
	availableTail := curBlocks*BlockSize - int64(entry.Size)

	if newBytes > availableTail {
		deficit := newBytes - availableTail
		extraBlocks := ceilDiv(deficit, BlockSize)
		if err := fs.growExtent(&entry, curBlocks+extraBlocks); err != nil {
			return 0, err
		}
	}

	if err := fs.dev.WriteAt(entry.StartBlock*BlockSize+offset, buf); err != nil {
		return 0, err
	}
	if offset+int64(size) > int64(entry.Size) {
		entry.Size = uint64(offset + int64(size))
	}

	dir.Files[idx] = entry
	if err := fs.catalog.WriteDirAt(dirOffset, dir); err != nil {
		return 0, err
	}
	return size, nil
}

func (fs *FS) truncate(path string, size uint64) error {
	r, err := ResolvePath(path)
	if err != nil {
		return err
	}
	dir, dirOffset, err := fs.catalog.FindDir(r.Dir)
	if err != nil {
		return ErrNotFound
	}
	idx := dir.findFileIndex(r.Name, r.Ext)
	if idx < 0 {
		return ErrNotFound
	}
	entry := dir.Files[idx]

	switch {
	case size < entry.Size:
		oldBlocks := entry.Blocks()
		newBlocks := int64(0)
		if size > 0 {
			newBlocks = ceilDiv(int64(size), BlockSize)
		}
		if newBlocks < oldBlocks {
			trimStart := entry.StartBlock + newBlocks
			if err := fs.bitmap.Free(trimStart, oldBlocks-newBlocks); err != nil {
				return err
			}
		}
		entry.Size = size
		if size == 0 {
			entry.StartBlock = -1
		}

	case size > entry.Size:
		neededBlocks := ceilDiv(int64(size), BlockSize)
		if err := fs.growExtent(&entry, neededBlocks); err != nil {
			return err
		}
		zeros := make([]byte, size-entry.Size)
		if err := fs.dev.WriteAt(entry.StartBlock*BlockSize+int64(entry.Size), zeros); err != nil {
			return err
		}
		entry.Size = size

	default:
		return nil
	}

	dir.Files[idx] = entry
	return fs.catalog.WriteDirAt(dirOffset, dir)
}

// ---- pathfs.FileSystem bridge: translates paths and sentinel errors at
// the FUSE boundary (spec.md §6, §7). ----

var _ pathfs.FileSystem = (*FS)(nil)

func toStatus(err error) fuse.Status {
	switch {
	case err == nil:
		return fuse.OK
	case err == ErrNotFound:
		return fuse.Status(syscall.ENOENT)
	case err == ErrExists:
		return fuse.Status(syscall.EEXIST)
	case err == ErrNotPermitted:
		return fuse.Status(syscall.EPERM)
	case err == ErrNotADirectory:
		return fuse.Status(syscall.ENOTDIR)
	case err == ErrIsADirectory:
		return fuse.Status(syscall.EISDIR)
	case err == ErrNameTooLong:
		return fuse.Status(syscall.ENAMETOOLONG)
	case err == ErrNoSpace:
		return fuse.Status(syscall.ENOSPC)
	case err == ErrInvalidPath:
		return fuse.Status(syscall.EINVAL)
	default:
		return fuse.Status(syscall.EIO)
	}
}

func (fs *FS) String() string {
	return "mkfs"
}

func (fs *FS) OnMount(nodeFS *pathfs.PathNodeFs) {
	log.Printf("mkfs: filesystem has been initialized")
}

func (fs *FS) OnUnmount() {
	log.Printf("mkfs: filesystem has been destroyed")
}

func (fs *FS) GetAttr(name string, context *fuse.Context) (*fuse.Attr, fuse.Status) {
	attr, err := fs.getAttr("/" + name)
	if err != nil {
		return nil, toStatus(err)
	}

	out := &fuse.Attr{Owner: fuse.Owner{Uid: fs.uid, Gid: fs.gid}}
	if attr.IsDir {
		out.Mode = uint32(syscall.S_IFDIR) | 0755
		out.Nlink = 2
	} else {
		out.Mode = uint32(syscall.S_IFREG) | 0666
		out.Nlink = 1
		out.Size = attr.Size
		out.Blocks = attr.Blocks
	}
	return out, fuse.OK
}

func (fs *FS) OpenDir(name string, context *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	names, err := fs.listDir("/" + name)
	if err != nil {
		return nil, toStatus(err)
	}

	entries := make([]fuse.DirEntry, 0, len(names)+2)
	if name == "" {
		entries = append(entries,
			fuse.DirEntry{Name: ".", Mode: uint32(syscall.S_IFDIR)},
			fuse.DirEntry{Name: "..", Mode: uint32(syscall.S_IFDIR)},
		)
		for _, n := range names {
			entries = append(entries, fuse.DirEntry{Name: n, Mode: uint32(syscall.S_IFDIR)})
		}
	} else {
		for _, n := range names {
			entries = append(entries, fuse.DirEntry{Name: n, Mode: uint32(syscall.S_IFREG)})
		}
	}
	return entries, fuse.OK
}

func (fs *FS) Mkdir(name string, mode uint32, context *fuse.Context) fuse.Status {
	return toStatus(fs.mkdir("/" + name))
}

func (fs *FS) Rmdir(name string, context *fuse.Context) fuse.Status {
	return toStatus(fs.rmdir("/" + name))
}

func (fs *FS) Mknod(name string, mode uint32, dev uint32, context *fuse.Context) fuse.Status {
	return toStatus(fs.mknod("/" + name))
}

func (fs *FS) Unlink(name string, context *fuse.Context) fuse.Status {
	return toStatus(fs.unlink("/" + name))
}

func (fs *FS) Truncate(name string, size uint64, context *fuse.Context) fuse.Status {
	return toStatus(fs.truncate("/"+name, size))
}

func (fs *FS) Open(name string, flags uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	r, err := ResolvePath("/" + name)
	if err != nil {
		return nil, toStatus(err)
	}
	if !r.HasFile() {
		return nil, fuse.Status(syscall.EISDIR)
	}
	if _, err := fs.getAttr("/" + name); err != nil {
		return nil, toStatus(err)
	}
	return newFileHandle(fs, r), fuse.OK
}
