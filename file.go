package mkfs

import (
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
)

// fileHandle is the nodefs.File returned by FS.Open. It resolves back to a
// path string on every call rather than caching the directory/file-entry
// lookup, so it always observes the latest catalog state for its path (the
// catalog is the single source of truth - caching it here would risk a
// stale view after a relocating write from another handle).
type fileHandle struct {
	nodefs.File
	fs   *FS
	path string
}

func newFileHandle(fs *FS, r Resolved) nodefs.File {
	path := "/" + r.Dir + "/" + r.Name
	if r.Ext != "" {
		path += "." + r.Ext
	}
	return &fileHandle{File: nodefs.NewDefaultFile(), fs: fs, path: path}
}

func (h *fileHandle) String() string {
	return "mkfsFile(" + h.path + ")"
}

func (h *fileHandle) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	data, err := h.fs.read(h.path, len(dest), off)
	if err != nil {
		return nil, toStatus(err)
	}
	return fuse.ReadResultData(data), fuse.OK
}

func (h *fileHandle) Write(data []byte, off int64) (uint32, fuse.Status) {
	n, err := h.fs.write(h.path, data, off)
	if err != nil {
		return 0, toStatus(err)
	}
	return uint32(n), fuse.OK
}

// Flush is a no-op per spec.md §4.5; there is no write-back buffer to drain.
func (h *fileHandle) Flush() fuse.Status {
	return fuse.OK
}

func (h *fileHandle) Truncate(size uint64) fuse.Status {
	return toStatus(h.fs.truncate(h.path, size))
}

func (h *fileHandle) GetAttr(out *fuse.Attr) fuse.Status {
	attr, err := h.fs.getAttr(h.path)
	if err != nil {
		return toStatus(err)
	}
	out.Owner = fuse.Owner{Uid: h.fs.uid, Gid: h.fs.gid}
	out.Mode = uint32(syscall.S_IFREG) | 0666
	out.Size = attr.Size
	out.Blocks = attr.Blocks
	out.Nlink = 1
	return fuse.OK
}
