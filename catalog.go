package mkfs

import (
	"encoding/binary"
	"fmt"
	"os"
)

// MaxNameLen is the maximum length of a directory name or a file base name.
const MaxNameLen = 8

// MaxExtLen is the maximum length of a file extension.
const MaxExtLen = 3

const (
	nameFieldWidth = MaxNameLen + 1 // + NUL
	extFieldWidth  = MaxExtLen + 1  // + NUL
	fileEntrySize  = nameFieldWidth + extFieldWidth + 8 /* size */ + 8 /* startBlock */
)

// MaxFilesPerDir is the fixed capacity of a directory record's file table,
// derived from spec.md §3: (512 - 9 - sizeof(int32)) / sizeof(fileEntry).
// catalog_test.go asserts this against the encoded record layout so a
// future change to the entry encoding can't silently shrink it.
const MaxFilesPerDir = (BlockSize - nameFieldWidth - 4) / fileEntrySize

const dirRecordSize = nameFieldWidth + 4 /* fileCount */ + MaxFilesPerDir*fileEntrySize

// FileEntry describes a single file within a directory.
type FileEntry struct {
	Name       string // up to MaxNameLen characters
	Ext        string // up to MaxExtLen characters; "" means no extension
	Size       uint64
	StartBlock int64 // -1 means no blocks allocated yet
}

// FormattedName returns "name" or "name.ext" depending on whether Ext is set.
func (e FileEntry) FormattedName() string {
	if e.Ext == "" {
		return e.Name
	}
	return e.Name + "." + e.Ext
}

// Blocks returns ceil(Size/BlockSize), the number of blocks the file's
// extent occupies.
func (e FileEntry) Blocks() int64 {
	if e.Size == 0 {
		return 0
	}
	return ceilDiv(int64(e.Size), BlockSize)
}

// DirRecord is a directory and its fixed-capacity file table.
type DirRecord struct {
	Name      string
	FileCount int32
	Files     [MaxFilesPerDir]FileEntry
}

// findFileIndex scans Files[0:FileCount] for (name, ext). Returns -1 if absent.
func (d *DirRecord) findFileIndex(name, ext string) int {
	for i := 0; i < int(d.FileCount); i++ {
		if d.Files[i].Name == name && d.Files[i].Ext == ext {
			return i
		}
	}
	return -1
}

// Catalog persists directory records back-to-back in an auxiliary host
// file, independent of the block device. Record offset = index * recordSize.
type Catalog struct {
	f *os.File
}

// OpenCatalog opens (and, if missing and createIfMissing is set, creates)
// the catalog file at path.
func OpenCatalog(path string, createIfMissing bool) (*Catalog, error) {
	flags := os.O_RDWR
	if createIfMissing {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("mkfs: open catalog %q: %w", path, err)
	}
	return &Catalog{f: f}, nil
}

// Close releases the underlying host file handle.
func (c *Catalog) Close() error {
	return c.f.Close()
}

// count returns the number of directory records currently stored.
func (c *Catalog) count() (int64, error) {
	st, err := c.f.Stat()
	if err != nil {
		return 0, err
	}
	if st.Size()%dirRecordSize != 0 {
		return 0, fmt.Errorf("mkfs: catalog file size %d is not a multiple of record size %d", st.Size(), dirRecordSize)
	}
	return st.Size() / dirRecordSize, nil
}

func (c *Catalog) readAt(offset int64) (DirRecord, error) {
	buf := make([]byte, dirRecordSize)
	if _, err := c.f.ReadAt(buf, offset); err != nil {
		return DirRecord{}, fmt.Errorf("mkfs: read catalog record at %d: %w", offset, err)
	}
	return decodeDirRecord(buf), nil
}

// FindDir linear-scans the catalog from the start for a directory named name.
func (c *Catalog) FindDir(name string) (DirRecord, int64, error) {
	n, err := c.count()
	if err != nil {
		return DirRecord{}, 0, err
	}
	for i := int64(0); i < n; i++ {
		offset := i * dirRecordSize
		rec, err := c.readAt(offset)
		if err != nil {
			return DirRecord{}, 0, err
		}
		if rec.Name == name {
			return rec, offset, nil
		}
	}
	return DirRecord{}, 0, ErrNotFound
}

// ListDirs returns every directory record currently in the catalog, in
// storage order (which, after any RemoveDirAt, no longer reflects insertion
// order - see spec.md §9 on swap-with-last).
func (c *Catalog) ListDirs() ([]DirRecord, error) {
	n, err := c.count()
	if err != nil {
		return nil, err
	}
	recs := make([]DirRecord, 0, n)
	for i := int64(0); i < n; i++ {
		rec, err := c.readAt(i * dirRecordSize)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// AppendDir appends a new zero-file record. Callers must check for an
// existing directory of the same name first; AppendDir does not deduplicate.
func (c *Catalog) AppendDir(name string) (int64, error) {
	n, err := c.count()
	if err != nil {
		return 0, err
	}
	offset := n * dirRecordSize
	rec := DirRecord{Name: name}
	if err := c.WriteDirAt(offset, rec); err != nil {
		return 0, err
	}
	return offset, nil
}

// WriteDirAt overwrites the record at offset in place.
func (c *Catalog) WriteDirAt(offset int64, rec DirRecord) error {
	buf := encodeDirRecord(rec)
	if _, err := c.f.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("mkfs: write catalog record at %d: %w", offset, err)
	}
	return nil
}

// RemoveDirAt removes the record at offset via swap-with-last: the last
// record is read, written over offset, and the file is truncated by one
// record. If offset already points at the last record this degenerates to a
// plain truncate. Ordering after removal is not guaranteed to reflect
// insertion order (spec.md §4.3, §9).
func (c *Catalog) RemoveDirAt(offset int64) error {
	n, err := c.count()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("mkfs: remove from empty catalog")
	}
	lastOffset := (n - 1) * dirRecordSize
	if offset != lastOffset {
		last, err := c.readAt(lastOffset)
		if err != nil {
			return err
		}
		if err := c.WriteDirAt(offset, last); err != nil {
			return err
		}
	}
	if err := c.f.Truncate(lastOffset); err != nil {
		return fmt.Errorf("mkfs: truncate catalog: %w", err)
	}
	return nil
}

// FindFile scans dir.Files[0:FileCount] for (name, ext), returning its
// index or -1 if absent.
func (c *Catalog) FindFile(dir DirRecord, name, ext string) int {
	return dir.findFileIndex(name, ext)
}

func encodeName(s string, width int) []byte {
	buf := make([]byte, width)
	n := len(s)
	if n > width-1 {
		n = width - 1
	}
	copy(buf, s[:n])
	return buf
}

func decodeName(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

func encodeFileEntry(e FileEntry) []byte {
	buf := make([]byte, fileEntrySize)
	off := 0
	copy(buf[off:], encodeName(e.Name, nameFieldWidth))
	off += nameFieldWidth
	copy(buf[off:], encodeName(e.Ext, extFieldWidth))
	off += extFieldWidth
	binary.LittleEndian.PutUint64(buf[off:], e.Size)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(e.StartBlock))
	return buf
}

func decodeFileEntry(buf []byte) FileEntry {
	off := 0
	name := decodeName(buf[off : off+nameFieldWidth])
	off += nameFieldWidth
	ext := decodeName(buf[off : off+extFieldWidth])
	off += extFieldWidth
	size := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	startBlock := int64(binary.LittleEndian.Uint64(buf[off:]))
	return FileEntry{Name: name, Ext: ext, Size: size, StartBlock: startBlock}
}

func encodeDirRecord(rec DirRecord) []byte {
	buf := make([]byte, dirRecordSize)
	off := 0
	copy(buf[off:], encodeName(rec.Name, nameFieldWidth))
	off += nameFieldWidth
	binary.LittleEndian.PutUint32(buf[off:], uint32(rec.FileCount))
	off += 4
	for i := 0; i < MaxFilesPerDir; i++ {
		copy(buf[off:], encodeFileEntry(rec.Files[i]))
		off += fileEntrySize
	}
	return buf
}

func decodeDirRecord(buf []byte) DirRecord {
	var rec DirRecord
	off := 0
	rec.Name = decodeName(buf[off : off+nameFieldWidth])
	off += nameFieldWidth
	rec.FileCount = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	for i := 0; i < MaxFilesPerDir; i++ {
		rec.Files[i] = decodeFileEntry(buf[off : off+fileEntrySize])
		off += fileEntrySize
	}
	return rec
}
