package mkfs

import (
	"fmt"
	"os"
)

// BlockSize is the fixed size, in bytes, of a single addressable block on
// the backing device.
const BlockSize = 512

// Device is a byte-addressable view of the single host file backing the
// filesystem. All on-disk addressing elsewhere in this package is in terms
// of block indices; Device only deals in byte offsets.
type Device struct {
	f *os.File
}

// OpenDevice opens (and, if missing and createIfMissing is set, creates) the
// host file at path and returns a Device over it. The caller is responsible
// for ensuring the device has non-zero capacity before mounting; OpenDevice
// itself never grows the file.
func OpenDevice(path string, createIfMissing bool) (*Device, error) {
	flags := os.O_RDWR
	if createIfMissing {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("mkfs: open device %q: %w", path, err)
	}
	return &Device{f: f}, nil
}

// Format truncates (growing or shrinking) the host file at path to exactly
// blocks*BlockSize bytes, creating it if necessary. This is the one-time
// step an operator runs before the first mount of a fresh backing file;
// spec.md §4.1 leaves ensuring non-zero capacity to the caller, and this is
// that caller.
func Format(path string, blocks int64) error {
	if blocks <= 0 {
		return fmt.Errorf("mkfs: format %q: blocks must be positive, got %d", path, blocks)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("mkfs: format %q: %w", path, err)
	}
	defer f.Close()
	if err := f.Truncate(blocks * BlockSize); err != nil {
		return fmt.Errorf("mkfs: format %q: %w", path, err)
	}
	return nil
}

// Close releases the underlying host file handle.
func (d *Device) Close() error {
	return d.f.Close()
}

// Size returns the current byte length of the backing device.
func (d *Device) Size() (int64, error) {
	st, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Blocks returns the number of whole BlockSize blocks the device currently holds.
func (d *Device) Blocks() (int64, error) {
	sz, err := d.Size()
	if err != nil {
		return 0, err
	}
	return sz / BlockSize, nil
}

// ReadAt reads n bytes starting at byte offset off.
func (d *Device) ReadAt(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := d.f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("mkfs: read device at %d: %w", off, err)
	}
	return buf, nil
}

// WriteAt writes buf at byte offset off.
func (d *Device) WriteAt(off int64, buf []byte) error {
	if _, err := d.f.WriteAt(buf, off); err != nil {
		return fmt.Errorf("mkfs: write device at %d: %w", off, err)
	}
	return nil
}

// ReadBlock reads the block with the given index.
func (d *Device) ReadBlock(index int64) ([]byte, error) {
	return d.ReadAt(index*BlockSize, BlockSize)
}

// WriteBlock writes buf (at most BlockSize bytes, zero-padded) to the block
// with the given index.
func (d *Device) WriteBlock(index int64, buf []byte) error {
	if len(buf) > BlockSize {
		return fmt.Errorf("mkfs: write block %d: payload exceeds block size", index)
	}
	if len(buf) < BlockSize {
		padded := make([]byte, BlockSize)
		copy(padded, buf)
		buf = padded
	}
	return d.WriteAt(index*BlockSize, buf)
}
