package mkfs

import (
	"fmt"

	"github.com/boljen/go-bitmap"
)

// Bitmap is the free-block allocator. Its state lives at byte offset 0 of
// the backing Device; Bitmap keeps an in-memory mirror (bit arithmetic
// delegated to go-bitmap) and persists each mutated byte back to the device
// immediately, so every call leaves the on-disk bitmap consistent with the
// in-memory one.
type Bitmap struct {
	dev    *Device
	bits   bitmap.Bitmap
	blocks int64 // blocks occupied by the bitmap region itself (always allocated)
	last   int64 // last valid block index on the device
}

// OpenBitmap loads the bitmap region from dev. dev must already have at
// least one block of capacity.
func OpenBitmap(dev *Device) (*Bitmap, error) {
	total, err := dev.Blocks()
	if err != nil {
		return nil, err
	}
	if total <= 0 {
		return nil, fmt.Errorf("mkfs: device has no blocks")
	}

	last := total - 1
	blocks := bitmapBlockCount(total)

	raw, err := dev.ReadAt(0, int(blocks*BlockSize))
	if err != nil {
		return nil, err
	}

	return &Bitmap{dev: dev, bits: bitmap.Bitmap(raw), blocks: blocks, last: last}, nil
}

// bitmapBlockCount computes bitmapBlocks() from spec.md §4.2:
// ceil(ceil((last+1)/8)/512) + 1, the trailing +1 reserving a safety block.
func bitmapBlockCount(blocksOnDevice int64) int64 {
	byteCount := ceilDiv(blocksOnDevice, 8)
	blockCount := ceilDiv(byteCount, BlockSize)
	return blockCount + 1
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// LastBlockIndex is floor(deviceBytes/512) - 1.
func (b *Bitmap) LastBlockIndex() int64 {
	return b.last
}

// Blocks returns how many leading blocks the bitmap itself occupies.
func (b *Bitmap) Blocks() int64 {
	return b.blocks
}

func (b *Bitmap) checkIndex(i int64) error {
	if i < 0 || i > b.last {
		return fmt.Errorf("mkfs: block index %d out of range [0,%d]", i, b.last)
	}
	return nil
}

// GetState reads bit i.
func (b *Bitmap) GetState(i int64) (int, error) {
	if err := b.checkIndex(i); err != nil {
		return 0, err
	}
	if b.bits.Get(int(i)) {
		return 1, nil
	}
	return 0, nil
}

// persistBit writes back only the byte containing bit i, per spec.md §4.2.
func (b *Bitmap) persistBit(i int64) error {
	byteOff := i / 8
	return b.dev.WriteAt(byteOff, []byte{b.bits[byteOff]})
}

// Set flips bit i to 1 and persists the enclosing byte.
func (b *Bitmap) Set(i int64) error {
	if err := b.checkIndex(i); err != nil {
		return err
	}
	b.bits.Set(int(i), true)
	return b.persistBit(i)
}

// Unset flips bit i to 0 and persists the enclosing byte.
func (b *Bitmap) Unset(i int64) error {
	if err := b.checkIndex(i); err != nil {
		return err
	}
	b.bits.Set(int(i), false)
	return b.persistBit(i)
}

// Allocate sets bits [start, start+n).
func (b *Bitmap) Allocate(start, n int64) error {
	for i := start; i < start+n; i++ {
		if err := b.Set(i); err != nil {
			return err
		}
	}
	return nil
}

// Free unsets bits [start, start+n).
func (b *Bitmap) Free(start, n int64) error {
	for i := start; i < start+n; i++ {
		if err := b.Unset(i); err != nil {
			return err
		}
	}
	return nil
}

// FindFreeSpace scans left to right for the first contiguous run of n zero
// bits and returns its starting index, or -1 if none exists. Grounded on
// the run-tracking loop in dargueta-disko's allocatormap.go findRun: reset
// the run on a mismatched bit, return once the run reaches the target size.
func (b *Bitmap) FindFreeSpace(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var runStart, runSize int64
	for i := int64(0); i <= b.last; i++ {
		if b.bits.Get(int(i)) {
			runSize = 0
			continue
		}
		if runSize == 0 {
			runStart = i
		}
		runSize++
		if runSize == n {
			return runStart
		}
	}
	return -1
}

// EnsureInitialized sets bits [0, Blocks()) the first time it is called
// against a device whose byte 0 is still zero. spec.md §4.2 treats a zero
// byte 0 as unambiguous evidence of an empty device, since bit 0 must be 1
// once the bitmap exists (block 0 belongs to the bitmap itself).
func (b *Bitmap) EnsureInitialized() error {
	first, err := b.dev.ReadAt(0, 1)
	if err != nil {
		return err
	}
	if first[0] != 0 {
		return nil
	}
	return b.Allocate(0, b.blocks)
}
