package mkfs_test

import (
	"path/filepath"
	"testing"

	"github.com/mmichaelk/mkfs"
)

func TestFormatAndOpenDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	if err := mkfs.Format(path, 64); err != nil {
		t.Fatalf("Format: %s", err)
	}

	dev, err := mkfs.OpenDevice(path, false)
	if err != nil {
		t.Fatalf("OpenDevice: %s", err)
	}
	defer dev.Close()

	blocks, err := dev.Blocks()
	if err != nil {
		t.Fatalf("Blocks: %s", err)
	}
	if blocks != 64 {
		t.Fatalf("expected 64 blocks, got %d", blocks)
	}
}

func TestFormatRejectsNonPositiveBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	if err := mkfs.Format(path, 0); err == nil {
		t.Fatal("expected an error formatting with 0 blocks")
	}
}

func TestDeviceReadWriteBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	if err := mkfs.Format(path, 4); err != nil {
		t.Fatalf("Format: %s", err)
	}
	dev, err := mkfs.OpenDevice(path, false)
	if err != nil {
		t.Fatalf("OpenDevice: %s", err)
	}
	defer dev.Close()

	payload := []byte("hello, block")
	if err := dev.WriteBlock(2, payload); err != nil {
		t.Fatalf("WriteBlock: %s", err)
	}

	got, err := dev.ReadBlock(2)
	if err != nil {
		t.Fatalf("ReadBlock: %s", err)
	}
	if string(got[:len(payload)]) != string(payload) {
		t.Fatalf("expected %q, got %q", payload, got[:len(payload)])
	}
	for _, b := range got[len(payload):] {
		if b != 0 {
			t.Fatalf("expected zero padding after payload, got %v", got[len(payload):])
		}
	}
}

func TestDeviceOpenMissingWithoutCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.img")
	if _, err := mkfs.OpenDevice(path, false); err == nil {
		t.Fatal("expected an error opening a missing device without createIfMissing")
	}
}
