// Command mkfsmount mounts a mkfs two-level filesystem via FUSE.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"
	"golang.org/x/sys/unix"

	"github.com/mmichaelk/mkfs"
)

const usage = `mkfsmount - mount a mkfs two-level FUSE filesystem

Usage:
  mkfsmount mount [-device disk.img] [-catalog catalog.db] [-debug] <mountpoint>
  mkfsmount format [-device disk.img] -blocks <n>
  mkfsmount help

Examples:
  mkfsmount format -device disk.img -blocks 2048
  mkfsmount mount -device disk.img -catalog disk.catalog /mnt/mkfs
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "mount":
		if err := runMount(os.Args[2:]); err != nil {
			log.Fatalf("mkfsmount: %s", err)
		}
	case "format":
		if err := runFormat(os.Args[2:]); err != nil {
			log.Fatalf("mkfsmount: %s", err)
		}
	case "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func runFormat(args []string) error {
	fset := flag.NewFlagSet("format", flag.ExitOnError)
	device := fset.String("device", "disk.img", "path to the backing device file")
	blocks := fset.Int64("blocks", 0, "number of 512-byte blocks to allocate")
	fset.Parse(args)

	if *blocks <= 0 {
		return fmt.Errorf("-blocks must be positive")
	}
	return mkfs.Format(*device, *blocks)
}

func runMount(args []string) error {
	fset := flag.NewFlagSet("mount", flag.ExitOnError)
	device := fset.String("device", "disk.img", "path to the backing device file")
	catalog := fset.String("catalog", "catalog.db", "path to the directory catalog file")
	debug := fset.Bool("debug", false, "enable FUSE debug logging")
	fset.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fset.PrintDefaults()
	}
	fset.Parse(args)

	if fset.NArg() != 1 {
		fset.Usage()
		os.Exit(1)
	}
	mountpoint := fset.Arg(0)

	root, err := mkfs.New(*device, *catalog)
	if err != nil {
		return err
	}
	defer root.Close()

	nfs := pathfs.NewPathNodeFs(root, nil)
	conn := nodefs.NewFileSystemConnector(nfs.Root(), nodefs.NewOptions())
	server, err := fuse.NewServer(conn.RawFS(), mountpoint, &fuse.MountOptions{
		Debug: *debug,
		Name:  "mkfs",
	})
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("mkfsmount: signal received, unmounting %s", mountpoint)
		if err := server.Unmount(); err != nil {
			log.Printf("mkfsmount: unmount failed: %s", err)
		}
	}()

	server.Serve()
	return nil
}
