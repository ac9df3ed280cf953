// Package blockdev provides sector-addressed access to image files and
// block devices. All offsets and lengths are in bytes unless a function
// name says otherwise; one sector is 512 bytes.
package blockdev

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// SectorSize is the logical sector size assumed throughout. All source
// and target images use 512-byte sectors.
const SectorSize = 512

// IsBlockDevice reports whether path refers to a block device node.
func IsBlockDevice(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, fmt.Errorf("cannot stat %s: %w", path, err)
	}
	return st.Mode&unix.S_IFMT == unix.S_IFBLK, nil
}

// Size returns the usable size of path in bytes. For block devices the
// kernel is asked directly, for regular files the file size is used.
func Size(path string) (uint64, error) {
	isBlk, err := IsBlockDevice(path)
	if err != nil {
		return 0, err
	}
	if !isBlk {
		fi, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		return uint64(fi.Size()), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("cannot open block device %s: %w", path, err)
	}
	defer f.Close()
	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, fmt.Errorf("cannot get size of block device %s: %w", path, err)
	}
	return uint64(size), nil
}

// IsReadOnly reports whether path is a block device that the kernel has
// marked read-only. Regular files always report false; plain permission
// problems surface later as write errors.
func IsReadOnly(path string) (bool, error) {
	isBlk, err := IsBlockDevice(path)
	if err != nil || !isBlk {
		return false, err
	}
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("cannot open block device %s: %w", path, err)
	}
	defer f.Close()
	ro, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKROGET)
	if err != nil {
		return false, fmt.Errorf("cannot get read-only state of %s: %w", path, err)
	}
	return ro != 0, nil
}

// Reader returns a reader over the byte range [offset, offset+length)
// of path together with a close function.
func Reader(path string, offset, length uint64) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	return io.NewSectionReader(f, int64(offset), int64(length)), f.Close, nil
}

// ReadRange reads exactly length bytes starting at offset from path.
func ReadRange(path string, offset, length uint64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("short read from %s at offset %d: %w", path, offset, err)
	}
	return buf, nil
}

// WriteRange writes buf to path starting at offset, without changing the
// file length. The file must already exist.
func WriteRange(path string, offset uint64, buf []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open %s for writing: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteAt(buf, int64(offset)); err != nil {
		return fmt.Errorf("short write to %s at offset %d: %w", path, offset, err)
	}
	return f.Sync()
}
