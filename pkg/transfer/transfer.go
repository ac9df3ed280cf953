// Package transfer moves partition content between images as streaming
// byte-for-byte copies. No full partition is ever buffered in memory,
// and a short read or write aborts the run immediately: a silently
// truncated transfer would produce a corrupt image that looks valid.
package transfer

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/crosutil/factorypack/pkg/disk"
)

// copyBufSize is the buffer used for streaming transfers.
const copyBufSize = 4 * 1024 * 1024

// Engine copies partitions from source images into a target image. The
// source and target tables may resolve through different collaborators:
// sources are usually read through the external table reader while a
// freshly composed target resolves through its in-memory layout.
type Engine struct {
	Source disk.TableReader
	Target disk.TableReader
}

// Copy transfers exactly the destination partition's declared capacity
// from src to dst. It is used when the destination size is fixed by the
// GPT layout and must not change, so a source that is larger or smaller
// than the destination is fatal rather than silently truncated or
// short-read.
func (e *Engine) Copy(src, dst disk.Ref) error {
	srcRng, err := src.Resolve(e.Source)
	if err != nil {
		return err
	}
	dstRng, err := dst.Resolve(e.Target)
	if err != nil {
		return err
	}

	if srcRng.Length > dstRng.Length {
		return fmt.Errorf("source %s (%d bytes) exceeds capacity of %s (%d bytes)", src, srcRng.Length, dst, dstRng.Length)
	}
	if srcRng.Length < dstRng.Length {
		return fmt.Errorf("source %s (%d bytes) cannot fill %s (%d bytes)", src, srcRng.Length, dst, dstRng.Length)
	}
	return e.stream(src, srcRng, dst, dstRng, dstRng.Length)
}

// Overwrite transfers the source partition's actual content length into
// dst. It is used when the destination partition is being defined by
// the copy itself, so only the source's bytes end up occupied.
func (e *Engine) Overwrite(src, dst disk.Ref) error {
	srcRng, err := src.Resolve(e.Source)
	if err != nil {
		return err
	}
	dstRng, err := dst.Resolve(e.Target)
	if err != nil {
		return err
	}

	if srcRng.Length > dstRng.Length {
		return fmt.Errorf("source %s (%d bytes) exceeds capacity of %s (%d bytes)", src, srcRng.Length, dst, dstRng.Length)
	}
	return e.stream(src, srcRng, dst, dstRng, srcRng.Length)
}

func (e *Engine) stream(src disk.Ref, srcRng disk.Range, dst disk.Ref, dstRng disk.Range, length uint64) error {
	logrus.Infof("transferring %d bytes: %s -> %s", length, src, dst)

	in, err := os.Open(src.Image)
	if err != nil {
		return fmt.Errorf("cannot open source %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst.Image, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open destination %s: %w", dst, err)
	}
	defer out.Close()

	reader := io.NewSectionReader(in, int64(srcRng.Start), int64(length))
	writer := io.NewOffsetWriter(out, int64(dstRng.Start))

	buf := make([]byte, copyBufSize)
	n, err := io.CopyBuffer(writer, reader, buf)
	if err != nil {
		return fmt.Errorf("transfer %s -> %s failed after %d of %d bytes: %w", src, dst, n, length, err)
	}
	if uint64(n) != length {
		return fmt.Errorf("short transfer %s -> %s: %d of %d bytes", src, dst, n, length)
	}
	return out.Sync()
}
