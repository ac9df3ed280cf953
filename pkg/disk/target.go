package disk

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/crosutil/factorypack/pkg/blockdev"
)

// Builder materializes target images: it sizes the underlying file or
// validates the underlying device, then delegates table installation to
// the configured TableWriter. Build must have fully returned before any
// partition content is written to the target.
type Builder struct {
	Writer TableWriter
}

// Build prepares target for the given layout. Regular files are created
// or truncated to exactly pt.Bytes(); when preserve is set and the file
// already has the right size its content is reused. Block devices are
// never resized: a device smaller than the layout, or one the kernel
// reports read-only, is fatal.
func (b *Builder) Build(target string, pt *PartitionTable, pmbrCode []byte, preserve bool) error {
	var isBlk bool
	if _, err := os.Stat(target); err == nil {
		var blkErr error
		isBlk, blkErr = blockdev.IsBlockDevice(target)
		if blkErr != nil {
			return blkErr
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("cannot stat target %s: %w", target, err)
	}

	if isBlk {
		ro, err := blockdev.IsReadOnly(target)
		if err != nil {
			return err
		}
		if ro {
			return fmt.Errorf("target device %s is read-only", target)
		}
		devSize, err := blockdev.Size(target)
		if err != nil {
			return err
		}
		if devSize < pt.Bytes() {
			return fmt.Errorf("target device %s holds %d bytes, layout needs %d", target, devSize, pt.Bytes())
		}
		if devSize > pt.Bytes() {
			logrus.Infof("device %s is larger than the layout, GPT will cover %d sectors", target, pt.Sectors)
		}
	} else {
		if err := sizeTargetFile(target, pt.Bytes(), preserve); err != nil {
			return err
		}
	}

	if err := b.Writer.Install(target, pt, pmbrCode); err != nil {
		return fmt.Errorf("cannot install partition table on %s: %w", target, err)
	}
	return nil
}

func sizeTargetFile(target string, size uint64, preserve bool) error {
	if fi, err := os.Stat(target); err == nil {
		if preserve && uint64(fi.Size()) == size {
			logrus.Infof("reusing existing target image %s", target)
			return nil
		}
		if preserve {
			logrus.Warnf("existing target %s has wrong size (%d != %d), recreating", target, fi.Size(), size)
		}
	}

	f, err := os.OpenFile(target, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("cannot create target image %s: %w", target, err)
	}
	defer f.Close()
	if err := f.Truncate(int64(size)); err != nil {
		return fmt.Errorf("cannot size target image %s to %d bytes: %w", target, size, err)
	}
	return nil
}
