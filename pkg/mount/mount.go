// Package mount provides scoped filesystem access to single partitions
// of an image. Mount points live for the duration of a callback and are
// always unmounted afterwards, including on error.
package mount

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/crosutil/factorypack/pkg/disk"
)

// Mounter grants callback-scoped access to one partition's filesystem.
// The directory passed to fn is only valid until fn returns.
type Mounter interface {
	WithPartition(image string, partition int, readOnly bool, fn func(dir string) error) error
}

// Loopback mounts partitions with mount(8) loop devices, using the
// table reader to find the partition's byte range. This requires the
// privileges of the calling process; a refused mount surfaces as a
// permission error, escalation is the caller's concern.
type Loopback struct {
	Table disk.TableReader

	// run is swapped out in tests.
	run func(name string, args ...string) error
}

func NewLoopback(table disk.TableReader) *Loopback {
	return &Loopback{Table: table}
}

func (l *Loopback) exec(name string, args ...string) error {
	if l.run != nil {
		return l.run(name, args...)
	}
	logrus.Debugf("running: %s %s", name, strings.Join(args, " "))
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s failed: %w\noutput: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// WithPartition implements Mounter.
func (l *Loopback) WithPartition(image string, partition int, readOnly bool, fn func(dir string) error) error {
	rng, err := (disk.Ref{Image: image, Number: partition}).Resolve(l.Table)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "factorypack-mnt-")
	if err != nil {
		return fmt.Errorf("cannot create mount point: %w", err)
	}
	defer os.RemoveAll(dir)

	opts := fmt.Sprintf("loop,offset=%d,sizelimit=%d", rng.Start, rng.Length)
	if readOnly {
		opts += ",ro"
	}
	if err := l.exec("mount", "-o", opts, image, dir); err != nil {
		return fmt.Errorf("cannot mount %s partition %d: %w", image, partition, err)
	}

	fnErr := fn(dir)
	if err := l.exec("umount", dir); err != nil {
		return errors.Join(fnErr, fmt.Errorf("cannot unmount %s: %w", dir, err))
	}
	return fnErr
}
