// Package cgpt drives the external cgpt utility. It implements the
// disk.TableReader and disk.TableWriter collaborator interfaces so the
// rest of the tool never parses GPT structures itself.
package cgpt

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/crosutil/factorypack/pkg/disk"
)

// Tool locates partitions and installs partition tables by running the
// cgpt binary. The zero value uses "cgpt" from PATH.
type Tool struct {
	// Path of the cgpt binary, default "cgpt".
	Path string

	// run is swapped out in tests.
	run func(args ...string) (string, error)
}

func New() *Tool {
	return &Tool{Path: "cgpt"}
}

func (t *Tool) exec(args ...string) (string, error) {
	if t.run != nil {
		return t.run(args...)
	}
	bin := t.Path
	if bin == "" {
		bin = "cgpt"
	}
	logrus.Debugf("running: %s %s", bin, strings.Join(args, " "))
	out, err := exec.Command(bin, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s failed: %w\noutput: %s", bin, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// showValue runs `cgpt show -i <num> <flag> <image>` and parses the
// single numeric result.
func (t *Tool) showValue(image string, number int, flag string) (uint64, error) {
	out, err := t.exec("show", "-i", strconv.Itoa(number), flag, image)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected cgpt show output %q for %s partition %d: %w", strings.TrimSpace(out), image, number, err)
	}
	return v, nil
}

// PartitionRange implements disk.TableReader.
func (t *Tool) PartitionRange(image string, number int) (disk.Range, error) {
	startSectors, err := t.showValue(image, number, "-b")
	if err != nil {
		return disk.Range{}, err
	}
	sizeSectors, err := t.showValue(image, number, "-s")
	if err != nil {
		return disk.Range{}, err
	}
	return disk.Range{
		Start:  startSectors * disk.SectorSize,
		Length: sizeSectors * disk.SectorSize,
	}, nil
}

// Install implements disk.TableWriter: it writes a fresh GPT sized to
// the layout, installs the supplied PMBR boot code, adds every
// partition and finally applies the boot attributes of the bootable
// kernel slot.
func (t *Tool) Install(target string, pt *disk.PartitionTable, pmbrCode []byte) error {
	if _, err := t.exec("create", target); err != nil {
		return err
	}

	if len(pmbrCode) > 0 {
		pmbrFile, err := os.CreateTemp("", "pmbr-")
		if err != nil {
			return fmt.Errorf("cannot stage PMBR boot code: %w", err)
		}
		defer os.Remove(pmbrFile.Name())
		if _, err := pmbrFile.Write(pmbrCode); err != nil {
			pmbrFile.Close()
			return fmt.Errorf("cannot stage PMBR boot code: %w", err)
		}
		if err := pmbrFile.Close(); err != nil {
			return err
		}
		if _, err := t.exec("boot", "-p", "-b", pmbrFile.Name(), target); err != nil {
			return err
		}
	}

	for _, p := range pt.Partitions {
		args := []string{
			"add",
			"-i", strconv.Itoa(p.Number),
			"-b", strconv.FormatUint(p.Start/disk.SectorSize, 10),
			"-s", strconv.FormatUint(p.Size/disk.SectorSize, 10),
			"-t", p.Type,
			"-l", p.Label,
		}
		if p.UUID != "" {
			args = append(args, "-u", p.UUID)
		}
		if p.Bootable {
			args = append(args,
				"-S", boolArg(p.Successful),
				"-T", strconv.Itoa(p.Tries),
				"-P", strconv.Itoa(p.Priority),
			)
		}
		args = append(args, target)
		if _, err := t.exec(args...); err != nil {
			return err
		}
	}
	return nil
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
