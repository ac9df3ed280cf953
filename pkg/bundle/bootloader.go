package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/crosutil/factorypack/pkg/disk"
	"github.com/crosutil/factorypack/pkg/mount"
)

// A composed image still carries the source image's boot-loader
// configuration, which boots the usb slot. Retarget the default entry
// at the installed slot-A kernel.
var bootConfigEdits = []struct {
	path     string
	old, new string
}{
	{"syslinux/default.cfg", "chromeos-usb.A", "chromeos-hd.A"},
	{"efi/boot/grub.cfg", "set default=0", "set default=2"},
}

// FinalizeBootloader mounts the target's ESP read-write and rewrites
// the default boot target in whichever boot-loader configs are present.
// A target with no known config at all is broken, not finished.
func FinalizeBootloader(m mount.Mounter, target string) error {
	return m.WithPartition(target, disk.EFIPartNum, false, func(dir string) error {
		edited := 0
		for _, edit := range bootConfigEdits {
			path := filepath.Join(dir, edit.path)
			content, err := os.ReadFile(path)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return fmt.Errorf("reading boot config %s on %s: %w", edit.path, target, err)
			}
			updated := strings.ReplaceAll(string(content), edit.old, edit.new)
			if updated != string(content) {
				if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
					return fmt.Errorf("updating boot config %s on %s: %w", edit.path, target, err)
				}
				logrus.Infof("retargeted %s on %s", edit.path, target)
			}
			edited++
		}
		if edited == 0 {
			return fmt.Errorf("no boot-loader configuration found on ESP of %s", target)
		}
		return nil
	})
}
