package image

import (
	"fmt"
	"path/filepath"

	"gopkg.in/ini.v1"

	"github.com/crosutil/factorypack/pkg/disk"
	"github.com/crosutil/factorypack/pkg/mount"
)

// Identity is what an image says about itself in /etc/lsb-release on
// its rootfs.
type Identity struct {
	Board   string
	Version string
	Track   string
}

const lsbReleasePath = "etc/lsb-release"

// ReadIdentity mounts the image's slot-A rootfs read-only and parses
// its lsb-release file.
func ReadIdentity(m mount.Mounter, img string) (Identity, error) {
	var id Identity
	err := m.WithPartition(img, disk.RootAPartNum, true, func(dir string) error {
		cfg, err := ini.Load(filepath.Join(dir, lsbReleasePath))
		if err != nil {
			return fmt.Errorf("cannot read %s from %s: %w", lsbReleasePath, img, err)
		}
		sec := cfg.Section("")
		id.Board = sec.Key("CHROMEOS_RELEASE_BOARD").String()
		id.Version = sec.Key("CHROMEOS_RELEASE_VERSION").String()
		id.Track = sec.Key("CHROMEOS_RELEASE_TRACK").String()
		if id.Board == "" {
			return fmt.Errorf("%s in %s does not name a board", lsbReleasePath, img)
		}
		return nil
	})
	return id, err
}
