// Package firmware pulls the EC and BIOS blobs out of a release image.
// The rootfs ships a self-extracting updater at
// usr/sbin/chromeos-firmwareupdate; its -V listing names the embedded
// blobs and --sb_extract unpacks them to a temporary directory.
package firmware

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/crosutil/factorypack/pkg/disk"
	"github.com/crosutil/factorypack/pkg/mount"
)

// UpdaterPath is the updater's location inside the mounted rootfs.
const UpdaterPath = "usr/sbin/chromeos-firmwareupdate"

const (
	ecFile   = "ec.bin"
	biosFile = "bios.bin"
)

// Listing names the firmware blobs embedded in an updater, under the
// labels they should be shipped as.
type Listing struct {
	EC   string
	BIOS string
}

var (
	entryRe = regexp.MustCompile(`\./(\S+)`)
	ecRe    = regexp.MustCompile(`EC image:.*?(Alex\S*)`)
	biosRe  = regexp.MustCompile(`BIOS image:.*?(Alex\S*)`)
)

// ParseListing reads the output of "chromeos-firmwareupdate -V". The
// embedded archive must carry ec.bin and bios.bin; the image labels
// give the blobs their shipped names, falling back to the plain file
// names when no label is found.
func ParseListing(output string) (Listing, error) {
	if strings.TrimSpace(output) == "" {
		return Listing{}, fmt.Errorf("empty firmware updater listing")
	}

	files := make(map[string]bool)
	for _, m := range entryRe.FindAllStringSubmatch(output, -1) {
		files[m[1]] = true
	}
	if !files[ecFile] {
		return Listing{}, fmt.Errorf("firmware updater carries no %s", ecFile)
	}
	if !files[biosFile] {
		return Listing{}, fmt.Errorf("firmware updater carries no %s", biosFile)
	}

	listing := Listing{EC: ecFile, BIOS: biosFile}
	if m := ecRe.FindStringSubmatch(output); m != nil {
		listing.EC = m[1]
	} else {
		logrus.Warnf("no EC image label found, keeping %s", ecFile)
	}
	if m := biosRe.FindStringSubmatch(output); m != nil {
		listing.BIOS = m[1]
	} else {
		logrus.Warnf("no BIOS image label found, keeping %s", biosFile)
	}
	return listing, nil
}

var extractDirRe = regexp.MustCompile(`/tmp/tmp\.\S+`)

// Extractor copies firmware blobs from a release image into a bundle
// directory.
type Extractor struct {
	Mounter mount.Mounter

	// run is swapped out in tests.
	run func(name string, args ...string) (string, error)
}

func NewExtractor(m mount.Mounter) *Extractor {
	return &Extractor{Mounter: m}
}

func (e *Extractor) exec(name string, args ...string) (string, error) {
	if e.run != nil {
		return e.run(name, args...)
	}
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w, output:\n%s", name, strings.Join(args, " "), err, out)
	}
	return string(out), nil
}

// Extract mounts the release image's rootfs read-only, unpacks the
// embedded firmware and copies the blobs plus the updater itself into
// destDir. The returned listing holds the shipped blob names.
func (e *Extractor) Extract(image, destDir string) (Listing, error) {
	var listing Listing
	err := e.Mounter.WithPartition(image, disk.RootAPartNum, true, func(root string) error {
		updater := filepath.Join(root, UpdaterPath)
		if _, err := os.Stat(updater); err != nil {
			return fmt.Errorf("firmware updater missing from %s: %w", image, err)
		}

		out, err := e.exec(updater, "-V")
		if err != nil {
			return err
		}
		listing, err = ParseListing(out)
		if err != nil {
			return fmt.Errorf("listing firmware in %s: %w", image, err)
		}

		out, err = e.exec(updater, "--sb_extract")
		if err != nil {
			return err
		}
		extractDir := extractDirRe.FindString(out)
		if extractDir == "" {
			return fmt.Errorf("firmware extraction of %s reported no directory", image)
		}
		if _, err := os.Stat(extractDir); err != nil {
			return fmt.Errorf("firmware extraction directory: %w", err)
		}
		defer os.RemoveAll(extractDir)

		copies := map[string]string{
			filepath.Join(extractDir, ecFile):   filepath.Join(destDir, listing.EC),
			filepath.Join(extractDir, biosFile): filepath.Join(destDir, listing.BIOS),
			updater:                             filepath.Join(destDir, filepath.Base(UpdaterPath)),
		}
		for src, dst := range copies {
			if err := copyFile(src, dst); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Listing{}, err
	}
	logrus.Infof("extracted firmware %s and %s from %s", listing.EC, listing.BIOS, image)
	return listing, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
