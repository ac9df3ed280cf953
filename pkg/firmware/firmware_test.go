package firmware

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosutil/factorypack/internal/testdisk"
	"github.com/crosutil/factorypack/pkg/disk"
)

const updaterListing = `Package content:
  ./VERSION
  ./ec.bin
  ./bios.bin
  ./install_firmware
BIOS image:   bb1a...  Alex.03.60.1120.0038G5.0019
EC image:     71db...  Alex.0038G5.0019
`

func TestParseListing(t *testing.T) {
	listing, err := ParseListing(updaterListing)
	require.NoError(t, err)
	assert.Equal(t, "Alex.0038G5.0019", listing.EC)
	assert.Equal(t, "Alex.03.60.1120.0038G5.0019", listing.BIOS)
}

func TestParseListingFallbackNames(t *testing.T) {
	listing, err := ParseListing("  ./ec.bin\n  ./bios.bin\n")
	require.NoError(t, err)
	assert.Equal(t, "ec.bin", listing.EC)
	assert.Equal(t, "bios.bin", listing.BIOS)
}

func TestParseListingErrors(t *testing.T) {
	_, err := ParseListing("")
	assert.ErrorContains(t, err, "empty firmware updater listing")

	_, err = ParseListing("  ./bios.bin\n")
	assert.ErrorContains(t, err, "no ec.bin")

	_, err = ParseListing("  ./ec.bin\n")
	assert.ErrorContains(t, err, "no bios.bin")
}

// fakeRootfs lays out a mounted-rootfs directory carrying the updater.
func fakeRootfs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	updater := filepath.Join(root, UpdaterPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(updater), 0755))
	require.NoError(t, os.WriteFile(updater, []byte("#!/bin/sh\n"), 0755))
	return root
}

func TestExtract(t *testing.T) {
	root := fakeRootfs(t)
	mounter := testdisk.DirMounter{}
	mounter.Set("release.bin", disk.RootAPartNum, root)

	extractDir, err := os.MkdirTemp("/tmp", "tmp.")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(extractDir, "ec.bin"), []byte("ec blob"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(extractDir, "bios.bin"), []byte("bios blob"), 0644))

	e := NewExtractor(mounter)
	e.run = func(name string, args ...string) (string, error) {
		assert.Equal(t, filepath.Join(root, UpdaterPath), name)
		switch args[0] {
		case "-V":
			return updaterListing, nil
		case "--sb_extract":
			return "Extracting to: " + extractDir + "\n", nil
		}
		return "", fmt.Errorf("unexpected command %v", args)
	}

	dest := t.TempDir()
	listing, err := e.Extract("release.bin", dest)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dest, listing.EC))
	require.NoError(t, err)
	assert.Equal(t, "ec blob", string(got))

	got, err = os.ReadFile(filepath.Join(dest, listing.BIOS))
	require.NoError(t, err)
	assert.Equal(t, "bios blob", string(got))

	_, err = os.Stat(filepath.Join(dest, "chromeos-firmwareupdate"))
	assert.NoError(t, err)

	_, err = os.Stat(extractDir)
	assert.True(t, os.IsNotExist(err), "extraction scratch dir should be removed")
}

func TestExtractMissingUpdater(t *testing.T) {
	mounter := testdisk.DirMounter{}
	mounter.Set("release.bin", disk.RootAPartNum, t.TempDir())

	e := NewExtractor(mounter)
	_, err := e.Extract("release.bin", t.TempDir())
	assert.ErrorContains(t, err, "firmware updater missing")
}

func TestExtractNoDirectoryReported(t *testing.T) {
	root := fakeRootfs(t)
	mounter := testdisk.DirMounter{}
	mounter.Set("release.bin", disk.RootAPartNum, root)

	e := NewExtractor(mounter)
	e.run = func(name string, args ...string) (string, error) {
		if args[0] == "-V" {
			return updaterListing, nil
		}
		return "nothing extracted\n", nil
	}

	_, err := e.Extract("release.bin", t.TempDir())
	assert.ErrorContains(t, err, "reported no directory")
}
