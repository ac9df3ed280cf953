package bundle

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/crosutil/factorypack/internal/scratch"
	"github.com/crosutil/factorypack/pkg/artifact"
	"github.com/crosutil/factorypack/pkg/blockdev"
	"github.com/crosutil/factorypack/pkg/disk"
	"github.com/crosutil/factorypack/pkg/firmware"
	"github.com/crosutil/factorypack/pkg/image"
	"github.com/crosutil/factorypack/pkg/manifest"
	"github.com/crosutil/factorypack/pkg/mount"
)

// ManifestName is the served-update configuration file in the data
// directory.
const ManifestName = "miniomaha.conf"

// Served artifact file names. The rootfs artifacts are memento streams:
// the resolved kernel blob followed by the rootfs partition content,
// compressed as one payload.
const (
	factoryArtifact  = "rootfs-test.gz"
	releaseArtifact  = "rootfs-release.gz"
	oemArtifact      = "oem.gz"
	efiArtifact      = "efi.gz"
	stateArtifact    = "state.gz"
	firmwareArtifact = "firmware.gz"
	hwidArtifact     = "hwid.gz"
	completeArtifact = "complete.gz"
)

// DataBuilder produces the update-server data set: one compressed
// artifact per served partition stream plus a manifest group recording
// their digests.
type DataBuilder struct {
	Tables   disk.TableReader
	Mounter  mount.Mounter
	Scratch  *scratch.Tracker
	Firmware *firmware.Extractor
}

func NewDataBuilder(tables disk.TableReader, m mount.Mounter, sc *scratch.Tracker) *DataBuilder {
	return &DataBuilder{
		Tables:   tables,
		Mounter:  m,
		Scratch:  sc,
		Firmware: firmware.NewExtractor(m),
	}
}

// compressRefs streams the referenced ranges back to back through the
// compress-and-hash pipeline into dest.
func (b *DataBuilder) compressRefs(refs []disk.Ref, dest string) (*artifact.Result, error) {
	readers := make([]io.Reader, 0, len(refs))
	var closers []func() error
	defer func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}()

	for _, ref := range refs {
		rng, err := ref.Resolve(b.Tables)
		if err != nil {
			return nil, err
		}
		r, closeFn, err := blockdev.Reader(ref.Image, rng.Start, rng.Length)
		if err != nil {
			return nil, err
		}
		readers = append(readers, r)
		closers = append(closers, closeFn)
	}
	return artifact.CompressStream(io.MultiReader(readers...), dest)
}

// BuildServerData builds all served artifacts for the bundle under the
// data directory (optionally namespaced by a subfolder) and appends the
// resulting group to the manifest. Subfolder mode is incremental: prior
// manifest groups are preserved.
func (b *DataBuilder) BuildServerData(def *Definition) error {
	if def.DataDir == "" {
		return fmt.Errorf("no data directory given")
	}

	board := def.Board
	if board == "" {
		id, err := image.ReadIdentity(b.Mounter, def.ReleaseImage)
		if err != nil {
			return err
		}
		board = id.Board
	}

	outDir := def.DataDir
	if def.Subfolder != "" {
		outDir = filepath.Join(def.DataDir, def.Subfolder)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("cannot create data directory %s: %w", outDir, err)
	}

	factoryKernel, releaseKernel, err := resolveKernels(b.Tables, b.Mounter, b.Scratch, def)
	if err != nil {
		return err
	}

	group := manifest.Group{QualIDs: []string{board}}

	record := func(name string, res *artifact.Result, slot **manifest.Artifact) error {
		if _, err := artifact.WriteMD5Companion(res.Path); err != nil {
			return err
		}
		*slot = &manifest.Artifact{
			Image:    path.Join(def.Subfolder, name),
			Checksum: res.Digest,
		}
		return nil
	}

	// The two rootfs payloads carry their resolved kernel up front.
	streams := []struct {
		name string
		refs []disk.Ref
		slot **manifest.Artifact
	}{
		{factoryArtifact, []disk.Ref{factoryKernel, {Image: def.FactoryImage, Number: disk.RootAPartNum}}, &group.Factory},
		{releaseArtifact, []disk.Ref{releaseKernel, {Image: def.ReleaseImage, Number: disk.RootAPartNum}}, &group.Release},
		{oemArtifact, []disk.Ref{{Image: def.ReleaseImage, Number: disk.OEMPartNum}}, &group.OEM},
		{efiArtifact, []disk.Ref{{Image: def.ReleaseImage, Number: disk.EFIPartNum}}, &group.EFI},
		{stateArtifact, []disk.Ref{{Image: def.ReleaseImage, Number: disk.StatefulPartNum}}, &group.State},
	}
	for _, m := range streams {
		res, err := b.compressRefs(m.refs, filepath.Join(outDir, m.name))
		if err != nil {
			return err
		}
		if err := record(m.name, res, m.slot); err != nil {
			return err
		}
	}

	if def.ExtractFirmware {
		fwDir, err := b.Scratch.Dir("factorypack-fw-")
		if err != nil {
			return err
		}
		if _, err := b.Firmware.Extract(def.ReleaseImage, fwDir); err != nil {
			return err
		}
		updater := filepath.Join(fwDir, filepath.Base(firmware.UpdaterPath))
		res, err := artifact.CompressFile(updater, filepath.Join(outDir, firmwareArtifact))
		if err != nil {
			return err
		}
		if err := record(firmwareArtifact, res, &group.Firmware); err != nil {
			return err
		}
	}

	optional := []struct {
		src, name string
		slot      **manifest.Artifact
	}{
		{def.HWIDUpdater, hwidArtifact, &group.HWID},
		{def.CompleteScript, completeArtifact, &group.Complete},
	}
	for _, o := range optional {
		if o.src == "" {
			continue
		}
		res, err := artifact.CompressFile(o.src, filepath.Join(outDir, o.name))
		if err != nil {
			return err
		}
		if err := record(o.name, res, o.slot); err != nil {
			return err
		}
	}

	manifestPath := filepath.Join(def.DataDir, ManifestName)
	if err := manifest.Append(manifestPath, group, def.Subfolder != ""); err != nil {
		return err
	}
	logrus.Infof("built server data for %s under %s", board, outDir)
	return nil
}
