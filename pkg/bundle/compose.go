package bundle

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/crosutil/factorypack/internal/scratch"
	"github.com/crosutil/factorypack/pkg/blockdev"
	"github.com/crosutil/factorypack/pkg/disk"
	"github.com/crosutil/factorypack/pkg/image"
	"github.com/crosutil/factorypack/pkg/mount"
	"github.com/crosutil/factorypack/pkg/transfer"
)

// Composer assembles a bootable target image from a factory and a
// release source image. Factory content fills the slot-A partitions,
// release content slot B; the stateful, OEM and EFI partitions come
// from the release image.
type Composer struct {
	Tables  disk.TableReader
	Writer  disk.TableWriter
	Mounter mount.Mounter
	Scratch *scratch.Tracker

	// newTargetMounter is swapped out in tests.
	newTargetMounter func(table disk.TableReader) mount.Mounter
}

// NewComposer wires a composer around one partition-table tool serving
// as both reader and writer, the way the cgpt tool does.
func NewComposer(tables disk.TableReader, writer disk.TableWriter, m mount.Mounter, sc *scratch.Tracker) *Composer {
	return &Composer{
		Tables:  tables,
		Writer:  writer,
		Mounter: m,
		Scratch: sc,
	}
}

func (c *Composer) targetMounter(table disk.TableReader) mount.Mounter {
	if c.newTargetMounter != nil {
		return c.newTargetMounter(table)
	}
	return mount.NewLoopback(table)
}

// resolveKernels classifies both source images and produces their
// self-contained kernel payloads.
func resolveKernels(tables disk.TableReader, m mount.Mounter, sc *scratch.Tracker, def *Definition) (factory, release disk.Ref, err error) {
	resolver := &image.Resolver{Table: tables, Mounter: m, Scratch: sc}

	for _, src := range []struct {
		img string
		ref *disk.Ref
	}{
		{def.FactoryImage, &factory},
		{def.ReleaseImage, &release},
	} {
		variant, err := image.Classify(tables, src.img)
		if err != nil {
			return disk.Ref{}, disk.Ref{}, err
		}
		logrus.Infof("%s is a %s image", src.img, variant)
		*src.ref, err = resolver.ResolveKernel(src.img, variant)
		if err != nil {
			return disk.Ref{}, disk.Ref{}, err
		}
	}
	return factory, release, nil
}

// Compose builds the target image end to end: layout and GPT install
// first, then per-source transfers ordered kernel, rootfs, stateful,
// and finally the boot-loader finalization on the target's ESP.
func (c *Composer) Compose(def *Definition) error {
	if def.Target == "" {
		return fmt.Errorf("no target image given")
	}

	factoryKernel, releaseKernel, err := resolveKernels(c.Tables, c.Mounter, c.Scratch, def)
	if err != nil {
		return err
	}

	// The protective MBR boot code is taken from the release image's
	// first sector.
	pmbr, err := blockdev.ReadRange(def.ReleaseImage, 0, disk.SectorSize)
	if err != nil {
		return fmt.Errorf("reading boot code from %s: %w", def.ReleaseImage, err)
	}

	pt, err := disk.NewFactoryLayout(disk.FactoryLayoutRequest{Sectors: def.Sectors()})
	if err != nil {
		return err
	}
	builder := &disk.Builder{Writer: c.Writer}
	if err := builder.Build(def.Target, pt, pmbr, def.Preserve); err != nil {
		return err
	}

	eng := &transfer.Engine{Source: c.Tables, Target: pt}
	transfers := []struct {
		src disk.Ref
		dst int
	}{
		{factoryKernel, disk.KernelAPartNum},
		{disk.Ref{Image: def.FactoryImage, Number: disk.RootAPartNum}, disk.RootAPartNum},
		{releaseKernel, disk.KernelBPartNum},
		{disk.Ref{Image: def.ReleaseImage, Number: disk.RootAPartNum}, disk.RootBPartNum},
		{disk.Ref{Image: def.ReleaseImage, Number: disk.StatefulPartNum}, disk.StatefulPartNum},
		{disk.Ref{Image: def.ReleaseImage, Number: disk.OEMPartNum}, disk.OEMPartNum},
		{disk.Ref{Image: def.ReleaseImage, Number: disk.EFIPartNum}, disk.EFIPartNum},
	}
	for _, tr := range transfers {
		dst := disk.Ref{Image: def.Target, Number: tr.dst}
		if err := eng.Overwrite(tr.src, dst); err != nil {
			return err
		}
	}

	if err := FinalizeBootloader(c.targetMounter(pt), def.Target); err != nil {
		return err
	}
	logrus.Infof("composed %s from %s and %s", def.Target, def.FactoryImage, def.ReleaseImage)
	return nil
}
