// Package bundle orchestrates the two top-level flows: composing a
// bootable target image from a factory and a release source image, and
// building the compressed artifact set plus manifest that an update
// server serves.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/crosutil/factorypack/pkg/datasizes"
	"github.com/crosutil/factorypack/pkg/disk"
)

// Definition is a bundle definition file: which source images to
// combine and what to produce from them. Sizes accept the usual unit
// suffixes.
type Definition struct {
	Board        string `yaml:"board" toml:"board"`
	FactoryImage string `yaml:"factory_image" toml:"factory_image"`
	ReleaseImage string `yaml:"release_image" toml:"release_image"`

	// Target image composition.
	Target   string         `yaml:"target" toml:"target"`
	Size     datasizes.Size `yaml:"size" toml:"size"`
	Preserve bool           `yaml:"preserve" toml:"preserve"`

	// Update-server data set.
	DataDir         string `yaml:"data_dir" toml:"data_dir"`
	Subfolder       string `yaml:"subfolder" toml:"subfolder"`
	ExtractFirmware bool   `yaml:"extract_firmware" toml:"extract_firmware"`
	HWIDUpdater     string `yaml:"hwid_updater" toml:"hwid_updater"`
	CompleteScript  string `yaml:"complete_script" toml:"complete_script"`
}

// LoadDefinition reads a bundle definition from a YAML or TOML file,
// selected by extension. Unknown keys are rejected.
func LoadDefinition(path string) (*Definition, error) {
	var def Definition
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("cannot decode bundle definition %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.DecodeFile(path, &def)
		if err != nil {
			return nil, fmt.Errorf("cannot decode bundle definition %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown keys in bundle definition %s: %s",
				path, strings.Join(keys, ", "))
		}
	default:
		return nil, fmt.Errorf("unsupported bundle definition format %q", ext)
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bundle definition %s: %w", path, err)
	}
	return &def, nil
}

// Validate checks the cross-field requirements the decoders cannot.
func (d *Definition) Validate() error {
	if d.FactoryImage == "" {
		return fmt.Errorf("no factory image given")
	}
	if d.ReleaseImage == "" {
		return fmt.Errorf("no release image given")
	}
	if d.Size%disk.SectorSize != 0 {
		return fmt.Errorf("size %d is not a multiple of the %d-byte sector size",
			d.Size, disk.SectorSize)
	}
	return nil
}

// Sectors returns the target image size in sectors, defaulting to the
// standard factory target size.
func (d *Definition) Sectors() uint64 {
	if d.Size == 0 {
		return disk.DefaultImageSectors
	}
	return uint64(d.Size) / disk.SectorSize
}
