package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosutil/factorypack/pkg/disk"
)

func writeDefinition(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefinitionYAML(t *testing.T) {
	path := writeDefinition(t, "bundle.yaml", `
board: x86-alex
factory_image: factory.bin
release_image: release.bin
target: composed.bin
size: 4 GiB
preserve: true
data_dir: /srv/static
subfolder: x86-alex_0.12
hwid_updater: hwid.sh
`)
	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "x86-alex", def.Board)
	assert.Equal(t, "factory.bin", def.FactoryImage)
	assert.True(t, def.Preserve)
	assert.Equal(t, uint64(4*1024*1024*1024/disk.SectorSize), def.Sectors())
	assert.Equal(t, "hwid.sh", def.HWIDUpdater)
}

func TestLoadDefinitionTOML(t *testing.T) {
	path := writeDefinition(t, "bundle.toml", `
board = "zgb"
factory_image = "factory.bin"
release_image = "release.bin"
data_dir = "/srv/static"
extract_firmware = true
`)
	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "zgb", def.Board)
	assert.True(t, def.ExtractFirmware)
	assert.Equal(t, uint64(disk.DefaultImageSectors), def.Sectors())
}

func TestLoadDefinitionUnknownKeys(t *testing.T) {
	yamlPath := writeDefinition(t, "bundle.yaml", `
factory_image: factory.bin
release_image: release.bin
bogus: true
`)
	_, err := LoadDefinition(yamlPath)
	assert.Error(t, err)

	tomlPath := writeDefinition(t, "bundle.toml", `
factory_image = "factory.bin"
release_image = "release.bin"
bogus = true
`)
	_, err = LoadDefinition(tomlPath)
	assert.ErrorContains(t, err, "unknown keys")
	assert.ErrorContains(t, err, "bogus")
}

func TestLoadDefinitionUnsupportedFormat(t *testing.T) {
	path := writeDefinition(t, "bundle.json", `{}`)
	_, err := LoadDefinition(path)
	assert.ErrorContains(t, err, "unsupported bundle definition format")
}

func TestValidate(t *testing.T) {
	def := Definition{ReleaseImage: "release.bin"}
	assert.ErrorContains(t, def.Validate(), "no factory image")

	def = Definition{FactoryImage: "factory.bin"}
	assert.ErrorContains(t, def.Validate(), "no release image")

	def = Definition{FactoryImage: "f", ReleaseImage: "r", Size: 1000}
	assert.ErrorContains(t, def.Validate(), "not a multiple")

	def = Definition{FactoryImage: "f", ReleaseImage: "r", Size: 512 * 100}
	assert.NoError(t, def.Validate())
	assert.Equal(t, uint64(100), def.Sectors())
}
