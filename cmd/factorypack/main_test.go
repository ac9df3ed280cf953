package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosutil/factorypack/pkg/fetch"
)

func TestParseImageKind(t *testing.T) {
	for in, want := range map[string]fetch.ImageKind{
		"release":  fetch.ReleaseImage,
		"recovery": fetch.RecoveryImage,
		"factory":  fetch.FactoryImage,
	} {
		kind, err := parseImageKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, kind)
	}

	_, err := parseImageKind("ssd")
	assert.ErrorContains(t, err, `unknown image kind "ssd"`)
}

func TestLoadDefinitionFlagOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
factory_image: factory.bin
release_image: release.bin
target: from-file.bin
subfolder: from-file
`), 0644))

	flags := pflag.NewFlagSet("compose", pflag.ContinueOnError)
	flags.String("target", "", "")
	flags.Bool("preserve", false, "")
	flags.String("data-dir", "", "")
	flags.String("subfolder", "", "")
	require.NoError(t, flags.Set("target", "from-flag.bin"))
	require.NoError(t, flags.Set("preserve", "true"))

	def, err := loadDefinition(flags, path)
	require.NoError(t, err)
	assert.Equal(t, "from-flag.bin", def.Target)
	assert.True(t, def.Preserve)
	assert.Equal(t, "from-file", def.Subfolder, "unset flags keep file values")
}
