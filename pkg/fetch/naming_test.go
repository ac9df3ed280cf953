package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBuild(t *testing.T) {
	b, err := ParseBuild("x86-alex", ReleaseImage, "0.12.433.269/beta/mp")
	require.NoError(t, err)
	assert.Equal(t, Build{
		Board:   "x86-alex",
		Version: "0.12.433.269",
		Channel: "beta-channel",
		Key:     "mp",
	}, b)

	b, err = ParseBuild("x86-alex", FactoryImage, "0.12.433.269/beta")
	require.NoError(t, err)
	assert.Empty(t, b.Key)
	assert.Equal(t, "beta-channel", b.Channel)
}

func TestParseBuildErrors(t *testing.T) {
	_, err := ParseBuild("x86-alex", ReleaseImage, "0.12.433.269/beta")
	assert.ErrorContains(t, err, "want 3 components")

	_, err = ParseBuild("x86-alex", FactoryImage, "0.12.433.269/beta/mp")
	assert.ErrorContains(t, err, "want 2 components")

	_, err = ParseBuild("x86-alex", RecoveryImage, "not-a-version/beta/mp")
	assert.ErrorContains(t, err, "malformed recovery spec")
}

func TestIndexURL(t *testing.T) {
	b, err := ParseBuild("zgb", ReleaseImage, "0.12.433.269/dev/premp")
	require.NoError(t, err)

	prefix := "http://chromeos-images/chromeos-official"
	assert.Equal(t,
		"http://chromeos-images/chromeos-official/dev-channel/zgb/0.12.433.269",
		b.IndexURL(prefix, DefaultNaming))
	assert.Equal(t,
		"http://chromeos-images/chromeos-official/dev-channel/zgb-rc/0.12.433.269",
		b.IndexURL(prefix, RCBoardNaming))
}

func TestLinkPattern(t *testing.T) {
	b, err := ParseBuild("x86-alex", ReleaseImage, "0.12.433.269/beta/mp")
	require.NoError(t, err)

	assert.Equal(t,
		"chromeos_0.12.433.269_x86-alex_ssd_beta-channel_mp*.bin",
		b.LinkPattern(ReleaseImage))
	assert.Equal(t,
		"chromeos_0.12.433.269_x86-alex_recovery_beta-channel_mp*.bin",
		b.LinkPattern(RecoveryImage))
	assert.Equal(t,
		"ChromeOS-factory-0.12.433.269*x86-alex.zip",
		b.LinkPattern(FactoryImage))
}
