package fetch

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
)

// ImageKind selects which artifact of a build to fetch.
type ImageKind int

const (
	ReleaseImage ImageKind = iota
	RecoveryImage
	FactoryImage
)

func (k ImageKind) String() string {
	switch k {
	case ReleaseImage:
		return "release"
	case RecoveryImage:
		return "recovery"
	case FactoryImage:
		return "factory"
	}
	return fmt.Sprintf("ImageKind(%d)", int(k))
}

// Build identifies one signed build on the image server. Release and
// recovery specs are "version/channel/key", factory specs carry no
// signing key.
type Build struct {
	Board   string
	Version string
	Channel string
	Key     string
}

// ParseBuild parses a version spec string for the given image kind.
// The version component must be a well-formed version number.
func ParseBuild(board string, kind ImageKind, spec string) (Build, error) {
	parts := strings.Split(spec, "/")
	want := 3
	if kind == FactoryImage {
		want = 2
	}
	if len(parts) != want {
		return Build{}, fmt.Errorf("malformed %s spec %q: want %d components", kind, spec, want)
	}
	if _, err := version.NewVersion(parts[0]); err != nil {
		return Build{}, fmt.Errorf("malformed %s spec %q: %w", kind, spec, err)
	}
	b := Build{Board: board, Version: parts[0], Channel: parts[1] + "-channel"}
	if kind != FactoryImage {
		b.Key = parts[2]
	}
	return b, nil
}

// NamingScheme selects how index pages are laid out on the server.
// Older builds use the plain board name, newer release-candidate builds
// append "-rc".
type NamingScheme int

const (
	DefaultNaming NamingScheme = iota
	RCBoardNaming
)

// Schemes lists all naming schemes in resolution order.
var Schemes = []NamingScheme{DefaultNaming, RCBoardNaming}

// IndexURL returns the index page holding the build's artifacts under
// the given server prefix.
func (b Build) IndexURL(prefix string, scheme NamingScheme) string {
	board := b.Board
	if scheme == RCBoardNaming {
		board += "-rc"
	}
	return strings.Join([]string{strings.TrimRight(prefix, "/"), b.Channel, board, b.Version}, "/")
}

// LinkPattern returns the glob pattern matching the build's artifact
// link on its index page.
func (b Build) LinkPattern(kind ImageKind) string {
	switch kind {
	case ReleaseImage:
		return strings.Join([]string{"chromeos", b.Version, b.Board, "ssd", b.Channel, b.Key + "*.bin"}, "_")
	case RecoveryImage:
		return strings.Join([]string{"chromeos", b.Version, b.Board, "recovery", b.Channel, b.Key + "*.bin"}, "_")
	case FactoryImage:
		return "ChromeOS-factory-" + b.Version + "*" + b.Board + ".zip"
	}
	return ""
}
