// Package manifest reads and writes the served-update configuration:
// an ordered list of artifact groups, one per composed bundle, keyed by
// qualification ids. The on-disk shape is the list literal the update
// server consumes:
//
//	config = [
//	 {
//	   'qual_ids': set(["x86-alex"]),
//	   'factory_image': 'sub/rootfs-test.gz',
//	   'factory_checksum': '...',
//	 },
//	]
//
// Rather than appending by text surgery, the whole document is parsed
// into a structured model and re-serialized, which keeps prior groups
// intact by construction while tolerating trailing whitespace and a
// missing closing marker in hand-edited files.
package manifest

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/exp/slices"
)

// Artifact records one served file and the digest of its bytes.
type Artifact struct {
	Image    string
	Checksum string
}

// Group is one bundle's worth of artifacts. Optional artifacts are nil
// and never serialized as empty placeholders.
type Group struct {
	QualIDs  []string
	Factory  *Artifact
	Release  *Artifact
	OEM      *Artifact
	EFI      *Artifact
	State    *Artifact
	Firmware *Artifact
	HWID     *Artifact
	Complete *Artifact
}

// Config is the full manifest document.
type Config struct {
	Groups []Group
}

// roleOrder fixes the serialization order of artifact entries. The key
// in the document is "<role>_image" / "<role>_checksum".
var roleOrder = []string{
	"factory",
	"release",
	"oempartitionimg",
	"efipartitionimg",
	"stateimg",
	"firmware",
	"hwid",
	"complete",
}

func (g *Group) artifact(role string) **Artifact {
	switch role {
	case "factory":
		return &g.Factory
	case "release":
		return &g.Release
	case "oempartitionimg":
		return &g.OEM
	case "efipartitionimg":
		return &g.EFI
	case "stateimg":
		return &g.State
	case "firmware":
		return &g.Firmware
	case "hwid":
		return &g.HWID
	case "complete":
		return &g.Complete
	}
	return nil
}

const header = "config = ["

var (
	entryRe  = regexp.MustCompile(`^\s*['"]([a-z_]+)['"]\s*:\s*(.*?),?\s*$`)
	quotedRe = regexp.MustCompile(`"([^"]*)"|'([^']*)'`)
)

// Parse reads a manifest document. It tolerates trailing blank lines
// and a truncated closing marker, but any group content it cannot fully
// understand is an error: silently dropping prior entries on rewrite is
// worse than failing.
func Parse(data []byte) (*Config, error) {
	text := strings.TrimSpace(string(data))
	cfg := &Config{}
	if text == "" {
		return cfg, nil
	}
	if !strings.HasPrefix(text, header) {
		return nil, fmt.Errorf("manifest does not start with %q", header)
	}
	body := text[len(header):]

	// Collect top-level {...} blocks; anything else outside a block
	// must be commas, whitespace or the closing marker.
	var blocks []string
	depth := 0
	var quote byte
	start := -1
	for i := 0; i < len(body); i++ {
		c := body[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced braces in manifest")
			}
			if depth == 0 {
				blocks = append(blocks, body[start+1:i])
				start = -1
			}
		case ']':
			if depth == 0 {
				rest := strings.TrimSpace(body[i+1:])
				if rest != "" {
					return nil, fmt.Errorf("unexpected content after closing marker: %q", rest)
				}
				i = len(body)
			}
		case ',', ' ', '\t', '\n', '\r':
			// separators between groups
		default:
			if depth == 0 {
				return nil, fmt.Errorf("unexpected character %q in manifest", c)
			}
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated string in manifest")
	}
	if depth != 0 {
		return nil, fmt.Errorf("truncated group in manifest")
	}

	// A closing marker lost to truncation is tolerated: the groups
	// themselves are intact, so keep them.
	for _, block := range blocks {
		group, err := parseGroup(block)
		if err != nil {
			return nil, err
		}
		cfg.Groups = append(cfg.Groups, group)
	}
	return cfg, nil
}

func parseGroup(block string) (Group, error) {
	var g Group
	for _, line := range strings.Split(block, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := entryRe.FindStringSubmatch(line)
		if m == nil {
			return g, fmt.Errorf("cannot parse manifest line %q", strings.TrimSpace(line))
		}
		key, value := m[1], m[2]

		if key == "qual_ids" {
			ids, err := parseQualIDs(value)
			if err != nil {
				return g, err
			}
			g.QualIDs = ids
			continue
		}

		role, field, ok := splitRoleKey(key)
		if !ok {
			return g, fmt.Errorf("unknown manifest key %q", key)
		}
		slot := g.artifact(role)
		if slot == nil {
			return g, fmt.Errorf("unknown manifest key %q", key)
		}
		qm := quotedRe.FindStringSubmatch(value)
		if qm == nil {
			return g, fmt.Errorf("manifest key %q has unquoted value %q", key, value)
		}
		str := qm[1]
		if str == "" {
			str = qm[2]
		}
		if *slot == nil {
			*slot = &Artifact{}
		}
		if field == "image" {
			(*slot).Image = str
		} else {
			(*slot).Checksum = str
		}
	}
	return g, nil
}

// parseQualIDs reads the members of a `set([...])` value. Ids are either
// quoted board names or bare integers; anything else is an error rather
// than a member to drop, since the group gets rewritten on append.
func parseQualIDs(value string) ([]string, error) {
	open := strings.Index(value, "[")
	end := strings.LastIndex(value, "]")
	if open < 0 || end < open {
		return nil, fmt.Errorf("cannot parse qual_ids value %q", value)
	}

	var ids []string
	for _, tok := range strings.Split(value[open+1:end], ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if qm := quotedRe.FindStringSubmatch(tok); qm != nil && len(qm[0]) == len(tok) {
			id := qm[1]
			if id == "" {
				id = qm[2]
			}
			ids = append(ids, id)
			continue
		}
		if !numericID(tok) {
			return nil, fmt.Errorf("unsupported qual_ids member %q", tok)
		}
		ids = append(ids, tok)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("manifest group has empty qual_ids")
	}
	return ids, nil
}

func numericID(id string) bool {
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return len(id) > 0
}

func splitRoleKey(key string) (role, field string, ok bool) {
	switch {
	case strings.HasSuffix(key, "_image"):
		return strings.TrimSuffix(key, "_image"), "image", true
	case strings.HasSuffix(key, "_checksum"):
		return strings.TrimSuffix(key, "_checksum"), "checksum", true
	}
	return "", "", false
}

// Serialize renders the canonical document text for the config.
func (c *Config) Serialize() []byte {
	var b strings.Builder
	b.WriteString(header + "\n")
	for i := range c.Groups {
		g := &c.Groups[i]
		b.WriteString(" {\n")

		ids := slices.Clone(g.QualIDs)
		slices.Sort(ids)
		members := make([]string, len(ids))
		for i, id := range ids {
			if numericID(id) {
				members[i] = id
			} else {
				members[i] = `"` + id + `"`
			}
		}
		fmt.Fprintf(&b, "   'qual_ids': set([%s]),\n", strings.Join(members, ", "))

		for _, role := range roleOrder {
			art := *g.artifact(role)
			if art == nil {
				continue
			}
			fmt.Fprintf(&b, "   '%s_image': '%s',\n", role, art.Image)
			fmt.Fprintf(&b, "   '%s_checksum': '%s',\n", role, art.Checksum)
		}
		b.WriteString(" },\n")
	}
	b.WriteString("]\n")
	return []byte(b.String())
}

// Append adds a group to a manifest file. In incremental mode an
// existing manifest is parsed and extended, preserving all prior groups
// exactly; otherwise, or when no manifest exists yet, a fresh document
// holding only the new group is written.
func Append(path string, group Group, incremental bool) error {
	cfg := &Config{}

	if incremental {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			cfg, err = Parse(data)
			if err != nil {
				return fmt.Errorf("cannot append to manifest %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fresh manifest
		default:
			return fmt.Errorf("cannot read manifest %s: %w", path, err)
		}
	}

	cfg.Groups = append(cfg.Groups, group)
	if err := os.WriteFile(path, cfg.Serialize(), 0644); err != nil {
		return fmt.Errorf("cannot write manifest %s: %w", path, err)
	}
	return nil
}
