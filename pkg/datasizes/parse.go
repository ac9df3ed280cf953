package datasizes

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse converts a size string with an optional unit suffix into the
// number of bytes it denotes. Both binary (KiB, MiB, ...) and decimal
// (kB, MB, ...) suffixes are understood.
func Parse(size string) (uint64, error) {
	trimmed := strings.TrimSpace(size)
	fact := uint64(1)
	for _, unit := range []struct {
		suffix string
		factor uint64
	}{
		{"KiB", KiB},
		{"MiB", MiB},
		{"GiB", GiB},
		{"TiB", TiB},
		{"kB", KB},
		{"MB", MB},
		{"GB", GB},
		{"TB", TB},
	} {
		if strings.HasSuffix(trimmed, unit.suffix) {
			trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, unit.suffix))
			fact = unit.factor
			break
		}
	}

	amount, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown data size units in string: %s", strings.TrimSpace(size))
	}
	if amount < 0 {
		return 0, fmt.Errorf("cannot be negative size: %s", strings.TrimSpace(size))
	}
	return uint64(amount) * fact, nil
}
