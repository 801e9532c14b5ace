package inputs

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidSize is returned by ParseSize.
var ErrInvalidSize = errors.New("invalid size")

const (
	KB int64 = 1000
	MB int64 = 1000 * KB
	GB int64 = 1000 * MB

	KiB int64 = 1 << 10
	MiB int64 = 1 << 20
	GiB int64 = 1 << 30
)

var sizeUnits = map[string]int64{
	"": 1, "b": 1,
	"k": KB, "kb": KB,
	"m": MB, "mb": MB,
	"g": GB, "gb": GB,
	"ki": KiB, "kib": KiB,
	"mi": MiB, "mib": MiB,
	"gi": GiB, "gib": GiB,
}

// ParseSize accepts a byte count with an optional decimal (KB, MB, GB) or
// binary (KiB, MiB, GiB) unit, case insensitive: "1024", "10MB", "1.5KiB".
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	split := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if split < 0 {
		split = len(s)
	}
	num, unit := s[:split], strings.ToLower(strings.TrimSpace(s[split:]))
	if num == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	mult, ok := sizeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidSize, unit)
	}

	if !strings.Contains(num, ".") {
		n, err := strconv.ParseUint(num, 10, 64)
		if err != nil || n > uint64(math.MaxInt64/mult) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
		}
		return int64(n) * mult, nil
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	v := f * float64(mult)
	if v >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	return int64(v), nil
}

// FormatSize renders n with the largest binary unit it reaches.
func FormatSize(n int64) string {
	for _, u := range []struct {
		name string
		size int64
	}{{"GiB", GiB}, {"MiB", MiB}, {"KiB", KiB}} {
		if n >= u.size {
			return fmt.Sprintf("%.1f%s", float64(n)/float64(u.size), u.name)
		}
	}
	return fmt.Sprintf("%dB", n)
}
