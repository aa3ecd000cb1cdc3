package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size represents a size in bytes that can be unmarshaled from
// human-readable strings like "1Gi", "500Mi", "100MB", or plain numbers.
//
// Supported formats:
//   - Plain numbers: 1024, 1073741824
//   - Binary units (×1024): Ki/KiB, Mi/MiB, Gi/GiB, Ti/TiB
//   - Decimal units (×1000): K/KB, M/MB, G/GB, T/TB
//   - Bytes: B
//
// Examples: "1Gi" (1 gibibyte), "500Mi" (500 mebibytes), "100MB" (100 megabytes)
type Size int64

// Common byte size constants
const (
	B  Size = 1
	KB Size = 1000
	MB Size = 1000 * KB
	GB Size = 1000 * MB
	TB Size = 1000 * GB

	KiB Size = 1024
	MiB Size = 1024 * KiB
	GiB Size = 1024 * MiB
	TiB Size = 1024 * GiB
)

// sizePattern matches a number followed by an optional unit suffix
var sizePattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)

// unitMultipliers maps unit suffixes to their byte multipliers
var unitMultipliers = map[string]Size{
	"":    B,
	"b":   B,
	"k":   KB,
	"kb":  KB,
	"m":   MB,
	"mb":  MB,
	"g":   GB,
	"gb":  GB,
	"t":   TB,
	"tb":  TB,
	"ki":  KiB,
	"kib": KiB,
	"mi":  MiB,
	"mib": MiB,
	"gi":  GiB,
	"gib": GiB,
	"ti":  TiB,
	"tib": TiB,
}

// Parse parses a human-readable byte size string into a Size value.
// It accepts formats like "1Gi", "500Mi", "100MB", "1024", etc.
func Parse(s string) (Size, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}

	numStr := matches[1]
	unit := strings.ToLower(matches[2])

	multiplier, ok := unitMultipliers[unit]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit: %q", matches[2])
	}

	// Fractional sizes like "1.5Gi" go through float math.
	if strings.Contains(numStr, ".") {
		num, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in byte size: %q", numStr)
		}
		return Size(num * float64(multiplier)), nil
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in byte size: %q", numStr)
	}

	return Size(num) * multiplier, nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so Size works
// directly in structs decoded with mapstructure.
func (s *Size) UnmarshalText(text []byte) error {
	size, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = size
	return nil
}

// String returns a human-readable representation of the byte size.
func (s Size) String() string {
	switch {
	case s >= TiB:
		return fmt.Sprintf("%.2fTiB", float64(s)/float64(TiB))
	case s >= GiB:
		return fmt.Sprintf("%.2fGiB", float64(s)/float64(GiB))
	case s >= MiB:
		return fmt.Sprintf("%.2fMiB", float64(s)/float64(MiB))
	case s >= KiB:
		return fmt.Sprintf("%.2fKiB", float64(s)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", int64(s))
	}
}

// Int64 returns the size as an int64.
func (s Size) Int64() int64 {
	return int64(s)
}
