package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a byte count that accepts human-readable values in config
// files and environment variables.
//
// Units are binary (1024) and case-insensitive: "B", "K"/"KB"/"KiB",
// "M"/"MB"/"MiB", "G"/"GB"/"GiB". A bare number is bytes.
//
// Examples:
//   - "4MB" = 4 * 1024 * 1024 bytes
//   - "1.5 MiB" = 1572864 bytes
//   - "262144" = 262144 bytes
type ByteSize int64

const (
	kib ByteSize = 1024
	mib          = 1024 * kib
	gib          = 1024 * mib
)

var byteUnits = map[string]ByteSize{
	"":    1,
	"b":   1,
	"k":   kib,
	"kb":  kib,
	"kib": kib,
	"m":   mib,
	"mb":  mib,
	"mib": mib,
	"g":   gib,
	"gb":  gib,
	"gib": gib,
}

var byteSizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// ParseByteSize parses a human-readable byte size string.
func ParseByteSize(s string) (ByteSize, error) {
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	m := byteSizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", m[1], err)
	}

	mult, ok := byteUnits[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", m[2])
	}

	return ByteSize(value * float64(mult)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON accepts either a size string or a raw byte count.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// String renders the size using the largest unit that divides it exactly.
func (b ByteSize) String() string {
	switch {
	case b == 0:
		return "0B"
	case b%gib == 0:
		return fmt.Sprintf("%dGB", b/gib)
	case b%mib == 0:
		return fmt.Sprintf("%dMB", b/mib)
	case b%kib == 0:
		return fmt.Sprintf("%dKB", b/kib)
	default:
		return fmt.Sprintf("%dB", int64(b))
	}
}
