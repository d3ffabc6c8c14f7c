package kibi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Package kibi formats and parses byte sizes in powers of 1024, such as "35 MB"

var ErrInvalidByteSizeString = errors.New("Invalid byte size string")

var units = []string{"KB", "MB", "GB", "TB", "PB"}

// FormatBytes returns a size such as "1023 bytes", "12 KB", or "3 GB". Values are truncated, not rounded.
func FormatBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%v bytes", b)
	}
	v := b / 1024
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%v %v", v, units[i])
}

// ParseBytes parses an integer with an optional suffix.
// Suffixes are case insensitive, and may be the full unit or its first letter:
// "50", "50 bytes", "50 kb", "50 K", "2 GB", "1t".
func ParseBytes(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, ErrInvalidByteSizeString
	}
	value, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, err
	}
	suffix := strings.TrimSpace(s[end:])
	if suffix == "" || suffix == "bytes" || suffix == "b" {
		return value, nil
	}
	multiplier := int64(1)
	for _, u := range units {
		multiplier *= 1024
		u = strings.ToLower(u)
		if suffix == u || suffix == u[:1] {
			return value * multiplier, nil
		}
	}
	return 0, ErrInvalidByteSizeString
}
