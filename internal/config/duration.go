package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration reads a config duration at key. It takes Go duration syntax
// or a bare number of seconds. Empty and zero values give def; negative
// values are rejected.
func ParseDuration(key, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		secs, nerr := strconv.ParseFloat(s, 64)
		if nerr != nil {
			return 0, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: must not be negative, got %q", key, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
