package scanner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyPattern is returned for a blank /check argument.
	ErrEmptyPattern = errors.New("empty pattern")
	// ErrInvalidPattern wraps every other parse failure.
	ErrInvalidPattern = errors.New("invalid pattern")
)

// Pattern is a parsed prefix[X]suffix-prefix[Y]suffix range. Low <= High.
type Pattern struct {
	Prefix string
	Suffix string
	Low    byte
	High   byte
}

// ParsePattern parses "l[c]a-l[m]a". Each side holds exactly one bracketed
// ASCII character, and both sides must share the same prefix and suffix.
// A descending range is normalized.
func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Pattern{}, ErrEmptyPattern
	}
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return Pattern{}, fmt.Errorf("%w: want exactly one '-' separating two sides", ErrInvalidPattern)
	}
	p1, c1, s1, err := parseSide(parts[0])
	if err != nil {
		return Pattern{}, err
	}
	p2, c2, s2, err := parseSide(parts[1])
	if err != nil {
		return Pattern{}, err
	}
	if p1 != p2 || s1 != s2 {
		return Pattern{}, fmt.Errorf("%w: templates differ (%s[]%s vs %s[]%s)", ErrInvalidPattern, p1, s1, p2, s2)
	}
	if c1 > c2 {
		c1, c2 = c2, c1
	}
	return Pattern{Prefix: p1, Suffix: s1, Low: c1, High: c2}, nil
}

func parseSide(s string) (prefix string, c byte, suffix string, err error) {
	open := strings.IndexByte(s, '[')
	end := strings.IndexByte(s, ']')
	if open < 0 || end < 0 {
		return "", 0, "", fmt.Errorf("%w: %q has no [x] placeholder", ErrInvalidPattern, s)
	}
	if end != open+2 {
		return "", 0, "", fmt.Errorf("%w: %q needs exactly one character inside []", ErrInvalidPattern, s)
	}
	c = s[open+1]
	if c >= 0x80 {
		return "", 0, "", fmt.Errorf("%w: %q placeholder must be ASCII", ErrInvalidPattern, s)
	}
	return s[:open], c, s[end+1:], nil
}

// Expand returns every substituted value from Low to High inclusive.
func (p Pattern) Expand() []string {
	out := make([]string, 0, int(p.High)-int(p.Low)+1)
	for c := int(p.Low); c <= int(p.High); c++ {
		out = append(out, p.Prefix+string(rune(c))+p.Suffix)
	}
	return out
}

func (p Pattern) String() string {
	return fmt.Sprintf("%s[%c]%s-%s[%c]%s", p.Prefix, p.Low, p.Suffix, p.Prefix, p.High, p.Suffix)
}
