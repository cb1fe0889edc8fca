package router

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// newReqID returns a short random id that ties a request's log lines
// together.
func newReqID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// splitCommand separates "/cmd@bot rest of line" into the lowercased command
// word (without slash or @mention) and the trimmed remainder.
func splitCommand(text string) (word, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head := text
	if i := strings.IndexAny(text, " \t\n\r"); i >= 0 {
		head, rest = text[:i], strings.TrimSpace(text[i+1:])
	}
	word = strings.TrimPrefix(head, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", "", false
	}
	return word, rest, true
}

// splitArgs splits command text on whitespace. Single or double quotes group
// words, and a backslash takes the next character literally. A quoted empty
// string is kept as an empty argument.
func splitArgs(s string) []string {
	var (
		args    []string
		cur     strings.Builder
		pending bool
		quote   rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped, pending = true, true
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote, pending = r, true
		case unicode.IsSpace(r):
			if pending {
				args = append(args, cur.String())
				cur.Reset()
				pending = false
			}
		default:
			cur.WriteRune(r)
			pending = true
		}
	}
	if pending {
		args = append(args, cur.String())
	}
	return args
}
