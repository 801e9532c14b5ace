package inputs

import "strings"

// globEscapable lists the characters a backslash escapes in a pattern.
const globEscapable = `*?[]{}\`

// IsGlobPattern reports whether pattern contains an unescaped glob
// metacharacter.
//
//	"photos/**/*.png"   → true
//	"photos/chair\*.png" → false (escaped asterisk is literal)
//	"photos/chair.png"  → false
func IsGlobPattern(pattern string) bool {
	return findFirstUnescapedMeta(pattern) != -1
}

// findFirstUnescapedMeta returns the index of the first unescaped glob
// metacharacter (* ? [ {) in pattern, or -1.
func findFirstUnescapedMeta(pattern string) int {
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '\\' && i+1 < len(pattern) {
			next := pattern[i+1]
			if next == '*' || next == '?' || next == '[' || next == '{' || next == '\\' {
				i++
			}
			continue
		}
		if c == '*' || c == '?' || c == '[' || c == '{' {
			return i
		}
	}
	return -1
}

// StaticRoot returns the directory part of pattern that precedes the first
// glob segment, with escapes removed. Matches are reported relative to it
// when deciding whether they are hidden.
//
//	"photos/2024/**/*.png" → "photos/2024/"
//	"*.png"                → ""
//	"photos/chair.png"     → "photos/chair.png"
func StaticRoot(pattern string) string {
	pattern = NormalizePattern(pattern)
	idx := findFirstUnescapedMeta(pattern)
	switch idx {
	case -1:
		return unescape(pattern)
	case 0:
		return ""
	}
	prefix := pattern[:idx]
	if slash := strings.LastIndex(prefix, "/"); slash >= 0 {
		return unescape(prefix[:slash+1])
	}
	return ""
}

// unescape drops the backslashes in front of escaped metacharacters.
func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) && strings.IndexByte(globEscapable, s[i+1]) >= 0 {
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// NormalizePattern converts Windows separators to '/' while keeping glob
// escape sequences intact.
//
//	"photos\2024\*.png"  → "photos/2024/*.png"
//	"photos/chair\*.png" → "photos/chair\*.png" (escape preserved)
func NormalizePattern(pattern string) string {
	if !strings.ContainsRune(pattern, '\\') {
		return pattern
	}
	var b strings.Builder
	b.Grow(len(pattern))
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		if i+1 < len(runes) && strings.ContainsRune(globEscapable, runes[i+1]) {
			b.WriteRune('\\')
			b.WriteRune(runes[i+1])
			i++
			continue
		}
		b.WriteRune('/')
	}
	return b.String()
}

// IsHidden reports whether any segment of the slash-separated path starts
// with a dot. "." and ".." segments do not count.
func IsHidden(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
