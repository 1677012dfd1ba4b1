package uart

import (
	"regexp"

	ansi "github.com/leaanthony/go-ansi-parser"
)

var (
	// CSI sequences other than SGR: cursor moves, erase line (ESC[K) and
	// the like. The parser only understands ESC[...m.
	nonSGRRe = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-ln-z]`)
	// Anything the parser rejected.
	leftoverRe = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]?`)
)

// StripANSI removes terminal control sequences from a line.
func StripANSI(s string) string {
	s = nonSGRRe.ReplaceAllString(s, "")
	if clean, err := ansi.Cleanse(s, ansi.WithIgnoreInvalidCodes()); err == nil {
		s = clean
	}
	return leftoverRe.ReplaceAllString(s, "")
}
