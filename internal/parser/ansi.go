package parser

import "regexp"

// Escape sequence families, most specific first. The single-character form
// has to run last or it would eat the introducer of the longer ones.
var escapeSequences = []*regexp.Regexp{
	regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`),  // CSI
	regexp.MustCompile(`\x1b\].*?(?:\x07|\x1b\\)`), // OSC
	regexp.MustCompile(`\x1bP.*?\x1b\\`),           // DCS
	regexp.MustCompile(`\x1b\^.*?\x1b\\`),          // PM
	regexp.MustCompile(`\x1b_.*?\x1b\\`),           // APC
	regexp.MustCompile(`\x1bk.*?\x1b\\`),           // screen/tmux title
	regexp.MustCompile(`\x1b[()][0-9A-Za-z]`),      // charset
	regexp.MustCompile(`\x1b[=>]`),                 // keypad mode
	regexp.MustCompile(`\x1b.`),
}

// StripANSI removes every escape sequence, applies backspaces and drops
// control bytes other than newline and tab. It keeps the raw line layout,
// which makes it the right input for classification; Sanitize is the
// heavier transform for presenting command results.
func StripANSI(s string) string {
	for _, re := range escapeSequences {
		s = re.ReplaceAllString(s, "")
	}

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\r':
		case ch == '\b':
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		case (ch < 0x20 || ch == 0x7f) && ch != '\n' && ch != '\t':
		default:
			out = append(out, ch)
		}
	}
	return string(out)
}
