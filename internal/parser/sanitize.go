package parser

import (
	"regexp"
	"strings"
)

var (
	oscSequence  = regexp.MustCompile(`\x1b\](\d+;[^\x07\x1b]*|\d+[^\x07\x1b]*)\x07`)
	oscRemnant   = regexp.MustCompile(`\](\d+;[^\n]*|\d+[^\n]*)`)
	csiSequence  = regexp.MustCompile(`\x1b\[\??[0-9;]*[a-zA-Z]`)
	promptGlyph  = regexp.MustCompile(`(?m)^([~/][^\n❯]+)❯`)
	errorLabel   = regexp.MustCompile(`(error|failed|warning|Error|Failed|Warning):`)
	stackFrame   = regexp.MustCompile(`at[ \t]+`)
	asyncFrame   = regexp.MustCompile(`\bat[ \t]+async`)
	npmError     = regexp.MustCompile(`npm ERR!`)
	continuation = regexp.MustCompile(`>`)
	colonSpacing = regexp.MustCompile(`:[ \t]+`)
	spaceRuns    = regexp.MustCompile(`[ \t]{2,}`)
)

// Sanitize turns raw terminal output into plain multi-line text for display
// or for handing back to a model as command output. Line breaking around
// prompts, error labels and stack frames is a readability heuristic, not a
// lossless transform. Every prompt line is split at its glyph, not only the
// first. Sanitize is pure and idempotent.
func Sanitize(input string) string {
	s := strings.ReplaceAll(input, "\x00", "")

	s = oscSequence.ReplaceAllString(s, "")
	s = csiSequence.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\x1b", "")
	s = oscRemnant.ReplaceAllString(s, "")

	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = tidyLines(s)

	s = promptGlyph.ReplaceAllString(s, "${1}\n❯")
	s = breakBefore(s, continuation, nil)
	s = breakBefore(s, errorLabel, func(prev byte) bool { return !isWordByte(prev) })
	s = breakStackFrames(s)
	s = asyncFrame.ReplaceAllString(s, "at async")
	s = breakBefore(s, npmError, nil)

	s = tidyLines(s)
	s = colonSpacing.ReplaceAllString(s, ": ")
	s = spaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// breakBefore inserts a newline before every match of re that does not
// already start the text or a line. allow, when set, vetoes a break based on
// the byte before the match.
func breakBefore(s string, re *regexp.Regexp, allow func(prev byte) bool) string {
	matches := re.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + len(matches))
	last := 0
	for _, m := range matches {
		start := m[0]
		if lineStart(s, start) {
			continue
		}
		if allow != nil && !allow(s[start-1]) {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteByte('\n')
		last = start
	}
	b.WriteString(s[last:])
	return b.String()
}

// breakStackFrames moves "at <frame>" onto its own line. "at async" stays
// inline, as does "at" glued to a word or following a path separator.
func breakStackFrames(s string) string {
	matches := stackFrame.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + len(matches))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if lineStart(s, start) {
			continue
		}
		prev := s[start-1]
		if prev == '/' || isWordByte(prev) {
			continue
		}
		rest := s[end:]
		if strings.HasPrefix(rest, "async") || strings.HasPrefix(rest, "sync") {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString("\nat ")
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

// tidyLines trims every line and drops the blank ones.
func tidyLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// lineStart reports whether only spaces and tabs separate i from the start
// of its line.
func lineStart(s string, i int) bool {
	for i > 0 && (s[i-1] == ' ' || s[i-1] == '\t') {
		i--
	}
	return i == 0 || s[i-1] == '\n'
}

func isWordByte(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
