// Package osc implements the out-of-band control signals a shell embeds in
// its terminal output to report lifecycle transitions.
//
// A signal is an OSC 654 sequence: ESC ] 654 ; name [= value] BEL.
package osc

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	Interactive = "interactive"
	Prompt      = "prompt"
	Exit        = "exit"
)

// Interrupt is the byte a terminal sends for Ctrl-C.
const Interrupt = '\x03'

const (
	prefix     = "\x1b]654;"
	terminator = "\x07"
	// maxPartial bounds how much of an unterminated signal is held back.
	maxPartial = 512
)

var (
	signalPattern = regexp.MustCompile(`\x1b\]654;([^\x07=]+)(?:=([^\x07]*))?\x07`)
	exitPattern   = regexp.MustCompile(`^(-?\d+)(?::(\d+))?$`)
)

// Signal is one control sequence found in a chunk of output.
// Start and End are byte offsets of the whole sequence within the chunk.
type Signal struct {
	Name  string
	Value string
	Start int
	End   int
}

// ExitCode parses the payload of an exit signal. The payload is the code,
// optionally followed by ":pid".
func (s Signal) ExitCode() (int, bool) {
	m := exitPattern.FindStringSubmatch(s.Value)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

// Scan returns every signal in chunk in the order they appear.
func Scan(chunk string) []Signal {
	if !strings.Contains(chunk, prefix) {
		return nil
	}
	matches := signalPattern.FindAllStringSubmatchIndex(chunk, -1)
	signals := make([]Signal, 0, len(matches))
	for _, m := range matches {
		sig := Signal{
			Name:  chunk[m[2]:m[3]],
			Start: m[0],
			End:   m[1],
		}
		if m[4] >= 0 {
			sig.Value = chunk[m[4]:m[5]]
		}
		signals = append(signals, sig)
	}
	return signals
}

// PartialStart returns the offset at which chunk ends with the beginning of
// a signal that a later chunk completes, or len(chunk) when it does not.
// Reads from a PTY can split a signal anywhere.
func PartialStart(chunk string) int {
	i := strings.LastIndexByte(chunk, '\x1b')
	if i < 0 {
		return len(chunk)
	}
	tail := chunk[i:]
	switch {
	case len(tail) < len(prefix):
		if strings.HasPrefix(prefix, tail) {
			return i
		}
	case strings.HasPrefix(tail, prefix):
		if !strings.Contains(tail, terminator) && len(tail) <= maxPartial {
			return i
		}
	}
	return len(chunk)
}

// Find returns the first signal named name in chunk.
func Find(chunk, name string) (Signal, bool) {
	for _, sig := range Scan(chunk) {
		if sig.Name == name {
			return sig, true
		}
	}
	return Signal{}, false
}

// Encode renders a signal. An empty value omits the "=value" suffix.
func Encode(name, value string) string {
	if value == "" {
		return prefix + name + terminator
	}
	return prefix + name + "=" + value + terminator
}
