package parser

import "time"

// MessageClass labels a flushed block of display output.
type MessageClass string

const (
	ClassNormal MessageClass = "normal"
	ClassPrompt MessageClass = "prompt"
	ClassError  MessageClass = "error"
	ClassCode   MessageClass = "code"
)

// QuickAction is a canned keystroke sequence offered for a prompt, such as
// answering "y" to a [Y/n] question or interrupting with Ctrl-C.
type QuickAction struct {
	Label string `json:"label"`
	Keys  string `json:"keys"`
}

// Message is one flushed block of terminal output for a stream key.
type Message struct {
	ID        string
	Key       string
	Text      string
	RawText   string
	Class     MessageClass
	Actions   []QuickAction
	Timestamp time.Time
}

// Status is the coarse activity state of a stream key.
type Status string

const (
	StatusWorking Status = "working"
	StatusWaiting Status = "waiting"
	StatusIdle    Status = "idle"
)
