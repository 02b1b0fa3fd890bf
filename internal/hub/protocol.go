package hub

// Message types sent to clients.
const (
	TypeHello           = "hello"
	TypeTerminalOutput  = "terminal_output"
	TypeOutput          = "output"
	TypeReady           = "ready"
	TypeCommandStarted  = "command_started"
	TypeCommandFinished = "command_finished"
	TypeError           = "error"
)

// Message types accepted from clients.
const (
	TypeTerminalInput  = "terminal_input"
	TypeTerminalResize = "terminal_resize"
	TypeRun            = "run"
	TypeSubscribe      = "subscribe"
)

type HelloMessage struct {
	Type       string `json:"type"`
	ClientID   string `json:"client_id"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
	Scrollback string `json:"scrollback,omitempty"`
}

// TerminalDataMessage carries raw terminal output, escape sequences and all.
type TerminalDataMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// OutputMessage is a classified block of terminal output.
type OutputMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Text    string          `json:"text"`
	Class   string          `json:"class"`
	Actions []ActionMessage `json:"actions,omitempty"`
	Ts      int64           `json:"ts"`
}

type ActionMessage struct {
	Label string `json:"label"`
	Keys  string `json:"keys"`
}

// CommandMessage reports driver lifecycle events.
type CommandMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Command   string `json:"command,omitempty"`
	Output    string `json:"output,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Ts        int64  `json:"ts"`
}

type ErrorMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ClientMessage is anything a client sends. Keys is raw input; Key is a
// named key such as "enter" or "c-c".
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Keys      string `json:"keys,omitempty"`
	Key       string `json:"key,omitempty"`
	Command   string `json:"command,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
}

type hubBroadcast struct {
	data      []byte
	sessionID string
}
