package parser

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultQuietPeriod = 1500 * time.Millisecond
	defaultIdleAfter   = 3 * time.Second
	statusTick         = time.Second
)

type streamBuffer struct {
	key        string
	text       strings.Builder
	lastOutput time.Time
	flushTimer *time.Timer
	status     Status
}

// Parser groups live terminal output into messages. Output is held until the
// stream goes quiet, or flushed at once when it ends in something that waits
// for the user: a confirmation question or a shell prompt.
type Parser struct {
	quiet     time.Duration
	idleAfter time.Duration

	mu      sync.Mutex
	buffers map[string]*streamBuffer
	seq     map[string]int
	output  chan Message
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

type Option func(*Parser)

// WithQuietPeriod sets how long a stream must be silent before its buffered
// output is flushed.
func WithQuietPeriod(d time.Duration) Option {
	return func(p *Parser) {
		if d > 0 {
			p.quiet = d
		}
	}
}

func New(opts ...Option) *Parser {
	p := &Parser{
		quiet:     defaultQuietPeriod,
		idleAfter: defaultIdleAfter,
		buffers:   make(map[string]*streamBuffer),
		seq:       make(map[string]int),
		output:    make(chan Message, 100),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(1)
	go p.statusLoop()
	return p
}

// Feed appends a raw chunk to the stream identified by key.
func (p *Parser) Feed(key, data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	buf, ok := p.buffers[key]
	if !ok {
		buf = &streamBuffer{key: key}
		p.buffers[key] = buf
	}
	buf.text.WriteString(data)
	buf.lastOutput = time.Now()
	buf.status = StatusWorking

	if buf.flushTimer != nil {
		buf.flushTimer.Stop()
	}

	clean := StripANSI(buf.text.String())
	switch {
	case confirmPattern.MatchString(clean) || questionPattern.MatchString(clean):
		p.flushLocked(buf, ClassPrompt, quickActions(clean))
	case shellPrompt.MatchString(clean):
		p.flushLocked(buf, "", nil)
	default:
		buf.flushTimer = time.AfterFunc(p.quiet, func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.flushLocked(buf, "", nil)
		})
	}
}

// flushLocked emits the buffered text. An empty class means "classify it".
func (p *Parser) flushLocked(buf *streamBuffer, class MessageClass, actions []QuickAction) {
	if p.closed || buf.text.Len() == 0 {
		return
	}
	raw := buf.text.String()
	clean := StripANSI(raw)
	buf.text.Reset()

	if class == "" {
		class, actions = Classify(clean)
	}

	p.seq[buf.key]++
	msg := Message{
		ID:        fmt.Sprintf("%s-%d", buf.key, p.seq[buf.key]),
		Key:       buf.key,
		Text:      clean,
		RawText:   raw,
		Class:     class,
		Actions:   actions,
		Timestamp: time.Now(),
	}

	select {
	case p.output <- msg:
	default:
	}

	if class == ClassPrompt {
		buf.status = StatusWaiting
	}
}

// Classify labels a block of ANSI-free text and proposes keystrokes when it
// looks like the program is waiting for an answer.
func Classify(text string) (MessageClass, []QuickAction) {
	if confirmPattern.MatchString(text) || questionPattern.MatchString(text) || countLines(text, numberedChoice) >= 2 {
		return ClassPrompt, quickActions(text)
	}
	if errorPattern.MatchString(text) {
		return ClassError, nil
	}
	if codeFence.MatchString(text) || countLines(text, codeIndent) >= 3 {
		return ClassCode, nil
	}
	return ClassNormal, nil
}

func countLines(text string, re interface{ MatchString(string) bool }) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if line != "" && re.MatchString(line) {
			n++
		}
	}
	return n
}

func quickActions(text string) []QuickAction {
	if strings.Contains(text, "[Y/n]") || strings.Contains(text, "[Y/N]") || strings.Contains(text, "[y/N]") {
		return []QuickAction{
			{Label: "Yes", Keys: "y\n"},
			{Label: "No", Keys: "n\n"},
			{Label: "Ctrl+C", Keys: "\x03"},
		}
	}
	return []QuickAction{
		{Label: "Continue", Keys: "\n"},
		{Label: "Cancel", Keys: "\x03"},
	}
}

func (p *Parser) Messages() <-chan Message {
	return p.output
}

// Status reports the activity of a stream; unknown keys are idle.
func (p *Parser) Status(key string) Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf, ok := p.buffers[key]
	if !ok {
		return StatusIdle
	}
	return buf.status
}

func (p *Parser) statusLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(statusTick)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.mu.Lock()
			now := time.Now()
			for _, buf := range p.buffers {
				if buf.status == StatusWorking && now.Sub(buf.lastOutput) > p.idleAfter {
					buf.status = StatusIdle
				}
			}
			p.mu.Unlock()
		}
	}
}

// Close stops the status loop, flushes what is buffered and closes Messages.
func (p *Parser) Close() {
	close(p.done)
	p.wg.Wait()

	p.mu.Lock()
	for _, buf := range p.buffers {
		if buf.flushTimer != nil {
			buf.flushTimer.Stop()
		}
		p.flushLocked(buf, "", nil)
	}
	p.closed = true
	close(p.output)
	p.mu.Unlock()
}
