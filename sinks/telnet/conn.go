// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package telnet implements the hardest concrete sink in this module
// (spec §4.8): a Telnet NVT server that interleaves live log fan-out
// with a per-peer interactive, line-edited command prompt.
package telnet

import (
	"context"
	"strings"
	"sync"

	"github.com/nishisan-dev/xlfacility/internal/ratewriter"
	"github.com/nishisan-dev/xlfacility/internal/tcp"
)

// Telnet protocol constants (RFC 854/855/858/1091), named the same way
// this module's grounding source
// (other_examples/.../stlalpha-vision3 internal/telnetserver/telnet.go)
// names them.
const (
	iacByte  byte = 255
	dontByte byte = 254
	doByte   byte = 253
	wontByte byte = 252
	willByte byte = 251
	sbByte   byte = 250
	seByte   byte = 240

	optEcho     byte = 1
	optSGA      byte = 3
	optTermType byte = 24

	termTypeIS   byte = 0
	termTypeSend byte = 1
)

// maxSubnegotiationBytes bounds pending subnegotiation accumulation (spec
// §4.8 failure clause: "malformed sequences ... consume more than a
// bounded buffer (e.g. 256 bytes)").
const maxSubnegotiationBytes = 256

// parserState is the per-peer byte-level state machine (spec §4.8's
// table: Normal/Command/CSI-pending/CSI-accumulate, with Command's
// WILL/WONT/DO/DONT/SB sub-states spelled out as in the grounding
// source's telnetState).
type parserState int

const (
	stateNormal parserState = iota
	stateCommand
	stateWill
	stateWont
	stateDo
	stateDont
	stateSB
	stateSBData
	stateSBIAC
	stateCSIPending
	stateCSIAccumulate
)

var colorTerminalPrefixes = []string{"xterm", "ansi", "linux", "screen", "rxvt", "vt100"}

// LineHandler is invoked with the committed line (or the sink's default,
// which parses it into a command and arguments first) and returns the
// text to write back to the peer before the prompt is redrawn.
type LineHandler func(c *Conn, line string) string

// Conn is one Telnet peer: a line editor, a bounded command history, and
// the option-negotiation state learned from the client, layered directly
// on an internal/tcp.Connection.
type Conn struct {
	tcpConn *tcp.Connection
	handler LineHandler

	mu sync.Mutex

	state    parserState
	sbOption byte
	sbData   []byte
	csiBuf   []byte

	lineBuffer []byte

	history        [][]byte
	historyCursor  int
	maxHistorySize int

	terminalType  string
	colorTerminal bool
	awaitingTerm  bool

	prompt         string
	tabPlaceholder string

	shouldColorize bool
	rateLimit      *ratewriter.Limiter
}

// NewConn constructs a Conn wrapping tcpConn, with spec defaults: no
// history cap override (callers set MaxHistorySize), prompt "> ", tab
// placeholder "\t".
func NewConn(tcpConn *tcp.Connection, handler LineHandler) *Conn {
	return &Conn{
		tcpConn:        tcpConn,
		handler:        handler,
		state:          stateNormal,
		prompt:         "> ",
		tabPlaceholder: "\t",
		maxHistorySize: 1 << 30,
	}
}

// SetPrompt sets the prompt text. An empty string disables the prompt
// entirely (original_source/GCDTelnetServer/GCDTelnetConnection.h:
// "Set this value to nil to remove the prompt entirely").
func (c *Conn) SetPrompt(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompt = p
}

// Prompt returns the current prompt text.
func (c *Conn) Prompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompt
}

// SetTabPlaceholder sets the text echoed for a Tab keypress.
func (c *Conn) SetTabPlaceholder(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tabPlaceholder = p
}

// SetMaxHistorySize caps the command history length; 0 disables history
// entirely (spec §8 boundary behavior: "up-arrow is a no-op").
func (c *Conn) SetMaxHistorySize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxHistorySize = n
}

// SetShouldColorize toggles SGR colorization of fanned-in records (spec
// §4.8: only applied when also ColorTerminal()).
func (c *Conn) SetShouldColorize(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldColorize = v
}

// SetSendRateLimit caps this peer's writes to bytesPerSec bytes/second,
// token-bucketed identically to tcpserver.Sink.SetSendRateLimit.
// bytesPerSec <= 0 disables limiting (the default).
func (c *Conn) SetSendRateLimit(bytesPerSec int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimit = ratewriter.New(bytesPerSec)
}

// Enqueue schedules job on this peer's underlying TCP connection's serial
// queue, the same FIFO queue internal/tcp.Server/Client already use to
// sequence per-connection work. Used to serialize history replay and live
// record fan-out relative to each other (spec §4.7 step 4: "Replay and
// live streaming must be serialized per peer"), mirroring
// sinks/tcpserver.Sink and sinks/tcpclient.Sink's identical use of
// conn.Queue().Enqueue for the same purpose.
func (c *Conn) Enqueue(job func()) {
	c.tcpConn.Queue().Enqueue(job)
}

// TerminalType returns the negotiated terminal type, or "" if unknown.
func (c *Conn) TerminalType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminalType
}

// ColorTerminal reports whether the negotiated terminal type looks
// ANSI-color-capable.
func (c *Conn) ColorTerminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.colorTerminal
}

// negotiationBlock is sent immediately upon accept (spec §4.8 "Session
// startup"): WILL Echo, WILL SuppressGoAhead, DO SuppressGoAhead, DO
// TerminalType.
var negotiationBlock = []byte{
	iacByte, willByte, optEcho,
	iacByte, willByte, optSGA,
	iacByte, doByte, optSGA,
	iacByte, doByte, optTermType,
}

// Start sends the negotiation block and optional banner, then the
// initial prompt, and begins the peer's read loop. Blocks until the
// connection closes.
func (c *Conn) Start(banner string) {
	c.mu.Lock()
	c.write(negotiationBlock)
	if banner != "" {
		c.write([]byte(SanitizeForTerminal(banner) + "\r\n"))
	}
	c.writePrompt()
	c.mu.Unlock()
	c.readLoop()
}

// write sends data, rate-limited per SetSendRateLimit. Callers must already
// hold c.mu: every call site runs inside Start's lock, readLoop's per-chunk
// lock or WriteFanOut's own lock, and write reads c.rateLimit under that
// same lock rather than re-acquiring it (c.mu is not reentrant).
func (c *Conn) write(data []byte) bool {
	limit := c.rateLimit
	return limit.WriteChunked(context.Background(), data, func(chunk []byte) bool {
		return c.tcpConn.WriteData(context.Background(), chunk)
	})
}

// writePrompt writes the current prompt (no leading erase — used only at
// session start and right after a line commit, when nothing needs
// erasing first). Callers must already hold c.mu.
func (c *Conn) writePrompt() {
	if c.prompt != "" {
		c.write([]byte(c.prompt))
	}
}

func (c *Conn) readLoop() {
	for {
		data := c.tcpConn.ReadData(context.Background(), 4096)
		if len(data) == 0 {
			// Either already closed (ReadData returned nil after an
			// error), or the peer sent EOF while still Opened — either
			// way there is nothing left to read, so close and stop.
			c.tcpConn.Close()
			return
		}
		c.mu.Lock()
		for _, b := range data {
			c.processByte(b)
		}
		c.mu.Unlock()
	}
}

// processByte advances the state machine by one byte. Caller holds c.mu.
func (c *Conn) processByte(b byte) {
	switch c.state {
	case stateNormal:
		c.processNormalByte(b)
	case stateCommand:
		c.processCommandByte(b)
	case stateWill:
		c.handleOptionNegotiation(willByte, b)
		c.state = stateNormal
	case stateWont:
		c.handleOptionNegotiation(wontByte, b)
		c.state = stateNormal
	case stateDo:
		c.handleOptionNegotiation(doByte, b)
		c.state = stateNormal
	case stateDont:
		c.handleOptionNegotiation(dontByte, b)
		c.state = stateNormal
	case stateSB:
		c.sbOption = b
		c.sbData = c.sbData[:0]
		c.state = stateSBData
	case stateSBData:
		if b == iacByte {
			c.state = stateSBIAC
		} else if len(c.sbData) < maxSubnegotiationBytes {
			c.sbData = append(c.sbData, b)
		}
	case stateSBIAC:
		if b == seByte {
			c.handleSubnegotiation()
			c.state = stateNormal
		} else if b == iacByte {
			if len(c.sbData) < maxSubnegotiationBytes {
				c.sbData = append(c.sbData, iacByte)
			}
			c.state = stateSBData
		} else {
			c.state = stateNormal
		}
	case stateCSIPending:
		if b == '[' {
			c.state = stateCSIAccumulate
			c.csiBuf = c.csiBuf[:0]
		} else {
			c.state = stateNormal
		}
	case stateCSIAccumulate:
		if b >= 0x40 && b <= 0x7E {
			c.dispatchANSI(b)
			c.state = stateNormal
		} else if len(c.csiBuf) < maxSubnegotiationBytes {
			c.csiBuf = append(c.csiBuf, b)
		}
	}
}

func (c *Conn) processNormalByte(b byte) {
	switch {
	case b == iacByte:
		c.state = stateCommand
	case b == 0x1B:
		c.state = stateCSIPending
	case b == '\r':
		c.commitLine()
	case b == '\n':
		// treat \r\n as one CR; bare \n ignored
	case b == 0x7F || b == 0x08:
		c.processDelete()
	case b == '\t':
		c.processTab()
	case b >= 0x20 && b <= 0x7E:
		c.processOtherASCIICharacter(b)
	default:
		c.processNonASCII(b)
	}
}

func (c *Conn) processCommandByte(b byte) {
	switch b {
	case willByte:
		c.state = stateWill
	case wontByte:
		c.state = stateWont
	case doByte:
		c.state = stateDo
	case dontByte:
		c.state = stateDont
	case sbByte:
		c.state = stateSB
	case iacByte:
		// escaped 0xFF arriving as a literal data byte
		c.processNonASCII(iacByte)
		c.state = stateNormal
	default:
		// most other commands (NOP, AYT, ...) are no-ops per RFC 854
		c.state = stateNormal
	}
}

// handleOptionNegotiation applies spec §4.8's option policy: accept
// TerminalType negotiation, refuse everything else we didn't proactively
// offer.
func (c *Conn) handleOptionNegotiation(cmd, option byte) {
	switch cmd {
	case willByte:
		if option == optTermType {
			c.awaitingTerm = true
			c.write([]byte{iacByte, sbByte, optTermType, termTypeSend, iacByte, seByte})
			return
		}
		if option == optSGA {
			// answers our own DO SuppressGoAhead
			return
		}
		c.write([]byte{iacByte, dontByte, option})
	case doByte:
		if option == optEcho || option == optSGA {
			return
		}
		c.write([]byte{iacByte, wontByte, option})
	case wontByte, dontByte:
		// peer declines; nothing to do
	}
}

func (c *Conn) handleSubnegotiation() {
	if c.sbOption != optTermType {
		return
	}
	if len(c.sbData) < 1 || c.sbData[0] != termTypeIS {
		return
	}
	name := strings.ToLower(strings.TrimSpace(string(c.sbData[1:])))
	if name == "" {
		return
	}
	c.terminalType = name
	for _, prefix := range colorTerminalPrefixes {
		if strings.HasPrefix(name, prefix) {
			c.colorTerminal = true
			break
		}
	}
}

// dispatchANSI handles ESC [ <final>: cursor up/down navigate history,
// left/right and everything else beep (spec §4.8).
func (c *Conn) dispatchANSI(final byte) {
	switch final {
	case 'A':
		c.historyUp()
	case 'B':
		c.historyDown()
	default:
		c.beep()
	}
}

func (c *Conn) beep() {
	c.write([]byte{0x07})
}

func (c *Conn) historyUp() {
	if len(c.history) == 0 || c.historyCursor == 0 {
		return
	}
	c.historyCursor--
	c.setLineBuffer(c.history[c.historyCursor])
}

func (c *Conn) historyDown() {
	if len(c.history) == 0 || c.historyCursor >= len(c.history)-1 {
		if len(c.history) > 0 && c.historyCursor == len(c.history)-1 {
			c.historyCursor = len(c.history)
			c.setLineBuffer(nil)
		}
		return
	}
	c.historyCursor++
	c.setLineBuffer(c.history[c.historyCursor])
}

// setLineBuffer replaces lineBuffer and redraws: erase current line,
// redraw prompt + new line.
func (c *Conn) setLineBuffer(line []byte) {
	c.lineBuffer = append([]byte(nil), line...)
	c.write([]byte("\r\x1b[K" + c.prompt + string(c.lineBuffer)))
}

func (c *Conn) processDelete() {
	if len(c.lineBuffer) == 0 {
		return
	}
	c.lineBuffer = c.lineBuffer[:len(c.lineBuffer)-1]
	c.write([]byte("\b \b"))
}

func (c *Conn) processTab() {
	c.lineBuffer = append(c.lineBuffer, c.tabPlaceholder...)
	c.write([]byte(c.tabPlaceholder))
}

func (c *Conn) processOtherASCIICharacter(b byte) {
	c.lineBuffer = append(c.lineBuffer, b)
	c.write([]byte{b})
}

// processNonASCII drops non-ASCII bytes by default, preserving the
// lineBuffer-is-printable-ASCII invariant (spec §3, §8 invariant 5).
func (c *Conn) processNonASCII(b byte) {
	_ = b
}

func (c *Conn) commitLine() {
	line := string(c.lineBuffer)
	c.lineBuffer = c.lineBuffer[:0]

	if c.maxHistorySize > 0 && line != "" {
		last := ""
		if len(c.history) > 0 {
			last = string(c.history[len(c.history)-1])
		}
		if line != last {
			c.history = append(c.history, []byte(line))
			if len(c.history) > c.maxHistorySize {
				c.history = c.history[len(c.history)-c.maxHistorySize:]
			}
		}
	}
	c.historyCursor = len(c.history)

	c.write([]byte("\r\n"))

	var response string
	if c.handler != nil {
		response = c.handler(c, line)
	}
	if response != "" {
		c.write([]byte(SanitizeForTerminal(response)))
	}
	c.writePrompt()
}

// LineBufferSnapshot returns a copy of the currently edited line, for
// tests.
func (c *Conn) LineBufferSnapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.lineBuffer)
}

// WriteFanOut emits a formatted log record to this peer, suppressing the
// in-progress prompt/line edit and restoring it afterward (spec §4.8
// "Prompt suppression during fan-out"). plain should already be formatted
// by the sink's formatter; colorized is the SGR-wrapped variant to use
// when the peer negotiated a color-capable terminal and colorization is
// enabled.
func (c *Conn) WriteFanOut(plain, colorized string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := plain
	if c.shouldColorize && c.colorTerminal && colorized != "" {
		out = colorized
	}
	out = SanitizeForTerminal(out)

	var b strings.Builder
	b.WriteString("\r\x1b[K")
	b.WriteString(out)
	if c.prompt != "" || len(c.lineBuffer) > 0 {
		b.WriteString(c.prompt)
		b.Write(c.lineBuffer)
	}
	c.write([]byte(b.String()))
}

// SanitizeForTerminal replaces any bare "\n" with "\r\n" so multi-line
// text displays correctly on a raw terminal
// (original_source/GCDTelnetServer/GCDTelnetConnection.h:
// sanitizeStringForTerminal:).
func SanitizeForTerminal(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// ParseCommandLine splits line into a command and arguments, honoring
// single and double quoting: a quoted span preserves whitespace and
// terminates at the matching quote; unquoted whitespace separates
// arguments; backslash escapes are not interpreted (spec §4 supplemental,
// original_source/GCDTelnetServer/GCDTelnetConnection.h's
// parseLineAsCommandAndArguments:).
func ParseCommandLine(line string) (cmd string, args []string) {
	var tokens []string
	var cur strings.Builder
	inToken := false
	var quote byte

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for i := 0; i < len(line); i++ {
		ch := line[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
				continue
			}
			cur.WriteByte(ch)
			continue
		}
		switch {
		case ch == '"' || ch == '\'':
			quote = ch
			inToken = true
		case ch == ' ' || ch == '\t':
			flush()
		default:
			cur.WriteByte(ch)
			inToken = true
		}
	}
	flush()

	if len(tokens) == 0 {
		return "", nil
	}
	return tokens[0], tokens[1:]
}
