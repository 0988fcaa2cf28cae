// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xlfacility

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultTemplate is the default format template, matching spec §4.2.
const DefaultTemplate = "%t [%L]> %m%c"

// DefaultDateTimeFormat is the default %d layout (Go reference time
// spelling of "yyyy-MM-dd HH:mm:ss.SSS").
const DefaultDateTimeFormat = "2006-01-02 15:04:05.000"

// DefaultCallstackHeader / DefaultCallstackFooter wrap the "%c" block.
const DefaultCallstackHeader = "\n\n>>> Captured call stack:\n"

var DefaultCallstackFooter = ""

var processStart = time.Now()

// Formatter expands a Record into formatted text following a printf-style
// template with the fixed specifier vocabulary of spec §4.2.
type Formatter struct {
	Template              string
	DateTimeFormat        string
	TagPlaceholder        string
	ThreadPlaceholder     string
	QueuePlaceholder      string
	CallstackHeader       string
	CallstackFooter       string
	MultilinesPrefix      string
	AppendNewlineToFormat bool
}

// NewFormatter returns a Formatter configured with all spec-mandated
// defaults.
func NewFormatter() *Formatter {
	return &Formatter{
		Template:              DefaultTemplate,
		DateTimeFormat:        DefaultDateTimeFormat,
		TagPlaceholder:        "(none)",
		ThreadPlaceholder:     "(none)",
		QueuePlaceholder:      "(none)",
		CallstackHeader:       DefaultCallstackHeader,
		CallstackFooter:       DefaultCallstackFooter,
		AppendNewlineToFormat: true,
	}
}

var (
	cachedUID     string
	cachedPID     string
	cachedPName   string
	identityOnce  sync.Once
)

func processIdentity() (uid, pid, pname string) {
	identityOnce.Do(func() {
		cachedUID = strconv.Itoa(os.Getuid())
		cachedPID = strconv.Itoa(os.Getpid())
		if len(os.Args) > 0 {
			cachedPName = os.Args[0]
			if idx := strings.LastIndexByte(cachedPName, '/'); idx >= 0 {
				cachedPName = cachedPName[idx+1:]
			}
		}
	})
	return cachedUID, cachedPID, cachedPName
}

// Format expands r according to f's template and returns the resulting
// text, including any trailing newline controlled by
// AppendNewlineToFormat.
func (f *Formatter) Format(r *Record) string {
	var b strings.Builder
	tmpl := f.Template
	if tmpl == "" {
		tmpl = DefaultTemplate
	}

	runes := []rune(tmpl)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c == '\\' && i+1 < len(runes) {
			i++
			switch runes[i] {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case '%':
				b.WriteByte('%')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte('\\')
				b.WriteRune(runes[i])
			}
			continue
		}
		if c != '%' || i+1 >= len(runes) {
			b.WriteRune(c)
			continue
		}
		i++
		f.writeSpecifier(&b, runes[i], r)
	}

	out := b.String()
	if f.MultilinesPrefix != "" {
		lines := strings.Split(out, "\n")
		for idx := 1; idx < len(lines); idx++ {
			lines[idx] = f.MultilinesPrefix + lines[idx]
		}
		out = strings.Join(lines, "\n")
	}
	if f.AppendNewlineToFormat {
		out += "\n"
	}
	return out
}

func (f *Formatter) writeSpecifier(b *strings.Builder, spec rune, r *Record) {
	switch spec {
	case 'g':
		if r.Tag != "" {
			b.WriteString(r.Tag)
		} else {
			b.WriteString(f.TagPlaceholder)
		}
	case 'l':
		b.WriteString(r.Level.String())
	case 'L':
		b.WriteString(r.Level.Padded())
	case 'm':
		b.WriteString(r.Message)
	case 'M':
		b.WriteString(normalizeNewlines(r.Message))
	case 'u':
		uid, _, _ := processIdentity()
		b.WriteString(uid)
	case 'p':
		_, pid, _ := processIdentity()
		b.WriteString(pid)
	case 'P':
		_, _, pname := processIdentity()
		b.WriteString(pname)
	case 'r':
		if r.ThreadID != 0 {
			b.WriteString(strconv.FormatInt(r.ThreadID, 10))
		} else {
			b.WriteString(f.ThreadPlaceholder)
		}
	case 'q':
		if r.QueueLabel != "" {
			b.WriteString(r.QueueLabel)
		} else {
			b.WriteString(f.QueuePlaceholder)
		}
	case 't':
		b.WriteString(elapsedSinceStart())
	case 'd':
		layout := f.DateTimeFormat
		if layout == "" {
			layout = DefaultDateTimeFormat
		}
		b.WriteString(r.Time().Format(layout))
	case 'e':
		b.WriteString(strconv.Itoa(r.Errno))
	case 'E':
		if r.Errno != 0 {
			b.WriteString(errnoString(r.Errno))
		}
	case 'c':
		if len(r.Callstack) > 0 {
			b.WriteString(f.CallstackHeader)
			b.WriteString(strings.Join(r.Callstack, "\n"))
			b.WriteString(f.CallstackFooter)
		}
	default:
		b.WriteByte('%')
		b.WriteRune(spec)
	}
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

func elapsedSinceStart() string {
	d := time.Since(processStart)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	millis := d.Milliseconds() % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}

func errnoString(errno int) string {
	return syscallErrnoString(errno)
}
