// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package telnet

import (
	"github.com/fatih/color"

	"github.com/nishisan-dev/xlfacility"
)

// levelColors maps each Level to the fatih/color.Color that reproduces
// spec §4.8's SGR table. EnableColor is forced on every instance because
// fatih/color's global stdout-tty detection is irrelevant here: these
// colors are destined for a remote Telnet peer, not the process's own
// terminal.
var levelColors = func() map[xlfacility.Level]*color.Color {
	m := map[xlfacility.Level]*color.Color{
		xlfacility.LevelDebug:     color.New(color.FgCyan),
		xlfacility.LevelVerbose:   color.New(color.FgBlue),
		xlfacility.LevelWarning:   color.New(color.FgYellow),
		xlfacility.LevelError:     color.New(color.FgRed),
		xlfacility.LevelException: color.New(color.FgMagenta),
		xlfacility.LevelAbort:     color.New(color.FgRed, color.Bold),
	}
	for _, c := range m {
		c.EnableColor()
	}
	return m
}()

// Colorize wraps text in the SGR sequence for level, or returns text
// unchanged for LevelInfo (spec §4.8: "Info | default").
func Colorize(level xlfacility.Level, text string) string {
	c, ok := levelColors[level]
	if !ok {
		return text
	}
	return c.Sprint(text)
}
