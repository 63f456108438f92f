// Package logx is the trace/debug log sink for the HAL. Output goes to
// an injectable io.Writer and defaults to discard, so production firmware
// pays nothing unless the bootstrap wires a sink (a UART on dev boards,
// os.Stdout in host simulations).
package logx

import (
	"fmt"
	"io"
)

// Level filters output. Debug < Info < Error.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
	levelOff
)

var (
	out io.Writer = discard{}
	min Level     = levelOff
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// SetOutput installs the sink and enables output at the given level.
// Call from bootstrap, before drivers run; not safe concurrently with
// logging.
func SetOutput(w io.Writer, lvl Level) {
	if w == nil {
		out = discard{}
		min = levelOff
		return
	}
	out = w
	min = lvl
}

func logf(lvl Level, tag, format string, a ...any) {
	if lvl < min {
		return
	}
	fmt.Fprintf(out, "%s %s\n", tag, fmt.Sprintf(format, a...))
}

func Debugf(format string, a ...any) { logf(LevelDebug, "dbg", format, a...) }
func Infof(format string, a ...any)  { logf(LevelInfo, "inf", format, a...) }
func Errorf(format string, a ...any) { logf(LevelError, "err", format, a...) }
