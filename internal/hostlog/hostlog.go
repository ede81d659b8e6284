// Package hostlog writes the exact stdout lines the host parses out of a
// script's output. This is a wire-format concern, not a logging choice: the
// host greps stdout for literal "[WARNING]", "[ERROR]", "[V]", "[E]" and
// "[NZB]" prefixes, so these lines must never be routed through a
// structured logger that could reformat or reorder them.
package hostlog

import (
	"fmt"
	"os"
)

// Writer prints host-protocol lines, gated on the Verbose/Extreme flags
// the current invocation was started with.
type Writer struct {
	Verbose bool
	Extreme bool
}

func New(verbose, extreme bool) *Writer {
	return &Writer{Verbose: verbose, Extreme: extreme}
}

func (w *Writer) Info(format string, args ...any) {
	fmt.Fprintln(os.Stdout, fmt.Sprintf(format, args...))
}

func (w *Writer) Warning(format string, args ...any) {
	fmt.Fprintln(os.Stdout, "[WARNING] "+fmt.Sprintf(format, args...))
}

func (w *Writer) Error(format string, args ...any) {
	fmt.Fprintln(os.Stdout, "[ERROR] "+fmt.Sprintf(format, args...))
}

// V prints a verbose-trace line, only when Verbose (or Extreme) is on.
func (w *Writer) V(format string, args ...any) {
	if !w.Verbose && !w.Extreme {
		return
	}
	fmt.Fprintln(os.Stdout, "[V] "+fmt.Sprintf(format, args...))
}

// E prints a wire-level trace line, only when Extreme is on.
func (w *Writer) E(format string, args ...any) {
	if !w.Extreme {
		return
	}
	fmt.Fprintln(os.Stdout, "[E] "+fmt.Sprintf(format, args...))
}

// NZBDirective emits a "[NZB] KEY=VALUE" line the scan hook uses to pass a
// parameter (or pause instruction) back to the host.
func (w *Writer) NZBDirective(key, value string) {
	fmt.Fprintf(os.Stdout, "[NZB] %s=%s\n", key, value)
}
