// Package progress renders run progress for a terminal.
//
// A Line rewrites one line in place with a carriage return. It stays silent
// when its writer is not a terminal, so piped output and log files only see
// the structured log stream.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Line is an in-place progress line. A nil *Line is valid and discards
// every update.
type Line struct {
	mu      sync.Mutex
	w       io.Writer
	width   int
	written bool
}

// New returns a Line writing to w, or nil if w is nil or not a terminal.
func New(w io.Writer) *Line {
	if w == nil || !IsTerminal(w) {
		return nil
	}
	return &Line{w: w}
}

// Force returns a Line writing to w regardless of terminal detection.
func Force(w io.Writer) *Line {
	return &Line{w: w}
}

// IsTerminal reports whether w is a file attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Update replaces the current line with the formatted message.
func (l *Line) Update(format string, args ...any) {
	if l == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()
	pad := ""
	if n := l.width - len(msg); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprint(l.w, "\r"+msg+pad)
	l.width = len(msg)
	l.written = true
}

// Done ends the line so following output starts on a fresh one.
func (l *Line) Done() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.written {
		fmt.Fprintln(l.w)
	}
	l.width = 0
	l.written = false
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E06C75"))
	detailStyle = lipgloss.NewStyle().PaddingLeft(2)
	fileStyle   = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("#5B8DEF"))
)

// Diagnostic renders a multi-line failure report. file names the problem
// report on disk and is omitted when empty.
func Diagnostic(title string, details []string, file string) string {
	lines := []string{titleStyle.Render(title)}
	for _, d := range details {
		lines = append(lines, detailStyle.Render(d))
	}
	if file != "" {
		lines = append(lines, fileStyle.Render("see "+file))
	}
	return strings.Join(lines, "\n")
}
