// Package output provides consistent CLI output formatting. Styling is
// applied only when the destination is a terminal.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	activeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

// Writer provides formatted output for CLI.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New creates a Writer, enabling color when out is a terminal.
func New(out io.Writer) *Writer {
	useColor := false
	if f, ok := out.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Writer{out: out, useColor: useColor}
}

// NewPlain creates a Writer with styling forced off.
func NewPlain(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (w *Writer) render(style lipgloss.Style, msg string) string {
	if !w.useColor {
		return msg
	}
	return style.Render(msg)
}

// Println prints a plain line.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Println(msg string) {
	_, _ = fmt.Fprintln(w.out, msg)
}

// Printf prints a formatted plain line.
func (w *Writer) Printf(format string, args ...any) {
	w.Println(fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	_, _ = fmt.Fprintf(w.out, "✅ %s\n", w.render(successStyle, msg))
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	_, _ = fmt.Fprintf(w.out, "⚠️  %s\n", w.render(warningStyle, msg))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	_, _ = fmt.Fprintf(w.out, "❌ %s\n", w.render(errorStyle, msg))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Dim prints secondary information.
func (w *Writer) Dim(msg string) {
	_, _ = fmt.Fprintln(w.out, w.render(dimStyle, msg))
}

// Field prints an aligned "label: value" row.
func (w *Writer) Field(label, value string) {
	_, _ = fmt.Fprintf(w.out, "  %s %s\n", w.render(dimStyle, label+":"), value)
}

// KBRow prints one knowledge-base listing row. The active entry is
// marked and highlighted.
func (w *Writer) KBRow(name, path, origin string, active bool, chunks int) {
	marker := " "
	display := name
	if active {
		marker = "*"
		display = w.render(activeStyle, name)
	}
	detail := w.render(dimStyle, fmt.Sprintf("(%s, %d chunks) %s", strings.ToLower(origin), chunks, path))
	_, _ = fmt.Fprintf(w.out, " %s %s %s\n", marker, display, detail)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Block prints an indented text block, used for query context output.
func (w *Writer) Block(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}
