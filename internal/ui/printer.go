package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Field is one key/value line in a header or result box.
type Field struct {
	Key   string
	Value string
}

// Printer provides methods for printing UI components to a writer.
// Commands use it for their curated output; frames stream through Println.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
	}
}

// Width returns the current terminal width used by this printer
func (p *Printer) Width() int {
	return p.width
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// Printf writes formatted content
func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, fields ...Field) {
	p.Println(RenderHeader(title, command, fields, p.width))
}

// PrintSuccess prints a success result box
func (p *Printer) PrintSuccess(title string, fields ...Field) {
	p.Println(RenderSuccessBox(title, fields, p.width))
}

// PrintError prints an error result box with troubleshooting hints
func (p *Printer) PrintError(title string, err error, hints ...string) {
	p.Println(RenderErrorBox(title, err, hints, p.width))
}

// RenderHeader renders a command header box
func RenderHeader(title, command string, fields []Field, width int) string {
	top := lipgloss.JoinVertical(lipgloss.Left,
		HeaderTitleStyle.Render(strings.ToUpper(title)),
		HeaderCommandStyle.Render(command),
	)
	if len(fields) == 0 {
		return HeaderBorderStyle(width).Render(top)
	}

	dividerWidth := width - 6
	if dividerWidth < 10 {
		dividerWidth = 10
	}
	divider := MetaStyle.Render(strings.Repeat("─", dividerWidth))

	content := lipgloss.JoinVertical(lipgloss.Left, top, divider, renderFields(fields, "  "))
	return HeaderBorderStyle(width).Render(content)
}

// RenderSuccessBox renders a success result box
func RenderSuccessBox(title string, fields []Field, width int) string {
	lines := []string{
		"",
		SuccessTitleStyle.Render(ValidMarker + "  " + title),
		"",
	}
	if len(fields) > 0 {
		lines = append(lines, renderFields(fields, ""), "")
	}
	return SuccessBoxStyle(width).Render(strings.Join(lines, "\n"))
}

// RenderErrorBox renders an error result box with troubleshooting hints
func RenderErrorBox(title string, err error, hints []string, width int) string {
	lines := []string{
		"",
		ErrorTitleStyle.Render(InvalidMarker + "  " + title),
		"",
	}
	if err != nil {
		lines = append(lines, ErrorMessageStyle.Render("Error: "+err.Error()), "")
	}
	if len(hints) > 0 {
		lines = append(lines, WarningStyle.Render("Troubleshooting:"))
		for _, hint := range hints {
			lines = append(lines, HintStyle.Render("  • "+hint))
		}
		lines = append(lines, "")
	}
	return ErrorBoxStyle(width).Render(strings.Join(lines, "\n"))
}

func renderFields(fields []Field, indent string) string {
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		lines = append(lines, indent+ResultKeyStyle.Render(f.Key+":")+" "+ResultValueStyle.Render(f.Value))
	}
	return strings.Join(lines, "\n")
}
