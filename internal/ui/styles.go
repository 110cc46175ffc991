package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Color palette
var (
	PrimaryColor = lipgloss.Color("#7D56F4") // Purple - headers, borders
	SuccessColor = lipgloss.Color("#43BF6D") // Green - valid frames, checkmarks
	ErrorColor   = lipgloss.Color("#FF5555") // Red - checksum failures, X marks
	WarningColor = lipgloss.Color("#FFA500") // Orange - warnings, paused state
	MutedColor   = lipgloss.Color("#626262") // Gray - secondary info
	TextColor    = lipgloss.Color("#FFFFFF") // White - main content
	AccentColor  = lipgloss.Color("#5FAFFF") // Blue - device ids
)

// Layout constants
const (
	MinTerminalWidth = 60  // Minimum supported terminal width
	MaxContentWidth  = 100 // Maximum content width before capping
	DefaultPadding   = 2   // Default padding inside boxes
)

var (
	// TitleStyle is for screen and box titles
	TitleStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			Background(PrimaryColor).
			Bold(true).
			Padding(0, 1)

	// SubtitleStyle is for the line under a title (e.g., the port name)
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	// TimestampStyle is for frame timestamps
	TimestampStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	// MessageIDStyle is for the message_id column
	MessageIDStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			Bold(true)

	// DeviceStyle is for src/dst device ids
	DeviceStyle = lipgloss.NewStyle().
			Foreground(AccentColor)

	// MetaStyle is for length and checksum columns
	MetaStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	// PayloadStyle is for payload hex
	PayloadStyle = lipgloss.NewStyle().
			Foreground(TextColor)

	// ValidStyle is for the marker of a frame with a good checksum
	ValidStyle = lipgloss.NewStyle().
			Foreground(SuccessColor).
			Bold(true)

	// InvalidStyle is for the marker of a frame that failed its checksum
	InvalidStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	// WarningStyle is for warnings and the paused indicator
	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true)

	// HeaderTitleStyle is for the main command title (e.g., "SEND FRAME")
	HeaderTitleStyle = lipgloss.NewStyle().
				Foreground(TextColor).
				Bold(true).
				PaddingLeft(2)

	// HeaderCommandStyle is for the command path (e.g., "brlink send")
	HeaderCommandStyle = lipgloss.NewStyle().
				Foreground(MutedColor).
				PaddingLeft(2)

	// ResultKeyStyle is for result detail keys
	ResultKeyStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Width(15)

	// ResultValueStyle is for result detail values
	ResultValueStyle = lipgloss.NewStyle().
				Foreground(TextColor)

	// SuccessTitleStyle is for the success result title
	SuccessTitleStyle = lipgloss.NewStyle().
				Foreground(SuccessColor).
				Bold(true)

	// ErrorTitleStyle is for the error result title
	ErrorTitleStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	// ErrorMessageStyle is for error message text
	ErrorMessageStyle = lipgloss.NewStyle().
				Foreground(ErrorColor)

	// HintStyle is for troubleshooting bullet points
	HintStyle = lipgloss.NewStyle().
			Foreground(MutedColor)
)

// Status markers
const (
	ValidMarker   = "✓"
	InvalidMarker = "✗"
	LiveMarker    = "●"
	PausedMarker  = "‖"
)

// IsTerminal reports whether stdout is a terminal. Commands fall back to
// plain line output when it is not.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// GetTerminalWidth returns the current terminal width, with fallback
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < MinTerminalWidth {
		return MinTerminalWidth
	}
	if width > MaxContentWidth {
		return MaxContentWidth
	}
	return width
}

// GetTerminalSize returns the current terminal width and height
func GetTerminalSize() (int, int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return MinTerminalWidth, 24 // Default fallback
	}
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}
	if width > MaxContentWidth {
		width = MaxContentWidth
	}
	return width, height
}

// HeaderBorderStyle returns the border style for command headers
func HeaderBorderStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width - 2) // Account for border characters
}

// SuccessBoxStyle returns the border style for success result boxes
func SuccessBoxStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(SuccessColor).
		Width(width - 2).
		Padding(0, 2)
}

// ErrorBoxStyle returns the border style for error result boxes
func ErrorBoxStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(ErrorColor).
		Width(width - 2).
		Padding(0, 2)
}
