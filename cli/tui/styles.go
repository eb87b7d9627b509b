// Package tui provides the Bubble Tea operator monitor for a label reader
// device.
//
// The monitor is read-only: it subscribes to the hub's external status and
// order_info endpoints as an ordinary UI client and never sends.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/edgeorder/labelreader/types"
)

var (
	accent  = lipgloss.Color("#7C3AED")
	healthy = lipgloss.Color("#10B981")
	attend  = lipgloss.Color("#F59E0B")
	failing = lipgloss.Color("#EF4444")
	dim     = lipgloss.Color("#6B7280")
	outline = lipgloss.Color("#3B82F6")
	bright  = lipgloss.Color("#FFFFFF")
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).MarginBottom(1)

	// LabelStyle prefixes the connection and latest-event lines.
	LabelStyle = lipgloss.NewStyle().Foreground(dim).Width(16)
	ValueStyle = lipgloss.NewStyle().Foreground(bright)
	HelpStyle  = lipgloss.NewStyle().Foreground(dim).MarginTop(1)

	// Counter boxes across the top of the screen.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(outline).
			Padding(0, 2).
			Width(20).
			Align(lipgloss.Center)
	StatLabelStyle = lipgloss.NewStyle().Foreground(dim).Align(lipgloss.Center)
	StatValueStyle = lipgloss.NewStyle().Bold(true).Foreground(bright).Align(lipgloss.Center)

	okStyle      = lipgloss.NewStyle().Foreground(healthy)
	attendStyle  = lipgloss.NewStyle().Foreground(attend)
	failingStyle = lipgloss.NewStyle().Foreground(failing)
)

// CodeStyle returns the style for a status error sub type.
// Codes an operator can fix at the counter (box placement, a smudged
// label) are amber; pipeline and system failures are red.
func CodeStyle(code types.ErrorCode) lipgloss.Style {
	switch code {
	case "":
		return okStyle
	case types.ErrorCodeLowBB, types.ErrorCodeLowFieldConfidence, types.ErrorCodeFieldMissing,
		types.ErrorCodeCustomerNameMissing, types.ErrorCodeItemNameMissing, types.ErrorCodeOrderTypeMissing:
		return attendStyle
	default:
		return failingStyle
	}
}

// ConnStyle returns the style for a subscription state.
func ConnStyle(connected bool) lipgloss.Style {
	if connected {
		return okStyle
	}
	return failingStyle
}
