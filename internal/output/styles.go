package output

import (
	"github.com/charmbracelet/lipgloss"
)

// Colors
var (
	ColorSafe   = lipgloss.Color("#04B575") // green
	ColorDanger = lipgloss.Color("#FF4040") // red
	ColorInfo   = lipgloss.Color("#00BFFF") // cyan
	ColorLabel  = lipgloss.Color("#AAAAAA") // light gray for labels
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorInfo)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorLabel).
			Width(18)

	SafeText = lipgloss.NewStyle().
			Foreground(ColorSafe).
			Bold(true)

	DangerText = lipgloss.NewStyle().
			Foreground(ColorDanger).
			Bold(true)
)

// SummaryBox frames the run summary.
var SummaryBox = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorInfo).
	Padding(0, 1)
