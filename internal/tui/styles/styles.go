package styles

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	Parchment = lipgloss.Color("#E8D5A3")
	SlateDark = lipgloss.Color("#1F2937")
	DimGray   = lipgloss.Color("#6B7280")
	LightGray = lipgloss.Color("#9CA3AF")
	White     = lipgloss.Color("#F9FAFB")
	Green     = lipgloss.Color("#10B981")
	Red       = lipgloss.Color("#EF4444")
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(White).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(LightGray)

	DimStyle = lipgloss.NewStyle().
			Foreground(DimGray)

	AccentStyle = lipgloss.NewStyle().
			Foreground(Parchment)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Red)
)

// List item styles
var (
	SelectedItemStyle = lipgloss.NewStyle().
				Foreground(White).
				Background(SlateDark).
				Padding(0, 1)

	NormalItemStyle = lipgloss.NewStyle().
			Foreground(LightGray).
			Padding(0, 1)

	MatchStyle = lipgloss.NewStyle().
			Foreground(Parchment).
			Bold(true)
)

// Panel styles
var (
	ReaderStyle = lipgloss.NewStyle().
			Padding(0, 2)

	TocStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Parchment).
			Padding(1, 2)

	StatusBarStyle = lipgloss.NewStyle().
			Foreground(LightGray).
			Background(SlateDark).
			Padding(0, 1)

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(DimGray)
)
