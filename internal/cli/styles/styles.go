package styles

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	DiscBlack = lipgloss.Color("#1F2023")
	GoldLabel = lipgloss.Color("#E5A00D")
	DimGray   = lipgloss.Color("#6B7280")
	LightGray = lipgloss.Color("#9CA3AF")
	White     = lipgloss.Color("#F9FAFB")
	Green     = lipgloss.Color("#10B981")
	Red       = lipgloss.Color("#EF4444")
	Blue      = lipgloss.Color("#3B82F6")
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
			Foreground(GoldLabel)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Red)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Green)
)

// Status characters
const (
	CheckChar   = "✓"
	CrossChar   = "✗"
	PendingChar = "◐"
)

// Pre-rendered status indicators
var (
	Check   = SuccessStyle.Render(CheckChar)
	Cross   = ErrorStyle.Render(CrossChar)
	Pending = AccentStyle.Render(PendingChar)
)
