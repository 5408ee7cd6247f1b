package tui

import "github.com/charmbracelet/lipgloss"

var logoLeft = []string{
	"                    ",
	"█▀▀▀ █   █▀▀█ █   █ ",
	"█___ █__ █__█ █ █ █ ",
	"▀▀▀▀ ▀▀▀ ▀  ▀ ▀▀▀▀▀ ",
}

var logoRight = []string{
	"                    ",
	" █   ▀ █▀▀█ █ █",
	" █__ █ █  █ █▀▄",
	" ▀▀▀ ▀ ▀  ▀ ▀ ▀",
}

func renderLogo(width int) string {
	theme := getTheme()
	var result string

	for i := range logoLeft {
		left := lipgloss.NewStyle().Foreground(theme.textMuted).Render(logoLeft[i])
		right := lipgloss.NewStyle().Foreground(theme.text).Bold(true).Render(logoRight[i])
		line := left + " " + right
		padding := (width - lipgloss.Width(line)) / 2
		if padding > 0 {
			line = lipgloss.NewStyle().PaddingLeft(padding).Render(line)
		}
		result += line + "\n"
	}
	return result
}

// Small logo used in the footer.
func renderMiniLogo() string {
	theme := getTheme()
	return lipgloss.NewStyle().Foreground(theme.textMuted).Render("claw") +
		lipgloss.NewStyle().Foreground(theme.text).Bold(true).Render("link")
}
