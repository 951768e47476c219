package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

const appVersion = "0.3.0"

// brand colors
var (
	colorCyan    = lipgloss.Color("#00D7FF")
	colorDimCyan = lipgloss.Color("#00AFAF")
	colorGray    = lipgloss.Color("#6C6C6C")
	colorWhite   = lipgloss.Color("#FFFFFF")
	colorDim     = lipgloss.Color("#4E4E4E")
	colorGreen   = lipgloss.Color("#00FF87")
	colorYellow  = lipgloss.Color("#FFD75F")
	colorRed     = lipgloss.Color("#FF5F5F")
)

// Logo lines — clean block font, no box-drawing corners
var logoLines = []string{
	" ██   ██  █████  ██████  ███████ ██       ██████  █████  ███████ ███████",
	" ███ ███ ██   ██ ██   ██ ██      ██      ██      ██   ██    ██   ██     ",
	" ███████ ██   ██ ██   ██ █████   ██      ██  ███ ███████    ██   █████  ",
	" ██ █ ██ ██   ██ ██   ██ ██      ██      ██   ██ ██   ██    ██   ██     ",
	" ██   ██  █████  ██████  ███████ ███████  █████  ██   ██    ██   ███████",
}

// Gradient colors top→bottom (cyan → blue → violet)
var logoGradient = []lipgloss.Color{
	lipgloss.Color("#00FFFF"),
	lipgloss.Color("#00CFFF"),
	lipgloss.Color("#009FFF"),
	lipgloss.Color("#006FFF"),
	lipgloss.Color("#5F5FFF"),
}

// BannerInfo carries the dynamic stats shown in the welcome banner.
type BannerInfo struct {
	Gateway   string
	Model     string
	Session   string
	Providers string // e.g. "2/3 available", empty hides the line
}

// RenderBanner returns the styled welcome banner with gradient logo.
func RenderBanner(info BannerInfo, width int) string {
	labelStyle := lipgloss.NewStyle().Foreground(colorGray)
	valueStyle := lipgloss.NewStyle().Foreground(colorWhite)
	tipStyle := lipgloss.NewStyle().Foreground(colorDim)
	greenStyle := lipgloss.NewStyle().Foreground(colorGreen)
	versionStyle := lipgloss.NewStyle().Foreground(colorDimCyan)

	// Render gradient logo
	var logo string
	if width >= 76 {
		for i, line := range logoLines {
			c := logoGradient[i%len(logoGradient)]
			logo += lipgloss.NewStyle().Foreground(c).Bold(true).Render(line) + "\n"
		}
	} else {
		// Compact fallback
		logo = lipgloss.NewStyle().Foreground(colorCyan).Bold(true).Render(" ◇  M O D E L G A T E") + "\n"
	}

	ver := versionStyle.Render(fmt.Sprintf("  v%s", appVersion))

	model := info.Model
	if model == "" {
		model = "auto (routed per request)"
	}

	lines := []string{
		fmt.Sprintf("  %s %s", labelStyle.Render("Gateway"), valueStyle.Render(info.Gateway)),
		fmt.Sprintf("  %s %s", labelStyle.Render("Model  "), valueStyle.Render(model)),
		fmt.Sprintf("  %s %s", labelStyle.Render("Session"), valueStyle.Render(info.Session)),
	}
	if info.Providers != "" {
		lines = append(lines, fmt.Sprintf("  %s %s",
			labelStyle.Render("Backends"), greenStyle.Render(info.Providers)))
	}

	tips := tipStyle.Render("  Enter to send · /help for commands · Ctrl+C to quit")

	out := "\n" + logo + ver + "\n\n"
	for _, l := range lines {
		out += l + "\n"
	}
	out += "\n" + tips + "\n"
	return out
}
