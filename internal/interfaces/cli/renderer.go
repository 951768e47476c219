package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// Renderer turns gateway replies into styled terminal output.
type Renderer struct {
	glamour *glamour.TermRenderer
	width   int
}

// NewRenderer creates a renderer with the given terminal width
func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	return &Renderer{
		glamour: r,
		width:   width,
	}
}

// RenderMarkdown renders markdown text to styled terminal output
func (r *Renderer) RenderMarkdown(md string) string {
	if r.glamour == nil {
		return md
	}
	out, err := r.glamour.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}

// RenderReply renders the assistant's content blocks. Thinking and tool
// traces come back dimmed; text goes through glamour.
func (r *Renderer) RenderReply(reply *ChatReply) string {
	if reply.Failed() {
		return RenderError(reply.ErrorType, reply.ErrorMessage)
	}

	thinkStyle := lipgloss.NewStyle().Foreground(colorDimCyan).Italic(true)
	toolStyle := lipgloss.NewStyle().Foreground(colorYellow)

	var sb strings.Builder
	for _, block := range reply.Body.Content {
		switch block.Type {
		case entity.BlockThinking:
			sb.WriteString(thinkStyle.Render("∴ " + truncate(block.Thinking, 200)))
			sb.WriteString("\n\n")
		case entity.BlockToolUse:
			sb.WriteString(toolStyle.Render(fmt.Sprintf("⚙ %s %s", block.Name, summarizeArgs(block.Input))))
			sb.WriteString("\n\n")
		case entity.BlockText:
			sb.WriteString(r.RenderMarkdown(block.Text))
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RenderStatusLine renders the routing trailer shown under each answer.
func RenderStatusLine(reply *ChatReply) string {
	dim := lipgloss.NewStyle().Foreground(colorDim)

	var parts []string
	for _, p := range []string{reply.Provider, reply.Model, reply.Tier, reply.Method} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if reply.Duration > 0 {
		parts = append(parts, formatDuration(reply.Duration))
	}
	if len(parts) == 0 {
		return ""
	}

	line := dim.Render("  " + strings.Join(parts, " · "))
	if reply.Cache != "" {
		line += lipgloss.NewStyle().Foreground(colorGreen).Render(" · cache:" + reply.Cache)
	}
	if reply.Warning != "" {
		line += "\n" + lipgloss.NewStyle().Foreground(colorYellow).Render("  ⚠ "+reply.Warning)
	}
	return line
}

// RenderError renders a gateway error envelope.
func RenderError(errType, msg string) string {
	if errType == "" {
		errType = "error"
	}
	style := lipgloss.NewStyle().Foreground(colorRed)
	return style.Render(fmt.Sprintf("✗ %s: %s", errType, msg))
}

// RenderHealth renders gateway status plus a provider table.
func RenderHealth(h *HealthReply) string {
	head := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	ok := lipgloss.NewStyle().Foreground(colorGreen)
	bad := lipgloss.NewStyle().Foreground(colorRed)
	dim := lipgloss.NewStyle().Foreground(colorGray)

	var sb strings.Builder
	sb.WriteString(head.Render("◇ Gateway " + h.Status))
	sb.WriteString(dim.Render(fmt.Sprintf("  %d active session(s)", h.ActiveSessions)))
	sb.WriteString("\n")

	if len(h.Providers) == 0 {
		sb.WriteString(dim.Render("  no providers registered"))
		return sb.String()
	}

	providers := append([]ProviderHealth(nil), h.Providers...)
	sort.Slice(providers, func(i, j int) bool { return providers[i].Name < providers[j].Name })

	for _, p := range providers {
		mark := ok.Render("●")
		if !p.Available {
			mark = bad.Render("●")
		}
		line := fmt.Sprintf("  %s %-12s calls=%d failures=%d", mark, p.Name, p.TotalCalls, p.FailureCount)
		if p.LastLatencyMs > 0 {
			line += fmt.Sprintf(" last=%.0fms", p.LastLatencyMs)
		}
		if p.CircuitState != "" && p.CircuitState != "closed" {
			line += " circuit=" + p.CircuitState
		}
		sb.WriteString(line)
		sb.WriteString("\n")
		if len(p.Models) > 0 {
			sb.WriteString(dim.Render("      " + strings.Join(p.Models, ", ")))
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RenderSessionList renders the live-session index.
func RenderSessionList(idx *SessionIndex) string {
	head := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	idStyle := lipgloss.NewStyle().Foreground(colorWhite)
	dim := lipgloss.NewStyle().Foreground(colorGray)

	var sb strings.Builder
	sb.WriteString(head.Render(fmt.Sprintf("◇ %d session(s)", idx.Count)))
	sb.WriteString("\n")

	sessions := append([]SessionSummary(nil), idx.Sessions...)
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt) })

	for _, s := range sessions {
		flag := ""
		if s.Ephemeral {
			flag = " ephemeral"
		}
		sb.WriteString(fmt.Sprintf("  %s  %s\n",
			idStyle.Render(s.ID),
			dim.Render(fmt.Sprintf("%d turn(s), updated %s%s", s.Turns, ago(s.UpdatedAt), flag)),
		))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RenderSessionDetail renders one session's history snapshot.
func RenderSessionDetail(d *SessionDetail) string {
	head := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	dim := lipgloss.NewStyle().Foreground(colorGray)
	roleStyles := map[string]lipgloss.Style{
		entity.RoleUser:      lipgloss.NewStyle().Foreground(colorGreen).Bold(true),
		entity.RoleAssistant: lipgloss.NewStyle().Foreground(colorCyan).Bold(true),
	}

	var sb strings.Builder
	sb.WriteString(head.Render("◇ Session " + d.ID))
	sb.WriteString(dim.Render(fmt.Sprintf("  %d turn(s), created %s", d.Turns, ago(d.CreatedAt))))
	sb.WriteString("\n")

	for _, turn := range d.History {
		style, okRole := roleStyles[turn.Role]
		if !okRole {
			style = dim
		}
		label := turn.Role
		if turn.Type != "" && turn.Type != entity.BlockText {
			label += "/" + turn.Type
		}
		if turn.Status != "" {
			label += " (" + turn.Status + ")"
		}
		sb.WriteString(fmt.Sprintf("  %s %s\n", style.Render(label+":"), truncate(turn.Content, 160)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// summarizeArgs extracts key args for compact display
func summarizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}

	// Priority args to show
	priority := []string{"command", "file_path", "path", "query", "url", "pattern"}
	var parts []string

	for _, key := range priority {
		if v, ok := args[key]; ok {
			parts = append(parts, truncate(fmt.Sprintf("%v", v), 60))
		}
	}

	if len(parts) == 0 {
		// Show first arg
		for _, v := range args {
			parts = append(parts, truncate(fmt.Sprintf("%v", v), 60))
			break
		}
	}

	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%.1fh ago", d.Hours())
	}
}
