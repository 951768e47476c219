package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// SlashCommand is a parsed console command.
type SlashCommand struct {
	Name string
	Args []string
}

// ParseSlashCommand parses a slash command from user input.
func ParseSlashCommand(input string) *SlashCommand {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return nil
	}

	parts := strings.Fields(input)
	name := strings.TrimPrefix(parts[0], "/")
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return &SlashCommand{Name: name, Args: args}
}

// CommandResult is the outcome of a slash command.
type CommandResult struct {
	Output  string
	IsQuit  bool
	IsReset bool
}

// chatState is the console's mutable settings; slash commands edit it.
type chatState struct {
	client  *Client
	session string
	model   string
}

// ExecuteCommand handles one slash command against the console state.
func ExecuteCommand(cmd *SlashCommand, st *chatState) CommandResult {
	switch cmd.Name {
	case "help", "h":
		return CommandResult{Output: renderHelp()}
	case "exit", "quit", "q":
		return CommandResult{IsQuit: true}
	case "new", "reset":
		return CommandResult{Output: "history cleared", IsReset: true}
	case "session":
		if len(cmd.Args) == 0 {
			return CommandResult{Output: fmt.Sprintf("current session: %s\nusage: /session <id> switches (and clears local history)", st.session)}
		}
		st.session = cmd.Args[0]
		return CommandResult{Output: fmt.Sprintf("switched to session %s", st.session), IsReset: true}
	case "model", "m":
		if len(cmd.Args) == 0 {
			m := st.model
			if m == "" {
				m = "auto (routed per request)"
			}
			return CommandResult{Output: fmt.Sprintf("current model: %s\nusage: /model <name>, /model auto", m)}
		}
		if cmd.Args[0] == "auto" {
			st.model = ""
			return CommandResult{Output: "model override cleared, router decides"}
		}
		st.model = cmd.Args[0]
		return CommandResult{Output: fmt.Sprintf("model pinned to %s", st.model)}
	case "status", "s":
		return CommandResult{Output: renderGatewayStatus(st)}
	case "version":
		return CommandResult{Output: fmt.Sprintf("gatectl v%s", appVersion)}
	default:
		return CommandResult{Output: fmt.Sprintf("unknown command: /%s — try /help", cmd.Name)}
	}
}

func renderHelp() string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	cmdStyle := lipgloss.NewStyle().Foreground(colorGreen)
	descStyle := lipgloss.NewStyle().Foreground(colorGray)

	cmds := []struct {
		name string
		desc string
	}{
		{"/help", "show this help"},
		{"/model [name]", "show or pin the model (auto clears)"},
		{"/session [id]", "show or switch the session"},
		{"/new", "clear local conversation history"},
		{"/status", "gateway and provider health"},
		{"/version", "version"},
		{"/exit", "quit"},
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("◇ Commands"))
	sb.WriteString("\n\n")

	for _, c := range cmds {
		sb.WriteString(fmt.Sprintf("  %s  %s\n",
			cmdStyle.Render(fmt.Sprintf("%-16s", c.name)),
			descStyle.Render(c.desc),
		))
	}

	return sb.String()
}

func renderGatewayStatus(st *chatState) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := st.client.Health(ctx)
	if err != nil {
		return lipgloss.NewStyle().Foreground(colorRed).Render("✗ " + err.Error())
	}
	return RenderHealth(health)
}
