package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelgate/modelgate/internal/interfaces/cli"
)

const (
	cliVersion = "0.3.0"
	cliName    = "gatectl"

	queryTimeout = 10 * time.Second
)

var gatewayURL string

func main() {
	rootCmd := &cobra.Command{
		Use:   cliName + " [message]",
		Short: "modelgate operator console",
		Long:  "gatectl talks to a running modelgate gateway: interactive chat, live progress, session and provider inspection.",
		Args:  cobra.ArbitraryArgs,
		RunE:  runChat,
	}

	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", defaultGatewayURL(), "gateway base URL")

	rootCmd.Flags().StringP("model", "m", "", "pin a model instead of routing")
	rootCmd.Flags().StringP("session", "s", "", "session id to resume")
	rootCmd.Flags().String("system", "", "system prompt for the conversation")

	// --- Subcommands ---

	rootCmd.AddCommand(
		buildTailCmd(),
		buildSessionsCmd(),
		buildModelsCmd(),
		buildHealthCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "show version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s v%s\n", cliName, cliVersion)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultGatewayURL() string {
	if v := os.Getenv("GATEWAY_ADDR"); v != "" {
		return v
	}
	return "http://127.0.0.1:8787"
}

// ─── Interactive Chat (default) ───

func runChat(cmd *cobra.Command, args []string) error {
	model, _ := cmd.Flags().GetString("model")
	session, _ := cmd.Flags().GetString("session")
	system, _ := cmd.Flags().GetString("system")

	initPrompt := ""
	if len(args) > 0 {
		initPrompt = strings.Join(args, " ")
	}

	return cli.RunChat(cli.ChatConfig{
		Gateway:    gatewayURL,
		Session:    session,
		Model:      model,
		System:     system,
		InitPrompt: initPrompt,
	})
}

// ─── Progress Tail ───

func buildTailCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "follow live progress events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunTail(cli.TailConfig{Gateway: gatewayURL, Session: session})
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "only this session's events")
	return cmd
}

// ─── Inspection ───

func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "inspect live sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
			defer cancel()
			idx, err := cli.NewClient(gatewayURL).Sessions(ctx)
			if err != nil {
				return err
			}
			fmt.Println(cli.RenderSessionList(idx))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "show one session's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
			defer cancel()
			detail, err := cli.NewClient(gatewayURL).Session(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(cli.RenderSessionDetail(detail))
			return nil
		},
	})

	return cmd
}

func buildModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "models reachable through the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
			defer cancel()
			health, err := cli.NewClient(gatewayURL).Health(ctx)
			if err != nil {
				return err
			}
			for _, p := range health.Providers {
				for _, m := range p.Models {
					fmt.Printf("%s/%s\n", p.Name, m)
				}
			}
			return nil
		},
	}
}

func buildHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "gateway and provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
			defer cancel()
			health, err := cli.NewClient(gatewayURL).Health(ctx)
			if err != nil {
				return err
			}
			fmt.Println(cli.RenderHealth(health))
			return nil
		},
	}
}
