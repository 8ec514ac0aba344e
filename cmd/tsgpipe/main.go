// Package main provides the tsgpipe CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/richinex/tsgpipe/cli"
)

var (
	// Global flags
	provider string
	verbose  bool
	dbPath   string
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "tsgpipe",
		Short: "Turn troubleshooting notes into a structured guide",
		Long: `Runs rough troubleshooting notes through three LLM stages:

- research: gathers documentation with web and MCP tools
- write: drafts the guide in the required template
- review: checks structure and accuracy, correcting when needed

Notes are screened for personal data before anything is sent.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Session database path (default $SESSION_DB or .tsgpipe/tsgpipe.db)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(answerCmd())
	rootCmd.AddCommand(checkPIICmd())
	rootCmd.AddCommand(sessionsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var exit *cli.ExitError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		os.Exit(1)
	}
}

// withApp opens the app, runs fn and closes the app, keeping both errors.
func withApp(cmd *cobra.Command, opts cli.Options, fn func(ctx context.Context, app *cli.App) error) (err error) {
	opts.Provider = provider
	opts.Verbose = verbose
	opts.DBPath = dbPath

	ctx := cmd.Context()
	app, err := cli.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, app.Close())
	}()
	return fn(ctx, app)
}

func inputArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func runCmd() *cobra.Command {
	var images []string
	var out string
	var asJSON bool
	var mcpServers []string
	var mcpConfigPath string

	cmd := &cobra.Command{
		Use:   "run [notes-file]",
		Short: "Generate a guide from notes (file or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notes, err := cli.ReadInput(inputArg(args))
			if err != nil {
				return err
			}
			opts := cli.Options{MCPServers: mcpServers, MCPConfig: mcpConfigPath}
			return withApp(cmd, opts, func(ctx context.Context, app *cli.App) error {
				return app.Run(ctx, notes, images, cli.RunOptions{Out: out, JSON: asJSON}, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().StringArrayVar(&images, "image", nil, "Screenshot to include in research (repeatable)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the document to this file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON lines")
	cmd.Flags().StringArrayVar(&mcpServers, "mcp", nil, "MCP server command (repeatable)")
	cmd.Flags().StringVar(&mcpConfigPath, "mcp-config", "", "Path to MCP config file")

	return cmd
}

func answerCmd() *cobra.Command {
	var sessionID string
	var skip bool
	var out string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "answer --session ID [answers-file]",
		Short: "Answer open questions and refine the guide",
		Long: `Continues a session with answers to the open questions.

With --skip, or with empty answers, the current draft is accepted as final.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var answers string
			if !skip {
				var err error
				if answers, err = cli.ReadInput(inputArg(args)); err != nil {
					return err
				}
			}
			return withApp(cmd, cli.Options{}, func(ctx context.Context, app *cli.App) error {
				return app.Answer(ctx, sessionID, answers, skip, cli.RunOptions{Out: out, JSON: asJSON}, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID from a previous run")
	cmd.Flags().BoolVar(&skip, "skip", false, "Accept the current draft without answering")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the document to this file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON lines")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}

func checkPIICmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check-pii [file]",
		Short: "Scan text for personal data (exit 2 when blocked)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := cli.ReadInput(inputArg(args))
			if err != nil {
				return err
			}
			return withApp(cmd, cli.Options{}, func(ctx context.Context, app *cli.App) error {
				return app.CheckPII(ctx, text, asJSON, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cli.Options{}, func(ctx context.Context, app *cli.App) error {
				return app.ListSessions(ctx, cmd.OutOrStdout())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear ID",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cli.Options{}, func(ctx context.Context, app *cli.App) error {
				if err := app.ClearSession(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s deleted.\n", args[0])
				return nil
			})
		},
	})

	return cmd
}
