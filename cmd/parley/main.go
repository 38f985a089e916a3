// Package main provides the parley CLI process entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jmather/parley/internal/app"
	"github.com/jmather/parley/internal/version"
)

// main wires process signal handling to the command tree.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(execute(ctx, os.Args[1:]))
}

func execute(ctx context.Context, args []string) int {
	// A .env next to the working directory can carry API keys during
	// development; real deployments set them in the environment.
	_ = godotenv.Load()

	runner := app.Runner{Stdout: os.Stdout, Stderr: os.Stderr}

	exitCode := 0
	root := newRootCommand(&runner, &exitCode)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil && exitCode == 0 {
		exitCode = 2
	}
	return exitCode
}

func newRootCommand(runner *app.Runner, exitCode *int) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "parley",
		Short: "Hands-free voice sessions for your data assistant",
		Long:  "Parley runs a hands-free voice loop: it listens, transcribes, sends your question to the data assistant, and resumes listening once the reply lands.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/parley/config.yaml)")

	root.AddCommand(newOpenCommand(runner, exitCode, &configPath))
	root.AddCommand(newCloseCommand(runner, exitCode))
	root.AddCommand(newCancelCommand(runner, exitCode))
	root.AddCommand(newRetryCommand(runner, exitCode))
	root.AddCommand(newStatusCommand(runner, exitCode))
	root.AddCommand(newDevicesCommand(runner, exitCode))
	root.AddCommand(newHistoryCommand(runner, exitCode, &configPath))
	root.AddCommand(newDoctorCommand(runner, exitCode, &configPath))
	root.AddCommand(newVersionCommand())

	return root
}

func newOpenCommand(runner *app.Runner, exitCode *int, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Start a voice session and hold it until closed",
		Long:  "Acquire the session socket, request microphone access, and run the listen/dispatch loop until close is requested or the process is signalled.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			*exitCode = runner.Open(cmd.Context(), *configPath)
			return nil
		},
	}
}

func newCloseCommand(runner *app.Runner, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "Close the running voice session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			*exitCode = runner.Close(cmd.Context())
			return nil
		},
	}
}

func newCancelCommand(runner *app.Runner, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Abandon the in-flight exchange and listen again",
		RunE: func(cmd *cobra.Command, _ []string) error {
			*exitCode = runner.Cancel(cmd.Context())
			return nil
		},
	}
}

func newRetryCommand(runner *app.Runner, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Retry microphone access after a denial",
		RunE: func(cmd *cobra.Command, _ []string) error {
			*exitCode = runner.Retry(cmd.Context())
			return nil
		},
	}
}

func newStatusCommand(runner *app.Runner, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the session state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			*exitCode = runner.Status(cmd.Context())
			return nil
		},
	}
}

func newDevicesCommand(runner *app.Runner, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List PulseAudio input sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			*exitCode = runner.Devices(cmd.Context())
			return nil
		},
	}
}

func newHistoryCommand(runner *app.Runner, exitCode *int, configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent exchanges from the journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			*exitCode = runner.History(cmd.Context(), *configPath, limit)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of exchanges to show")

	return cmd
}

func newDoctorCommand(runner *app.Runner, exitCode *int, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, audio, credentials, and assistant reachability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			*exitCode = runner.Doctor(cmd.Context(), *configPath)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
