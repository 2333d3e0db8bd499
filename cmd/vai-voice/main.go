// Command vai-voice serves real-time voice agent sessions and carries the
// operator commands around them.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-voice/internal/dotenv"
)

func newRootCmd(deps serveDeps) *cobra.Command {
	serve := newServeCmd(deps)
	root := &cobra.Command{
		Use:   "vai-voice",
		Short: "Real-time voice agent server",
		Long: `vai-voice accepts authenticated callers over a managed room or a
direct peer connection and runs a speech-to-speech agent session for each.

Configuration is read from the environment. A .env file in the working
directory is loaded first; variables already set take precedence.

Running without a subcommand is the same as "vai-voice serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.AddCommand(serve, newMigrateCmd(), newTokenCmd(), newUserCmd())
	return root
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps serveDeps) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	if err := dotenv.Load(".env", ".env.local"); err != nil {
		fmt.Fprintf(stderr, "vai-voice: %v\n", err)
		return 1
	}

	root := newRootCmd(deps)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "vai-voice: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultServeDeps()))
}
