package commands

import (
	"fmt"

	"github.com/reeflective/console"
	"github.com/spf13/cobra"
)

// shellChildCommands builds the set of cobra commands exposed inside the
// interactive shell: every magicctl subcommand except shell itself, so
// typing "shell" from within the shell is not offered.
func shellChildCommands() *cobra.Command {
	root := &cobra.Command{
		Use:           "magicctl",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(sessionCmd())
	root.AddCommand(linkCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(versionCmd())
	return root
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive magicctl shell",
		Long:  "Launches a readline-backed REPL, built on reeflective/console, that accepts magicctl subcommands.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runShell()
		},
	}
}

// runShell drives a reeflective/console REPL over the same cobra command
// tree magicctl exposes non-interactively, so "magicctl session list" and
// "session list" typed inside the shell hit the same code path.
func runShell() error {
	app := console.New("magicctl")

	menu := app.ActiveMenu()
	menu.SetCommands(func() *cobra.Command {
		return shellChildCommands()
	})
	menu.Prompt().Primary = func() string { return "magicctl> " }

	fmt.Println("magicctl interactive shell. Type 'help' for available commands, 'exit' to quit.")
	return app.Start()
}
