package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/loginhook"
)

func newStatusCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the login hook is installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			hook := e.config.Hook
			namespaces, err := e.admin.Namespaces(ctx)
			if err != nil {
				return err
			}
			routines, err := e.admin.Routines(ctx, hook.Namespace)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", headerStyle.Sprint("login_hook"), loginhook.Version())
			fmt.Fprintf(out, "  routine:   %s.%s()\n", hook.Namespace, hook.Routine)

			switch {
			case !slices.Contains(namespaces, hook.Namespace):
				fmt.Fprintf(out, "  state:     %s\n", dimStyle.Sprint("namespace absent"))
			case !slices.Contains(routines, hook.Routine):
				fmt.Fprintf(out, "  state:     %s\n", warningStyle.Sprint("namespace present, routine absent"))
			default:
				fmt.Fprintf(out, "  state:     %s\n", successStyle.Sprint("installed"))
			}
			if len(routines) > 0 {
				fmt.Fprintf(out, "  routines:  %v\n", routines)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the login hook version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), loginhook.Version())
		},
	}
}
