package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newInstallCommand(opts *globalOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "install --file login.lua",
		Short: "Install the login hook routine",
		Long:  "Compile a Lua hook body and store it as the configured login routine. The namespace is created when missing.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read hook source: %w", err)
			}

			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			hook := e.config.Hook
			if err := e.admin.Register(ctx, hook.Namespace, hook.Routine, string(src)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s.%s() from %s\n",
				successStyle.Sprint("installed"), hook.Namespace, hook.Routine, file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Lua source of the hook body")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newUninstallCommand(opts *globalOptions) *cobra.Command {
	var dropNamespace bool

	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the login hook routine",
		Long:  "Remove the configured login routine. With --drop-namespace the whole namespace is removed, which turns dispatch into a no-op.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			hook := e.config.Hook
			var removed bool
			if dropNamespace {
				removed, err = e.admin.DropNamespace(ctx, hook.Namespace)
			} else {
				removed, err = e.admin.Unregister(ctx, hook.Namespace, hook.Routine)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			target := hook.Namespace + "." + hook.Routine + "()"
			if dropNamespace {
				target = "namespace " + hook.Namespace
			}
			if !removed {
				fmt.Fprintf(out, "%s %s was not installed\n", dimStyle.Sprint("nothing to do:"), target)
				return nil
			}
			fmt.Fprintf(out, "%s %s\n", successStyle.Sprint("removed"), target)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dropNamespace, "drop-namespace", false, "Drop the hook namespace instead of only the routine")
	return cmd
}
