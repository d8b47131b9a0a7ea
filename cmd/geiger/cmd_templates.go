package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTemplatesCmd(global *globalOptions) *cobra.Command {
	var update bool

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Clone or update the nuclei templates and report how many are available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("update") {
				a.cfg.Templates.Update = update
			}

			manager, err := a.templateManager(cmd.Context())
			if err != nil {
				return err
			}
			dir, err := manager.Ensure(cmd.Context())
			if err != nil {
				return err
			}
			count, err := manager.Count(dir)
			if err != nil {
				return err
			}

			fmt.Printf("📚 Templates: %s\n", dir)
			fmt.Printf("   %d templates available\n", count)
			return nil
		},
	}

	cmd.Flags().BoolVar(&update, "update", true, "Pull the latest templates before counting")
	return cmd
}
