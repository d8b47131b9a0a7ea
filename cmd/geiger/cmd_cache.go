package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCacheCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the decompilation cache",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List cached decompilations",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				a, err := newApp(global)
				if err != nil {
					return err
				}
				entries, err := a.cache.List()
				if err != nil {
					return err
				}
				fmt.Printf("Cache entries in %s (%d total):\n\n", a.cache.Root(), len(entries))
				for _, e := range entries {
					fmt.Printf("  %-48s %s\n", e.Key, e.CreatedAt.Format(time.RFC3339))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "invalidate <key>...",
			Short: "Remove cached decompilations so the next scan rebuilds them",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				a, err := newApp(global)
				if err != nil {
					return err
				}
				for _, key := range args {
					if err := a.cache.Invalidate(key); err != nil {
						return err
					}
					fmt.Printf("🗑️  Invalidated %s\n", key)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "purge",
			Short: "Remove every cached decompilation",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				a, err := newApp(global)
				if err != nil {
					return err
				}
				if err := a.cache.Purge(); err != nil {
					return err
				}
				fmt.Printf("🗑️  Purged %s\n", a.cache.Root())
				return nil
			},
		},
	)
	return cmd
}
