package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ochairo/geiger/internal/domain/entities"
)

func newReportsCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Browse persisted scan reports",
	}
	cmd.AddCommand(newReportsListCmd(global), newReportsShowCmd(global))
	return cmd
}

func newReportsListCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [target]",
		Short: "List targets, or the report versions of one target",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if len(args) == 0 {
				targets, err := a.reports.Targets(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Reports in %s (%d targets):\n\n", a.reports.Root(), len(targets))
				for _, t := range targets {
					versions, err := a.reports.List(ctx, t)
					if err != nil {
						return err
					}
					fmt.Printf("  %-40s %d versions, latest %s\n", t, len(versions), versions[len(versions)-1].Format(time.RFC3339))
				}
				return nil
			}

			versions, err := a.reports.List(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Versions of %s (%d total):\n\n", args[0], len(versions))
			for _, v := range versions {
				fmt.Printf("  %s\n", v.Format(time.RFC3339Nano))
			}
			return nil
		},
	}
}

func newReportsShowCmd(global *globalOptions) *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "show <target>",
		Short: "Show a report with finding locations resolved against the decompile cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var report *entities.ScanReport
			if version == "" {
				report, err = a.reports.Load(ctx, args[0])
			} else {
				ts, parseErr := time.Parse(time.RFC3339Nano, version)
				if parseErr != nil {
					return fmt.Errorf("invalid --version: %w", parseErr)
				}
				report, err = a.reports.LoadVersion(ctx, args[0], ts)
			}
			if err != nil {
				return err
			}

			entry := a.cacheEntry(report.CacheKey)
			fmt.Printf("📊 %s @ %s\n", report.Target, report.GeneratedAt.Format(time.RFC3339))
			fmt.Printf("   Fingerprint: %s\n", report.Fingerprint)
			if entry == nil {
				fmt.Printf("   ⚠️  Decompiled trees for %s are not cached; showing tree-relative locations\n", report.CacheKey)
			}
			printSeverityCounts(report)
			fmt.Println()
			printFindings(report, a.locator, entry)
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Report version (RFC3339 timestamp, default latest)")
	return cmd
}

// cacheEntry returns the published cache entry for key, or nil
func (a *app) cacheEntry(key string) *entities.CacheEntry {
	entries, err := a.cache.List()
	if err != nil {
		a.logger.Debug("Failed to list cache entries")
		return nil
	}
	for _, e := range entries {
		if e.Key == key {
			return e
		}
	}
	return nil
}
