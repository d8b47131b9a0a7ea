package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ochairo/geiger/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/geiger/internal/domain-orchestrators"
	"github.com/ochairo/geiger/internal/domain/entities"
)

type scanOptions struct {
	packageID string
	engines   []string
	degraded  bool
	keepRaw   string
	rebuild   bool
	jsonOut   bool
	verbose   bool
}

func newScanCmd(global *globalOptions) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan <apk|dir|glob>...",
		Short: "Scan one or more APKs and persist a merged report per application",
		Example: `  geiger scan app.apk
  geiger scan --engines nuclei --keep-raw ./raw app.apk
  geiger scan --threads 8 ./apks/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, global, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.packageID, "package-id", "", "Package identifier (default derived from the file name; single APK only)")
	f.StringSliceVar(&opts.engines, "engines", nil, "Engines to run (default all enabled): nuclei,reavs")
	f.BoolVar(&opts.degraded, "degraded", false, "Scan with a single decompiled tree when decompilation partially fails")
	f.StringVar(&opts.keepRaw, "keep-raw", "", "Keep raw engine output in this directory")
	f.BoolVar(&opts.rebuild, "rebuild", false, "Discard cached decompilation and rebuild")
	f.BoolVar(&opts.jsonOut, "json", false, "Print reports as JSON")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "List every finding")
	return cmd
}

func runScan(cmd *cobra.Command, global *globalOptions, opts *scanOptions, args []string) error {
	ctx := cmd.Context()

	paths, err := resolveArtifacts(args)
	if err != nil {
		return err
	}
	if opts.packageID != "" && len(paths) > 1 {
		return fmt.Errorf("--package-id applies to a single APK, got %d", len(paths))
	}

	a, err := newApp(global)
	if err != nil {
		return err
	}
	scanner, err := a.scanner(ctx, opts.degraded, opts.keepRaw)
	if err != nil {
		return err
	}

	engines := make([]entities.EngineID, 0, len(opts.engines))
	for _, e := range opts.engines {
		engines = append(engines, entities.EngineID(strings.ToLower(strings.TrimSpace(e))))
	}

	reqs := make([]orchestrators.ScanRequest, 0, len(paths))
	for _, p := range paths {
		reqs = append(reqs, orchestrators.ScanRequest{Path: p, PackageID: opts.packageID, Engines: engines, Rebuild: opts.rebuild})
	}

	var results []*orchestrators.ScanResult
	var scanErr error
	if len(reqs) == 1 {
		r := scanner.Scan(ctx, reqs[0])
		results, scanErr = []*orchestrators.ScanResult{r}, r.Error
	} else {
		results, scanErr = scanner.ScanBatch(ctx, reqs)
	}

	findings := 0
	for _, r := range results {
		if opts.jsonOut {
			printReportJSON(r.Report)
		} else {
			displayScanResult(r, opts.verbose)
		}
		if r.Report != nil && r.Error == nil {
			findings += r.Report.Total()
		}
	}
	if !opts.jsonOut && len(results) > 1 {
		fmt.Printf("📦 %d artifacts scanned, %d findings total\n", len(results), findings)
	}

	if scanErr != nil {
		return &exitCodeError{code: exitError, err: scanErr}
	}
	if findings > 0 {
		return &exitCodeError{code: exitFindings}
	}
	return nil
}

// resolveArtifacts expands files, directories and glob patterns into APK paths
func resolveArtifacts(args []string) ([]string, error) {
	finder := gateways.NewArtifactFinder()
	seen := make(map[string]bool)
	var paths []string

	add := func(found ...string) {
		for _, p := range found {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}

	for _, arg := range args {
		if strings.ContainsAny(arg, "*?[") {
			found, err := finder.FindByGlob(arg)
			if err != nil {
				return nil, err
			}
			add(found...)
			continue
		}

		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to access %s: %w", arg, err)
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		found, err := finder.FindRecursive(arg)
		if err != nil {
			return nil, err
		}
		add(found...)
	}

	if len(paths) == 0 {
		return nil, errors.New("no APK files found")
	}
	return paths, nil
}

func displayScanResult(r *orchestrators.ScanResult, verbose bool) {
	name := r.Request.Path
	if r.Artifact != nil {
		name = fmt.Sprintf("%s (%s)", r.Artifact.PackageID, r.Request.Path)
	}
	fmt.Printf("🔍 Scan: %s\n", name)

	for _, run := range r.Runs {
		fmt.Printf("   %s %-7s %s\n", runIcon(run.Status), run.Engine, runSummary(run))
	}

	if r.Report != nil && r.Error == nil {
		report := r.Report
		if report.Degraded {
			fmt.Printf("   ⚠️  Degraded: one decompiled tree is missing\n")
		}
		printSeverityCounts(report)
		if verbose {
			printFindings(report, nil, nil)
		}
		fmt.Printf("   Report: %s\n", r.Location)
	}

	if r.Error != nil {
		fmt.Printf("   ❌ %s: %v\n", r.Final(), r.Error)
	}
	fmt.Printf("   ⏱️  %v\n\n", r.Duration.Round(time.Millisecond))
}

func runSummary(run *entities.EngineRun) string {
	switch run.Status {
	case entities.RunSuccess:
		s := fmt.Sprintf("%d findings in %v", len(run.Findings), run.Duration().Round(time.Millisecond))
		if run.Skipped > 0 {
			s += fmt.Sprintf(" (%d records skipped)", run.Skipped)
		}
		return s
	default:
		if run.Err != nil {
			return fmt.Sprintf("%s: %v", run.Status, run.Err)
		}
		return string(run.Status)
	}
}

func runIcon(status entities.RunStatus) string {
	switch status {
	case entities.RunSuccess:
		return "✅"
	case entities.RunTimeout:
		return "⏱️"
	case entities.RunSkipped:
		return "⏭️"
	case entities.RunCanceled:
		return "🛑"
	default:
		return "❌"
	}
}

func printReportJSON(report *entities.ScanReport) {
	if report == nil {
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to encode report: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
