package main

import (
	"fmt"

	"github.com/ochairo/geiger/internal/domain-adapters/gateways"
	"github.com/ochairo/geiger/internal/domain/entities"
)

var severityIcons = map[entities.Severity]string{
	entities.SeverityCritical: "🔴",
	entities.SeverityHigh:     "🟠",
	entities.SeverityMedium:   "🟡",
	entities.SeverityLow:      "🟢",
}

func printSeverityCounts(report *entities.ScanReport) {
	if report.Total() == 0 {
		fmt.Printf("   ✅ No findings\n")
		return
	}
	for _, sev := range entities.Severities {
		if n := report.Counts[sev]; n > 0 {
			fmt.Printf("   %s %s: %d\n", severityIcons[sev], sev, n)
		}
	}
	for _, e := range report.EngineErrors {
		fmt.Printf("   ⚠️  %s %s: %s\n", e.Engine, e.Status, e.Reason)
	}
}

// printFindings lists findings; with an entry, locations are resolved to files
func printFindings(report *entities.ScanReport, locator *gateways.SourceLocator, entry *entities.CacheEntry) {
	for i := range report.Findings {
		f := &report.Findings[i]
		fmt.Printf("   - [%s] %s (%s, %s)\n", f.Severity, f.Title, f.Rule, joinEngines(f.Engines))

		where := formatLocation(f.Location)
		if locator != nil && entry != nil {
			if path, line, err := locator.Resolve(entry, f.Location); err == nil {
				where = path
				if line > 0 {
					where = fmt.Sprintf("%s:%d", path, line)
				}
			}
		}
		if where != "" {
			fmt.Printf("     at %s\n", where)
		}
		if f.Snippet != "" {
			fmt.Printf("     > %s\n", f.Snippet)
		}
	}
}

func formatLocation(loc entities.Location) string {
	switch {
	case loc.Path != "" && loc.Line > 0:
		return fmt.Sprintf("%s/%s:%d", loc.Tree, loc.Path, loc.Line)
	case loc.Path != "":
		return fmt.Sprintf("%s/%s", loc.Tree, loc.Path)
	default:
		return loc.Symbol
	}
}

func joinEngines(engines []entities.EngineID) string {
	s := ""
	for i, e := range engines {
		if i > 0 {
			s += "+"
		}
		s += string(e)
	}
	return s
}
