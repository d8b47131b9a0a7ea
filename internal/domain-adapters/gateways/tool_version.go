package gateways

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const versionProbeTimeout = 30 * time.Second

// semverPattern matches versions like v3.1.0 or 2.9
var semverPattern = regexp.MustCompile(`v?([0-9]+\.[0-9]+(?:\.[0-9]+)?)`)

// VersionProbe reads the version an external tool reports about itself
type VersionProbe struct {
	runner *ProcessRunner
}

// NewVersionProbe creates a version probe
func NewVersionProbe(runner *ProcessRunner) *VersionProbe {
	return &VersionProbe{runner: runner}
}

// Version runs binary with args and extracts the first version from its output.
// Tools disagree on which stream they print to, so both are searched.
func (p *VersionProbe) Version(ctx context.Context, binary string, args ...string) (string, error) {
	result := p.runner.Run(ctx, ProcessSpec{
		Name:        binary,
		Args:        args,
		Timeout:     versionProbeTimeout,
		Description: "version probe",
	})
	if result.Status == ProcessStartFailed || result.Status == ProcessTimedOut || result.Status == ProcessCanceled {
		return "", result.Error
	}
	return ExtractVersion(result.Stdout + "\n" + result.Stderr)
}

// ExtractVersion returns the first version in input without its "v" prefix
func ExtractVersion(input string) (string, error) {
	matches := semverPattern.FindStringSubmatch(input)
	if len(matches) < 2 {
		return "", fmt.Errorf("no version found in output")
	}
	return matches[1], nil
}

// CompareVersions compares two dotted version strings numerically.
// Returns: 1 if v1 > v2, -1 if v1 < v2, 0 if equal
func CompareVersions(v1, v2 string) int {
	parts1 := strings.Split(strings.TrimPrefix(v1, "v"), ".")
	parts2 := strings.Split(strings.TrimPrefix(v2, "v"), ".")

	maxLen := len(parts1)
	if len(parts2) > maxLen {
		maxLen = len(parts2)
	}

	for i := 0; i < maxLen; i++ {
		num1 := leadingNumber(parts1, i)
		num2 := leadingNumber(parts2, i)
		if num1 > num2 {
			return 1
		} else if num1 < num2 {
			return -1
		}
	}
	return 0
}

// leadingNumber returns the numeric prefix of parts[i] ("1rc1" -> 1), or 0
func leadingNumber(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	end := 0
	for end < len(parts[i]) && parts[i][end] >= '0' && parts[i][end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(parts[i][:end])
	if err != nil {
		return 0
	}
	return n
}
