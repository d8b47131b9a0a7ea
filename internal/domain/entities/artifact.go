// Package entities defines core domain models and data structures.
package entities

import "fmt"

// Artifact represents an application package submitted for scanning
type Artifact struct {
	PackageID   string
	Fingerprint string // hex SHA-256 of the archive bytes
	Path        string // absolute path to the archive
}

// Key returns the stable cache identity of the artifact.
// Two archives with the same package id but different bytes get different keys.
func (a *Artifact) Key() string {
	fp := a.Fingerprint
	if len(fp) > 16 {
		fp = fp[:16]
	}
	return fmt.Sprintf("%s_%s", a.PackageID, fp)
}
