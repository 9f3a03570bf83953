// Package store persists investigation runs: report artifacts in an
// S3-compatible object store and run metadata in a Postgres index.
package store

import (
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

// ArtifactKeys is the {md,json} twin pair for one run. Both keys differ only
// in extension so browsers can pre-compute one from the other.
type ArtifactKeys struct {
	Markdown string
	JSON     string
}

// KeysFor builds the object keys for an investigation:
// <prefix>/<yyyy-mm-dd>/<identity_hash>-<family>-<bucket>.{md,json}.
// The date comes from the run's creation time in UTC.
func KeysFor(prefix string, inv *models.Investigation, dedupBucket int64) ArtifactKeys {
	base := fmt.Sprintf("%s/%s/%s-%s-%d",
		prefix,
		inv.CreatedAt.UTC().Format("2006-01-02"),
		inv.Identity.Hash(),
		inv.Family,
		dedupBucket)
	return ArtifactKeys{
		Markdown: base + ".md",
		JSON:     base + ".json",
	}
}

// runWindow returns the freshness cutoff for overwrite decisions.
func runWindow(now time.Time, freshness time.Duration) time.Time {
	return now.Add(-freshness)
}
