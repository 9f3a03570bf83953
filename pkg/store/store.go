package store

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarka/pkg/models"
	"github.com/codeready-toolchain/tarka/pkg/report"
)

// Store is the persistence pair the pipeline writes through: artifact twins
// first, then the index row pointing at them.
type Store struct {
	Artifacts *ArtifactStore
	Index     *Index
}

// New bundles an artifact store and an index.
func New(artifacts *ArtifactStore, index *Index) *Store {
	return &Store{Artifacts: artifacts, Index: index}
}

// Persist writes one completed run. The index upsert happens even when the
// artifact write was skipped as fresh, so recurrence counting sees every run.
func (s *Store) Persist(ctx context.Context, inv *models.Investigation, dedupBucket int64) error {
	jsonBody, err := report.JSON(inv)
	if err != nil {
		return fmt.Errorf("encoding report for run %s: %w", inv.RunID, err)
	}

	if _, err := s.Artifacts.Write(ctx, inv, dedupBucket, jsonBody); err != nil {
		return fmt.Errorf("writing artifacts for run %s: %w", inv.RunID, err)
	}

	keys := s.Artifacts.Keys(inv, dedupBucket)
	if err := s.Index.UpsertRun(ctx, inv, keys.Markdown); err != nil {
		return fmt.Errorf("indexing run %s: %w", inv.RunID, err)
	}
	return nil
}

// RecurrenceCount proxies the index for the scoring stage.
func (s *Store) RecurrenceCount(ctx context.Context, caseID string, since time.Time) (int, error) {
	return s.Index.RecurrenceCount(ctx, caseID, since)
}

// LastRunTime proxies the index for the ingestion freshness gate.
func (s *Store) LastRunTime(ctx context.Context, caseID string) (time.Time, bool, error) {
	return s.Index.LastRunTime(ctx, caseID)
}
