package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fastvote/internal/domain"
	"fastvote/internal/repo"
)

// archive sends a committed record to the external archive and marks the
// ledger row. No transaction is open while it runs.
func (e Engine) archive(ctx context.Context, a domain.Action) error {
	if e.Archive == nil {
		return nil
	}
	start := time.Now()
	err := e.Archive.Commit(ctx, nil, a)
	outcome := "archived"
	if err != nil {
		outcome = "deferred"
	}
	e.metrics().HandoffSeconds.With("outcome", outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	err = e.Repo.MarkCommitArchived(ctx, a.Key, e.stamp())
	if errors.Is(err, repo.ErrNotFound) {
		// A committer other than the ledger leaves nothing to mark.
		return nil
	}
	return err
}

// RetryArchive re-sends up to limit ledger records the archive has not
// accepted yet, oldest first, and reports how many were delivered. A record
// that still fails stays pending; its error is joined into the result.
func (e Engine) RetryArchive(ctx context.Context, limit int) (int, error) {
	if e.Archive == nil {
		return 0, nil
	}
	pending, err := e.Repo.ListUnarchivedCommits(ctx, limit)
	if err != nil {
		return 0, err
	}
	var (
		delivered int
		errs      []error
	)
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		a, err := domain.DecodeAction(p.Record)
		if err != nil {
			errs = append(errs, fmt.Errorf("decode commit %s: %w", p.Action, err))
			continue
		}
		if err := e.archive(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", p.Action, err))
			continue
		}
		delivered++
	}
	if delivered > 0 {
		e.log().Info("archive retried", "delivered", delivered, "pending", len(pending)-delivered)
	}
	return delivered, errors.Join(errs...)
}

const archiveRetryBatch = 100

// RunArchiveRetry drains pending archive records every interval until ctx
// ends.
func (e Engine) RunArchiveRetry(ctx context.Context, interval time.Duration) {
	if e.Archive == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := e.RetryArchive(ctx, archiveRetryBatch); err != nil && ctx.Err() == nil {
			e.log().Warn("archive retry failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PendingArchive lists ledger records still waiting for the archive.
func (e Engine) PendingArchive(ctx context.Context, limit int) ([]repo.PendingCommit, error) {
	return e.Repo.ListUnarchivedCommits(ctx, limit)
}
