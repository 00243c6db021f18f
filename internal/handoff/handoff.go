// Package handoff moves finalized action records out of the fast voting
// store into durable storage.
package handoff

import (
	"context"
	"database/sql"
	"time"

	"fastvote/internal/domain"
	"fastvote/internal/repo"
)

// Committer persists a finalized action. Implementations must be idempotent
// per action key: the same record may be committed more than once.
//
// The ledger runs inside the finalize transaction and gets that tx. Archive
// committers (Redis, LevelDB) talk to external stores, so they run only after
// the local commit with a nil tx.
type Committer interface {
	Commit(ctx context.Context, tx *sql.Tx, a domain.Action) error
}

// Ledger commits into the commits table of the same database, so the handoff
// lands or disappears together with the finalize transaction. Ledger rows not
// yet marked archived are the outbox the archive retry drains.
type Ledger struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (l Ledger) Commit(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	return l.Repo.InsertCommit(ctx, tx, a.Key, domain.EncodeAction(a), domain.Stamp(now()))
}
