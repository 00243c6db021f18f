package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fastvote/internal/domain"
	"fastvote/internal/engine"
)

type memoryArchive struct {
	mu      sync.Mutex
	fail    error
	records map[domain.Key]domain.Action
	withTx  int
}

func (m *memoryArchive) Commit(_ context.Context, tx *sql.Tx, a domain.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx != nil {
		m.withTx++
	}
	if m.fail != nil {
		return m.fail
	}
	if m.records == nil {
		m.records = map[domain.Key]domain.Action{}
	}
	m.records[a.Key] = a
	return nil
}

func (m *memoryArchive) setFail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *memoryArchive) get(key domain.Key) (domain.Action, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.records[key]
	return a, ok
}

type blockingArchive struct {
	started chan struct{}
	release chan struct{}
}

func (b blockingArchive) Commit(ctx context.Context, _ *sql.Tx, _ domain.Action) error {
	close(b.started)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func readyToFinalize(t *testing.T, env testEnv, actionID uint64) {
	t.Helper()
	env.create(t, actionID, 50, "alice")
	require.NoError(t, env.vote(actionID, "v1", true))
	require.NoError(t, env.vote(actionID, "v2", true))
}

func TestSlowArchiveDoesNotBlockOtherWrites(t *testing.T) {
	env := newTestEnv(t)
	readyToFinalize(t, env, 1)
	env.create(t, 2, 50, "bob")
	env.Clock.Set(startTick + 11)

	archive := blockingArchive{started: make(chan struct{}), release: make(chan struct{})}
	env.Engine.Archive = archive

	finalized := make(chan error, 1)
	go func() {
		_, err := env.finalize(1)
		finalized <- err
	}()
	select {
	case <-archive.started:
	case <-time.After(5 * time.Second):
		t.Fatal("archive never called")
	}

	// The finalize is committed before the archive sees it.
	a, err := env.Engine.GetAction(env.Ctx, 1)
	require.NoError(t, err)
	assert.True(t, a.Executed)

	cancelled := make(chan error, 1)
	go func() {
		_, err := env.Engine.CancelAction(env.Ctx, engine.CancelOptions{ActionID: 2, Caller: id("bob"), ActorID: "bob"})
		cancelled <- err
	}()
	select {
	case err := <-cancelled:
		require.NoError(t, err)
	case <-time.After(time.Second):
		close(archive.release)
		t.Fatal("cancel on another action waited for the archive")
	}

	close(archive.release)
	require.NoError(t, <-finalized)
	pending, err := env.Engine.PendingArchive(env.Ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFailedArchiveKeepsFinalizeAndIsRetried(t *testing.T) {
	env := newTestEnv(t)
	readyToFinalize(t, env, 1)
	env.Clock.Set(startTick + 11)

	archive := &memoryArchive{fail: errors.New("redis: connection refused")}
	env.Engine.Archive = archive

	a, err := env.finalize(1)
	require.NoError(t, err, "the local finalize stands when the archive is down")
	assert.Equal(t, domain.ResultPassed, a.Result)

	_, err = env.finalize(1)
	require.ErrorIs(t, err, engine.ErrActionAlreadyExecuted)

	pending, err := env.Engine.PendingArchive(env.Ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.Key, pending[0].Action)

	n, err := env.Engine.RetryArchive(env.Ctx, 10)
	require.Error(t, err)
	assert.Zero(t, n)

	archive.setFail(nil)
	n, err = env.Engine.RetryArchive(env.Ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok := archive.get(a.Key)
	require.True(t, ok)
	assert.Equal(t, domain.ResultPassed, got.Result)
	assert.Equal(t, uint32(2), got.VotesFor)
	assert.Zero(t, archive.withTx, "archive never runs inside a transaction")

	n, err = env.Engine.RetryArchive(env.Ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetryArchiveWithoutArchiveIsNoop(t *testing.T) {
	env := newTestEnv(t)
	readyToFinalize(t, env, 1)
	env.Clock.Set(startTick + 11)
	_, err := env.finalize(1)
	require.NoError(t, err)

	n, err := env.Engine.RetryArchive(env.Ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}
