package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"fastvote/internal/clock"
	"fastvote/internal/config"
	"fastvote/internal/domain"
	"fastvote/internal/engine"
	"fastvote/internal/handoff"
)

func TestOpenWithoutConfigUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	ws, err := Open(context.Background(), dir, Options{})
	require.NoError(t, err)
	defer ws.Close()

	require.Equal(t, uint64(config.DefaultVotingWindow), ws.Config.Voting.WindowTicks)
	require.IsType(t, handoff.Ledger{}, ws.Engine.Committer)
	require.Nil(t, ws.Engine.Archive)

	a, err := ws.Engine.CreateAction(context.Background(), engine.ActionCreateOptions{
		ActionID:   7,
		ActionHash: domain.Hash{1},
		Threshold:  50,
		Creator:    domain.IdentityFor("alice"),
		ActorID:    "alice",
	})
	require.NoError(t, err)
	require.Equal(t, uint64(7), a.ActionID)
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	yml := "voting:\n  window_ticks: 12\n  min_quorum: 3\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fastvote.yml"), []byte(yml), 0o644))

	ws, err := Open(context.Background(), dir, Options{})
	require.NoError(t, err)
	defer ws.Close()
	require.Equal(t, uint64(12), ws.Config.Voting.WindowTicks)
	require.Equal(t, uint32(3), ws.Config.Voting.MinQuorum)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fastvote.yml"), []byte("handoff:\n  driver: s3\n"), 0o644))
	_, err := Open(context.Background(), dir, Options{})
	require.Error(t, err)
}

func TestNewArchiveRedisDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Handoff.Driver = config.HandoffRedis
	cfg.Handoff.Redis.Addr = "127.0.0.1:6379"
	c, closeFn, err := NewArchive(t.TempDir(), cfg)
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	defer closeFn()
	require.IsType(t, &handoff.Redis{}, c)
}

func TestLevelDBDriverArchivesFinalizedRecord(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fastvote.yml"), []byte("handoff:\n  driver: leveldb\n"), 0o644))
	ws, err := Open(context.Background(), dir, Options{})
	require.NoError(t, err)
	defer ws.Close()
	require.DirExists(t, filepath.Join(dir, ".fastvote", "handoff.ldb"))

	require.IsType(t, handoff.Ledger{}, ws.Engine.Committer)
	archive, ok := ws.Engine.Archive.(*handoff.LevelDB)
	require.True(t, ok)

	ctx := context.Background()
	clk := clock.NewManual(10)
	e := ws.Engine
	e.Clock = clk
	_, err = e.CreateAction(ctx, engine.ActionCreateOptions{
		ActionID:   1,
		ActionHash: domain.Hash{7},
		Threshold:  50,
		Creator:    domain.IdentityFor("alice"),
		ActorID:    "alice",
	})
	require.NoError(t, err)
	for _, voter := range []string{"bob", "carol"} {
		_, _, err := e.CastVote(ctx, engine.VoteCastOptions{
			ActionID:   1,
			Voter:      domain.IdentityFor(voter),
			Value:      true,
			Commitment: domain.Hash{1},
			ActorID:    voter,
		})
		require.NoError(t, err)
	}
	clk.Advance(ws.Config.Voting.WindowTicks + 1)
	final, err := e.FinalizeAction(ctx, engine.FinalizeOptions{ActionID: 1, ActorID: "alice"})
	require.NoError(t, err)
	require.Equal(t, domain.ResultPassed, final.Result)

	archived, err := archive.Fetch(ctx, final.Key)
	require.NoError(t, err)
	require.Equal(t, final.Result, archived.Result)
	require.Equal(t, uint32(2), archived.VotesFor)

	_, _, err = e.CommittedRecord(ctx, 1)
	require.NoError(t, err)
	pending, err := e.PendingArchive(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, pending)
}
