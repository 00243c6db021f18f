package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplateMatchesDefault(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.Voting, cfg.Voting)
	assert.Equal(t, def.Handoff.Driver, cfg.Handoff.Driver)
	assert.Equal(t, def.Handoff.LevelDB, cfg.Handoff.LevelDB)
	assert.Equal(t, 400*time.Millisecond, cfg.TickDuration())
	genesis, err := cfg.GenesisTime()
	require.NoError(t, err)
	assert.True(t, genesis.Equal(time.Unix(0, 0)))
}

func TestPartialYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("voting:\n  window_ticks: 5\n"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, cfg.Voting.WindowTicks)
	assert.EqualValues(t, DefaultMinQuorum, cfg.Voting.MinQuorum)
	assert.EqualValues(t, DefaultMaxVotesPerAction, cfg.Voting.MaxVotesPerAction)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"quorum above max":   "voting:\n  min_quorum: 10\n  max_votes_per_action: 3\n",
		"unknown driver":     "handoff:\n  driver: s3\n",
		"redis without addr": "handoff:\n  driver: redis\n",
		"bad genesis":        "clock:\n  genesis: yesterday\n",
		"empty webhook url":  "webhooks:\n  - events: [vote.cast]\n",
		"negative retry":     "handoff:\n  retry_seconds: -1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "fastvote.yml"), []byte("voting:\n  min_quorum: 3\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.EqualValues(t, 3, cfg.Voting.MinQuorum)
}

func TestLevelDBDriverAccepted(t *testing.T) {
	cfg, err := FromYAML([]byte("handoff:\n  driver: leveldb\n"))
	require.NoError(t, err)
	assert.Equal(t, HandoffLevelDB, cfg.Handoff.Driver)
	assert.Equal(t, ".fastvote/handoff.ldb", cfg.Handoff.LevelDB.Path)
}

func TestExplicitZeroVotingLimitsRejected(t *testing.T) {
	for _, doc := range []string{
		"voting:\n  min_quorum: 0\n",
		"voting:\n  window_ticks: 0\n",
		"voting:\n  max_votes_per_action: 0\n",
	} {
		_, err := FromYAML([]byte(doc))
		assert.Error(t, err, doc)
	}
	_, err := FromYAML([]byte("voting:\n  min_quorum: 0\n"))
	assert.ErrorContains(t, err, "min_quorum must be positive")

	cfg := Default()
	cfg.Voting.MinQuorum = 0
	assert.Error(t, cfg.Validate())

	cfg, err = FromYAML([]byte("voting:\n  min_quorum: 1\n"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, cfg.Voting.MinQuorum)
}

func TestRetryIntervalDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultRetrySeconds*time.Second, cfg.RetryInterval())
	cfg, err := FromYAML([]byte("handoff:\n  retry_seconds: 5\n"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.RetryInterval())
}
