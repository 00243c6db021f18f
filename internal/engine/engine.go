package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"fastvote/internal/clock"
	"fastvote/internal/config"
	"fastvote/internal/domain"
	"fastvote/internal/events"
	"fastvote/internal/handoff"
	"fastvote/internal/metrics"
	"fastvote/internal/repo"
)

// Engine runs the voting operations. Committer records a finalized action
// inside the finalize transaction. Archive, when set, receives the record
// after that transaction commits; a failed archive is retried by RetryArchive.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Clock     clock.Source
	Committer handoff.Committer
	Archive   handoff.Committer
	Metrics   *metrics.EngineMetrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// New wires an engine over db with the ledger committer and a slot clock
// built from cfg.
func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	genesis, err := cfg.GenesisTime()
	if err != nil {
		genesis = time.Unix(0, 0).UTC()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:        db,
		Repo:      r,
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Clock:     clock.NewSlotClock(genesis, cfg.TickDuration()),
		Committer: handoff.Ledger{Repo: r},
		Metrics:   metrics.NopEngineMetrics(),
		Logger:    slog.Default(),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return domain.Stamp(e.now())
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) metrics() *metrics.EngineMetrics {
	if e.Metrics != nil {
		return e.Metrics
	}
	return metrics.NopEngineMetrics()
}

func (e Engine) votingWindow() uint64 {
	if e.Config == nil || e.Config.Voting.WindowTicks == 0 {
		return config.DefaultVotingWindow
	}
	return e.Config.Voting.WindowTicks
}

func (e Engine) minQuorum() uint32 {
	if e.Config == nil || e.Config.Voting.MinQuorum == 0 {
		return config.DefaultMinQuorum
	}
	return e.Config.Voting.MinQuorum
}

func (e Engine) maxVotes() uint32 {
	if e.Config == nil || e.Config.Voting.MaxVotesPerAction == 0 {
		return config.DefaultMaxVotesPerAction
	}
	return e.Config.Voting.MaxVotesPerAction
}

// Tick reads the logical clock.
func (e Engine) Tick() uint64 {
	return e.Clock.Tick()
}

// reject records a failed operation and passes err through.
func (e Engine) reject(op string, err error) error {
	code := "internal"
	if ce, ok := AsError(err); ok {
		code = ce.Code
		e.log().Debug("operation rejected", "op", op, "code", code)
	} else {
		e.log().Error("operation failed", "op", op, "err", err)
	}
	e.metrics().Rejections.With("op", op, "code", code).Add(1)
	return err
}

// loadAction reads the action under the key derived from actionID inside tx.
func (e Engine) loadAction(ctx context.Context, tx *sql.Tx, actionID uint64) (domain.Action, error) {
	key, _ := domain.DeriveActionKey(actionID)
	a, err := e.Repo.GetActionTx(ctx, tx, key)
	if errors.Is(err, repo.ErrNotFound) {
		return a, ErrActionNotFound
	}
	return a, err
}

func entityID(actionID uint64) string {
	return strconv.FormatUint(actionID, 10)
}

// GetAction returns the action record for actionID.
func (e Engine) GetAction(ctx context.Context, actionID uint64) (domain.Action, error) {
	key, _ := domain.DeriveActionKey(actionID)
	a, err := e.Repo.GetAction(ctx, key)
	if errors.Is(err, repo.ErrNotFound) {
		return a, ErrActionNotFound
	}
	return a, err
}

func (e Engine) ListActions(ctx context.Context, f repo.ActionFilters) ([]domain.Action, error) {
	return e.Repo.ListActions(ctx, f)
}

// ListVotes returns the vote records cast on actionID.
func (e Engine) ListVotes(ctx context.Context, actionID uint64, f repo.VoteFilters) ([]domain.Vote, error) {
	a, err := e.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	f.Action = a.Key
	return e.Repo.ListVotes(ctx, f)
}

// GetVote returns voter's vote on actionID.
func (e Engine) GetVote(ctx context.Context, actionID uint64, voter domain.Identity) (domain.Vote, error) {
	actionKey, _ := domain.DeriveActionKey(actionID)
	voteKey, _ := domain.DeriveVoteKey(actionKey, voter)
	return e.Repo.GetVote(ctx, voteKey)
}

// Delegation returns the current delegation of actionID, if any.
func (e Engine) Delegation(ctx context.Context, actionID uint64) (domain.Delegation, error) {
	key, _ := domain.DeriveActionKey(actionID)
	return e.Repo.GetDelegation(ctx, key)
}
