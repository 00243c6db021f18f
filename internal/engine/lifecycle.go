package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"fastvote/internal/domain"
	"fastvote/internal/events"
	"fastvote/internal/repo"
)

type ActionCreateOptions struct {
	ActionID        uint64
	ActionHash      domain.Hash
	DescriptionHash domain.Hash
	// Threshold is the approval percentage required to pass, 1-100. It is an
	// int so out-of-range input is rejected rather than truncated.
	Threshold int
	Creator   domain.Identity
	ActorID   string
}

// CreateAction opens a new action for voting. The deadline is the current
// tick plus the configured voting window.
func (e Engine) CreateAction(ctx context.Context, opts ActionCreateOptions) (domain.Action, error) {
	a, err := e.createAction(ctx, opts)
	if err != nil {
		return domain.Action{}, e.reject("create", err)
	}
	e.metrics().ActionsCreated.Add(1)
	e.log().Info("action created", "action_id", a.ActionID, "key", a.Key.String(), "deadline_tick", a.DeadlineTick, "threshold", a.Threshold)
	return a, nil
}

func (e Engine) createAction(ctx context.Context, opts ActionCreateOptions) (domain.Action, error) {
	if opts.Threshold < 1 || opts.Threshold > 100 {
		return domain.Action{}, ErrInvalidThreshold
	}
	if opts.ActionHash.IsZero() {
		return domain.Action{}, ErrInvalidActionHash
	}
	key, nonce := domain.DeriveActionKey(opts.ActionID)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Action{}, err
	}
	defer tx.Rollback()

	now := e.Clock.Tick()
	window := e.votingWindow()
	if now > math.MaxUint64-window {
		return domain.Action{}, ErrClockOverflow
	}
	ts := e.stamp()
	a := domain.Action{
		Key:             key,
		ActionID:        opts.ActionID,
		ActionHash:      opts.ActionHash,
		DescriptionHash: opts.DescriptionHash,
		Creator:         opts.Creator,
		Threshold:       uint8(opts.Threshold),
		CreatedTick:     now,
		DeadlineTick:    now + window,
		Result:          domain.ResultPending,
		Nonce:           nonce,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	if err := e.Repo.InsertAction(ctx, tx, a); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Action{}, ErrDuplicateAction
		}
		return domain.Action{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ActionCreated, "action", entityID(a.ActionID), opts.ActorID, events.EventPayload{
		"action":        a.Key.String(),
		"action_id":     a.ActionID,
		"action_hash":   a.ActionHash.String(),
		"creator":       a.Creator.String(),
		"threshold":     a.Threshold,
		"deadline_tick": a.DeadlineTick,
	}); err != nil {
		return domain.Action{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

type DelegateOptions struct {
	ActionID uint64
	// ExpectedKey, when set, must equal the key derived from ActionID.
	ExpectedKey *domain.Key
	Validator   *domain.Identity
	ActorID     string
}

// DelegateAction hands an open action to the fast execution context.
// Delegating again replaces the previous delegation.
func (e Engine) DelegateAction(ctx context.Context, opts DelegateOptions) (domain.Delegation, error) {
	d, err := e.delegateAction(ctx, opts)
	if err != nil {
		return domain.Delegation{}, e.reject("delegate", err)
	}
	e.log().Info("action delegated", "action_id", opts.ActionID, "key", d.Action.String())
	return d, nil
}

func (e Engine) delegateAction(ctx context.Context, opts DelegateOptions) (domain.Delegation, error) {
	key, _ := domain.DeriveActionKey(opts.ActionID)
	if opts.ExpectedKey != nil && *opts.ExpectedKey != key {
		return domain.Delegation{}, ErrInvalidKey
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Delegation{}, err
	}
	defer tx.Rollback()

	a, err := e.loadAction(ctx, tx, opts.ActionID)
	if err != nil {
		return domain.Delegation{}, err
	}
	if a.Executed {
		return domain.Delegation{}, ErrActionAlreadyExecuted
	}
	d := domain.Delegation{
		Action:        a.Key,
		Validator:     opts.Validator,
		DelegatedTick: e.Clock.Tick(),
		CreatedAt:     e.stamp(),
	}
	if err := e.Repo.UpsertDelegation(ctx, tx, d); err != nil {
		return domain.Delegation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Delegation{}, err
	}
	return d, nil
}

type FinalizeOptions struct {
	ActionID uint64
	ActorID  string
}

// FinalizeAction tallies an action whose deadline has passed, undelegates it
// and records the terminal result through the Committer. If that fails the
// whole finalize is rolled back and may be retried. The Archive runs only
// after the local commit; when it fails the finalize still stands and the
// record stays pending for RetryArchive.
func (e Engine) FinalizeAction(ctx context.Context, opts FinalizeOptions) (domain.Action, error) {
	a, err := e.finalizeAction(ctx, opts)
	if err != nil {
		return domain.Action{}, e.reject("finalize", err)
	}
	if err := e.archive(ctx, a); err != nil {
		e.log().Warn("archive deferred", "action_id", a.ActionID, "err", err)
	}
	e.metrics().ActionsFinalized.With("result", a.Result.String()).Add(1)
	e.log().Info("action finalized", "action_id", a.ActionID, "result", a.Result.String(),
		"votes_for", a.VotesFor, "votes_against", a.VotesAgainst)
	return a, nil
}

func (e Engine) finalizeAction(ctx context.Context, opts FinalizeOptions) (domain.Action, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Action{}, err
	}
	defer tx.Rollback()

	a, err := e.loadAction(ctx, tx, opts.ActionID)
	if err != nil {
		return domain.Action{}, err
	}
	if a.Executed {
		return domain.Action{}, ErrActionAlreadyExecuted
	}
	if e.Clock.Tick() <= a.DeadlineTick {
		return domain.Action{}, ErrVotingNotEnded
	}
	if a.VoteCount < e.minQuorum() {
		return domain.Action{}, ErrQuorumNotMet
	}
	result, err := Tally(a.VotesFor, a.VotesAgainst, a.Threshold)
	if err != nil {
		return domain.Action{}, err
	}
	if err := a.Finish(result); err != nil {
		return domain.Action{}, ErrActionAlreadyExecuted
	}
	a.UpdatedAt = e.stamp()
	if err := e.Repo.SaveActionState(ctx, tx, a); err != nil {
		return domain.Action{}, err
	}
	undelegated, err := e.Repo.DeleteDelegation(ctx, tx, a.Key)
	if err != nil {
		return domain.Action{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ActionExecuted, "action", entityID(a.ActionID), opts.ActorID, events.EventPayload{
		"action":        a.Key.String(),
		"action_id":     a.ActionID,
		"result":        a.Result.String(),
		"votes_for":     a.VotesFor,
		"votes_against": a.VotesAgainst,
		"approval":      ApprovalPercent(a.VotesFor, a.VotesAgainst),
		"undelegated":   undelegated,
	}); err != nil {
		return domain.Action{}, err
	}
	if err := e.handoff(ctx, tx, a); err != nil {
		return domain.Action{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

// handoff runs the local committer inside the finalize transaction and times
// it. It must not reach outside the database.
func (e Engine) handoff(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	if e.Committer == nil {
		return ErrHandoffFailed.wrap(errors.New("no committer configured"))
	}
	start := time.Now()
	err := e.Committer.Commit(ctx, tx, a)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.metrics().HandoffSeconds.With("outcome", outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		e.log().Warn("handoff failed", "action_id", a.ActionID, "err", err)
		return ErrHandoffFailed.wrap(err)
	}
	return nil
}

type CancelOptions struct {
	ActionID uint64
	Caller   domain.Identity
	ActorID  string
}

// CancelAction lets the creator withdraw an action that has not been
// executed. Cancelling is allowed before and after the deadline.
func (e Engine) CancelAction(ctx context.Context, opts CancelOptions) (domain.Action, error) {
	a, err := e.cancelAction(ctx, opts)
	if err != nil {
		return domain.Action{}, e.reject("cancel", err)
	}
	e.metrics().ActionsCancelled.Add(1)
	e.log().Info("action cancelled", "action_id", a.ActionID, "key", a.Key.String())
	return a, nil
}

func (e Engine) cancelAction(ctx context.Context, opts CancelOptions) (domain.Action, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Action{}, err
	}
	defer tx.Rollback()

	a, err := e.loadAction(ctx, tx, opts.ActionID)
	if err != nil {
		return domain.Action{}, err
	}
	if a.Creator != opts.Caller {
		return domain.Action{}, ErrUnauthorized
	}
	if a.Executed {
		return domain.Action{}, ErrActionAlreadyExecuted
	}
	if err := a.Finish(domain.ResultCancelled); err != nil {
		return domain.Action{}, ErrActionAlreadyExecuted
	}
	a.UpdatedAt = e.stamp()
	if err := e.Repo.SaveActionState(ctx, tx, a); err != nil {
		return domain.Action{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ActionCancelled, "action", entityID(a.ActionID), opts.ActorID, events.EventPayload{
		"action":    a.Key.String(),
		"action_id": a.ActionID,
	}); err != nil {
		return domain.Action{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

// CommittedRecord decodes the record the ledger committer stored for
// actionID at finalize.
func (e Engine) CommittedRecord(ctx context.Context, actionID uint64) (domain.Action, string, error) {
	key, _ := domain.DeriveActionKey(actionID)
	raw, ts, err := e.Repo.GetCommit(ctx, key)
	if err != nil {
		return domain.Action{}, "", err
	}
	a, err := domain.DecodeAction(raw)
	if err != nil {
		return domain.Action{}, "", fmt.Errorf("decode committed record: %w", err)
	}
	return a, ts, nil
}
