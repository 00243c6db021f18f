package engine

import (
	"context"
	"errors"
	"math"

	"fastvote/internal/domain"
	"fastvote/internal/events"
	"fastvote/internal/repo"
)

type VoteCastOptions struct {
	ActionID   uint64
	Voter      domain.Identity
	Value      bool
	Commitment domain.Hash
	ActorID    string
}

// CastVote records one vote on an open action and bumps its counters in the
// same transaction. A voter gets exactly one vote per action.
func (e Engine) CastVote(ctx context.Context, opts VoteCastOptions) (domain.Vote, domain.Action, error) {
	v, a, err := e.castVote(ctx, opts)
	if err != nil {
		return domain.Vote{}, domain.Action{}, e.reject("vote", err)
	}
	value := "against"
	if v.Value {
		value = "for"
	}
	e.metrics().VotesCast.With("value", value).Add(1)
	e.log().Debug("vote cast", "action_id", a.ActionID, "voter", v.Voter.String(), "value", value, "vote_count", a.VoteCount)
	return v, a, nil
}

func (e Engine) castVote(ctx context.Context, opts VoteCastOptions) (domain.Vote, domain.Action, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Vote{}, domain.Action{}, err
	}
	defer tx.Rollback()

	a, err := e.loadAction(ctx, tx, opts.ActionID)
	if err != nil {
		return domain.Vote{}, domain.Action{}, err
	}
	if a.Executed {
		return domain.Vote{}, domain.Action{}, ErrActionAlreadyExecuted
	}
	now := e.Clock.Tick()
	if now > a.DeadlineTick {
		return domain.Vote{}, domain.Action{}, ErrVotingEnded
	}
	if a.VoteCount >= e.maxVotes() {
		return domain.Vote{}, domain.Action{}, ErrMaxVotesReached
	}
	if opts.Commitment.IsZero() {
		return domain.Vote{}, domain.Action{}, ErrInvalidVoterCommitment
	}

	key, nonce := domain.DeriveVoteKey(a.Key, opts.Voter)
	v := domain.Vote{
		Key:        key,
		Action:     a.Key,
		Voter:      opts.Voter,
		Commitment: opts.Commitment,
		Value:      opts.Value,
		VotedTick:  now,
		Nonce:      nonce,
		CreatedAt:  e.stamp(),
	}
	if err := e.Repo.InsertVote(ctx, tx, v); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Vote{}, domain.Action{}, ErrDuplicateVote
		}
		return domain.Vote{}, domain.Action{}, err
	}

	if opts.Value {
		if a.VotesFor, err = increment(a.VotesFor); err != nil {
			return domain.Vote{}, domain.Action{}, err
		}
	} else {
		if a.VotesAgainst, err = increment(a.VotesAgainst); err != nil {
			return domain.Vote{}, domain.Action{}, err
		}
	}
	if a.VoteCount, err = increment(a.VoteCount); err != nil {
		return domain.Vote{}, domain.Action{}, err
	}
	a.UpdatedAt = v.CreatedAt
	if err := e.Repo.SaveActionState(ctx, tx, a); err != nil {
		return domain.Vote{}, domain.Action{}, err
	}
	if err := e.Events.Append(ctx, tx, events.VoteCast, "action", entityID(a.ActionID), opts.ActorID, events.EventPayload{
		"action":           a.Key.String(),
		"action_id":        a.ActionID,
		"vote":             v.Key.String(),
		"voter":            v.Voter.String(),
		"voter_commitment": v.Commitment.String(),
		"vote_value":       v.Value,
		"vote_count":       a.VoteCount,
	}); err != nil {
		return domain.Vote{}, domain.Action{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Vote{}, domain.Action{}, err
	}
	return v, a, nil
}

func increment(n uint32) (uint32, error) {
	if n == math.MaxUint32 {
		return n, ErrCounterOverflow
	}
	return n + 1, nil
}
