package engine

import (
	"context"
	"errors"

	"fastvote/internal/domain"
	"fastvote/internal/repo"
)

// AuditReport compares an action's counters with its stored vote records and,
// once finalized, with the committed snapshot.
type AuditReport struct {
	ActionID         uint64        `json:"action_id"`
	Key              domain.Key    `json:"key"`
	VotesFor         uint32        `json:"votes_for"`
	VotesAgainst     uint32        `json:"votes_against"`
	RecordedFor      uint32        `json:"recorded_for"`
	RecordedAgainst  uint32        `json:"recorded_against"`
	Result           domain.Result `json:"result"`
	Committed        bool          `json:"committed"`
	CommittedAt      string        `json:"committed_at,omitempty"`
	CommittedMatches bool          `json:"committed_matches"`
	Consistent       bool          `json:"consistent"`
}

// Audit recounts the votes of actionID.
func (e Engine) Audit(ctx context.Context, actionID uint64) (AuditReport, error) {
	a, err := e.GetAction(ctx, actionID)
	if err != nil {
		return AuditReport{}, err
	}
	rep := AuditReport{
		ActionID:     a.ActionID,
		Key:          a.Key,
		VotesFor:     a.VotesFor,
		VotesAgainst: a.VotesAgainst,
		Result:       a.Result,
	}
	rep.RecordedFor, rep.RecordedAgainst, err = e.Repo.CountVotes(ctx, a.Key)
	if err != nil {
		return AuditReport{}, err
	}
	countersOK := rep.RecordedFor == a.VotesFor &&
		rep.RecordedAgainst == a.VotesAgainst &&
		uint64(a.VoteCount) == uint64(a.VotesFor)+uint64(a.VotesAgainst)

	committed, ts, err := e.CommittedRecord(ctx, actionID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		// Only ledger-backed finalizes leave a local snapshot.
		rep.CommittedMatches = true
	case err != nil:
		return AuditReport{}, err
	default:
		rep.Committed = true
		rep.CommittedAt = ts
		rep.CommittedMatches = committed.Key == a.Key &&
			committed.VotesFor == a.VotesFor &&
			committed.VotesAgainst == a.VotesAgainst &&
			committed.Result == a.Result
	}
	rep.Consistent = countersOK && rep.CommittedMatches
	return rep, nil
}
