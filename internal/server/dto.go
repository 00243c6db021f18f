package server

import (
	"encoding/json"

	"fastvote/internal/domain"
	"fastvote/internal/engine"
)

// Request payloads

type CreateActionRequest struct {
	ActionID        uint64 `json:"action_id" doc:"Caller-chosen action identifier"`
	ActionHash      string `json:"action_hash" doc:"Hex SHA-256 of the proposed action; must not be zero" example:"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"`
	DescriptionHash string `json:"description_hash,omitempty" doc:"Hex SHA-256 of the human-readable description"`
	Threshold       int    `json:"threshold" doc:"Approval percentage required to pass, 1-100" example:"66"`
}

type DelegateActionRequest struct {
	ExpectedKey *string `json:"expected_key,omitempty" doc:"Record key the caller expects the action to live under"`
	Validator   *string `json:"validator,omitempty" doc:"Identity of the validator taking the action"`
}

type CastVoteRequest struct {
	VoteValue       bool   `json:"vote_value"`
	VoterCommitment string `json:"voter_commitment" doc:"Opaque non-zero 32-byte hex commitment"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Responses

type ActionResponse struct {
	Key             string `json:"key"`
	ActionID        uint64 `json:"action_id"`
	ActionHash      string `json:"action_hash"`
	DescriptionHash string `json:"description_hash"`
	Creator         string `json:"creator"`
	Threshold       uint8  `json:"threshold"`
	VotesFor        uint32 `json:"votes_for"`
	VotesAgainst    uint32 `json:"votes_against"`
	VoteCount       uint32 `json:"vote_count"`
	Approval        uint64 `json:"approval" doc:"floor(votes_for*100/vote_count)"`
	CreatedTick     uint64 `json:"created_tick"`
	DeadlineTick    uint64 `json:"deadline_tick"`
	Executed        bool   `json:"executed"`
	Result          string `json:"result" enum:"pending,passed,failed,cancelled"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type VoteResponse struct {
	Key             string `json:"key"`
	Action          string `json:"action"`
	Voter           string `json:"voter"`
	VoterCommitment string `json:"voter_commitment"`
	VoteValue       bool   `json:"vote_value"`
	VotedTick       uint64 `json:"voted_tick"`
	CreatedAt       string `json:"created_at"`
}

type CastVoteResponse struct {
	Vote   VoteResponse   `json:"vote"`
	Action ActionResponse `json:"action"`
}

type DelegationResponse struct {
	Action        string `json:"action"`
	Validator     string `json:"validator,omitempty"`
	DelegatedTick uint64 `json:"delegated_tick"`
	CreatedAt     string `json:"created_at"`
}

type CommitResponse struct {
	Action      ActionResponse `json:"action"`
	CommittedAt string         `json:"committed_at"`
	RecordHex   string         `json:"record_hex" doc:"Fixed-layout binary record as committed"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedActions struct {
	Items      []ActionResponse `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type paginatedVotes struct {
	Items      []VoteResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID  string `json:"actor_id"`
	Identity string `json:"identity"`
	Source   string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type ClockResponse struct {
	Tick uint64 `json:"tick"`
}

// Mappers

func actionResponse(a domain.Action) ActionResponse {
	return ActionResponse{
		Key:             a.Key.String(),
		ActionID:        a.ActionID,
		ActionHash:      a.ActionHash.String(),
		DescriptionHash: a.DescriptionHash.String(),
		Creator:         a.Creator.String(),
		Threshold:       a.Threshold,
		VotesFor:        a.VotesFor,
		VotesAgainst:    a.VotesAgainst,
		VoteCount:       a.VoteCount,
		Approval:        engine.ApprovalPercent(a.VotesFor, a.VotesAgainst),
		CreatedTick:     a.CreatedTick,
		DeadlineTick:    a.DeadlineTick,
		Executed:        a.Executed,
		Result:          a.Result.String(),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func voteResponse(v domain.Vote) VoteResponse {
	return VoteResponse{
		Key:             v.Key.String(),
		Action:          v.Action.String(),
		Voter:           v.Voter.String(),
		VoterCommitment: v.Commitment.String(),
		VoteValue:       v.Value,
		VotedTick:       v.VotedTick,
		CreatedAt:       v.CreatedAt,
	}
}

func delegationResponse(d domain.Delegation) DelegationResponse {
	res := DelegationResponse{
		Action:        d.Action.String(),
		DelegatedTick: d.DelegatedTick,
		CreatedAt:     d.CreatedAt,
	}
	if d.Validator != nil {
		res.Validator = d.Validator.String()
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}
