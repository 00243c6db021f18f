package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeLayout formats every stored timestamp. The fraction is fixed width so
// the strings sort in time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Stamp formats t in UTC with TimeLayout.
func Stamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Hash is an opaque 32-byte value. The all-zero hash is reserved as "unset".
type Hash [32]byte

// Key addresses one record in the store.
type Key = Hash

// Identity is the caller's account identity.
type Identity = Hash

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a 64-character hex string, with or without a 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != hex.EncodedLen(len(h)) {
		return h, fmt.Errorf("invalid hash length %d, want %d hex chars", len(s), hex.EncodedLen(len(h)))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("invalid hash: %w", err)
	}
	return h, nil
}

// Result is the outcome of an Action. Pending is the only non-terminal value.
type Result uint8

const (
	ResultPending Result = iota
	ResultPassed
	ResultFailed
	ResultCancelled
)

var resultNames = [...]string{"pending", "passed", "failed", "cancelled"}

func (r Result) String() string {
	if int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("result(%d)", uint8(r))
}

func (r Result) Valid() bool {
	return int(r) < len(resultNames)
}

func (r Result) Terminal() bool {
	return r.Valid() && r != ResultPending
}

func (r Result) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid result %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Result) UnmarshalText(text []byte) error {
	parsed, err := ParseResult(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func ParseResult(s string) (Result, error) {
	for i, name := range resultNames {
		if strings.EqualFold(s, name) {
			return Result(i), nil
		}
	}
	return ResultPending, fmt.Errorf("unknown result %q", s)
}

// ErrTerminal is returned when a terminal Action is asked to transition again.
var ErrTerminal = errors.New("action already has a terminal result")

type Action struct {
	Key             Key      `json:"key"`
	ActionID        uint64   `json:"action_id"`
	ActionHash      Hash     `json:"action_hash"`
	DescriptionHash Hash     `json:"description_hash"`
	Creator         Identity `json:"creator"`
	Threshold       uint8    `json:"threshold"`
	VotesFor        uint32   `json:"votes_for"`
	VotesAgainst    uint32   `json:"votes_against"`
	VoteCount       uint32   `json:"vote_count"`
	CreatedTick     uint64   `json:"created_tick"`
	DeadlineTick    uint64   `json:"deadline_tick"`
	Executed        bool     `json:"executed"`
	Result          Result   `json:"result"`
	Nonce           uint8    `json:"nonce"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
}

// Finish moves a Pending action to a terminal result and marks it executed.
// It is the only way Executed and Result change.
func (a *Action) Finish(r Result) error {
	if a.Executed || a.Result != ResultPending {
		return ErrTerminal
	}
	if !r.Terminal() {
		return fmt.Errorf("result %s is not terminal", r)
	}
	a.Result = r
	a.Executed = true
	return nil
}

type Vote struct {
	Key        Key      `json:"key"`
	Action     Key      `json:"action"`
	Voter      Identity `json:"voter"`
	Commitment Hash     `json:"voter_commitment"`
	Value      bool     `json:"vote_value"`
	VotedTick  uint64   `json:"voted_tick"`
	Nonce      uint8    `json:"nonce"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
}

// Delegation marks an Action as handed to the fast execution context.
type Delegation struct {
	Action        Key       `json:"action"`
	Validator     *Identity `json:"validator,omitempty"`
	DelegatedTick uint64    `json:"delegated_tick"`
	CreatedAt     string    `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
