package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAction() Action {
	key, nonce := DeriveActionKey(77)
	return Action{
		Key:             key,
		ActionID:        77,
		ActionHash:      IdentityFor("hash"),
		DescriptionHash: IdentityFor("desc"),
		Creator:         IdentityFor("alice"),
		Threshold:       66,
		VotesFor:        4,
		VotesAgainst:    2,
		VoteCount:       6,
		CreatedTick:     1 << 40,
		DeadlineTick:    1<<40 + 75,
		Executed:        true,
		Result:          ResultPassed,
		Nonce:           nonce,
	}
}

func TestActionRecordLayout(t *testing.T) {
	a := sampleAction()
	raw := EncodeAction(a)
	require.Len(t, raw, ActionRecordLen)
	assert.Equal(t, actionDiscriminator[:], raw[:8])
	assert.Equal(t, byte(77), raw[8], "action id is little-endian")
	assert.Equal(t, byte(66), raw[8+8+96], "threshold follows the three hashes")

	got, err := DecodeAction(raw)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestDecodeActionRejectsBadInput(t *testing.T) {
	raw := EncodeAction(sampleAction())

	_, err := DecodeAction(raw[:ActionRecordLen-1])
	assert.Error(t, err)

	bad := append([]byte(nil), raw...)
	bad[0] ^= 0xff
	_, err = DecodeAction(bad)
	assert.ErrorContains(t, err, "not an action record")

	bad = append([]byte(nil), raw...)
	bad[ActionRecordLen-4] = 2 // executed flag
	_, err = DecodeAction(bad)
	assert.ErrorContains(t, err, "invalid bool")

	bad = append([]byte(nil), raw...)
	bad[ActionRecordLen-3] = 9 // result tag
	_, err = DecodeAction(bad)
	assert.ErrorContains(t, err, "invalid result")

	_, err = DecodeAction(EncodeVote(Vote{}))
	assert.Error(t, err)
}

func TestVoteRecordLayout(t *testing.T) {
	action, _ := DeriveActionKey(1)
	voter := IdentityFor("bob")
	key, nonce := DeriveVoteKey(action, voter)
	v := Vote{Key: key, Action: action, Voter: voter, Commitment: IdentityFor("c"), Value: true, VotedTick: 12, Nonce: nonce}

	raw := EncodeVote(v)
	require.Len(t, raw, VoteRecordLen)
	got, err := DecodeVote(raw)
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = DecodeVote(EncodeAction(sampleAction())[:VoteRecordLen])
	assert.ErrorContains(t, err, "not a vote record")
}

func TestKeyDerivation(t *testing.T) {
	k1, n1 := DeriveActionKey(1)
	k1again, _ := DeriveActionKey(1)
	k2, _ := DeriveActionKey(2)
	assert.Equal(t, k1, k1again)
	assert.NotEqual(t, k1, k2)
	assert.False(t, k1.IsZero())
	assert.Equal(t, k1, ActionKeyWithNonce(1, n1))

	alice, bob := IdentityFor("alice"), IdentityFor("bob")
	va, _ := DeriveVoteKey(k1, alice)
	vb, _ := DeriveVoteKey(k1, bob)
	va2, _ := DeriveVoteKey(k2, alice)
	assert.NotEqual(t, va, vb)
	assert.NotEqual(t, va, va2)
	assert.NotEqual(t, k1, va, "action and vote seeds do not collide")
}

func TestIdentityFor(t *testing.T) {
	a := IdentityFor("alice")
	assert.Equal(t, a, IdentityFor(" alice "))
	assert.NotEqual(t, a, IdentityFor("bob"))
	assert.Equal(t, a, IdentityFor(a.String()), "hex identities pass through")
}

func TestHashText(t *testing.T) {
	h := IdentityFor("x")
	parsed, err := ParseHash("0x" + strings.ToUpper(h.String()))
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHash("abc")
	assert.Error(t, err)
	_, err = ParseHash(strings.Repeat("zz", 32))
	assert.Error(t, err)

	data, err := json.Marshal(struct {
		H Hash   `json:"h"`
		R Result `json:"r"`
	}{h, ResultCancelled})
	require.NoError(t, err)
	assert.JSONEq(t, `{"h":"`+h.String()+`","r":"cancelled"}`, string(data))
}

func TestFinishIsOneWay(t *testing.T) {
	a := Action{Result: ResultPending}
	require.Error(t, a.Finish(ResultPending))
	require.NoError(t, a.Finish(ResultFailed))
	assert.True(t, a.Executed)
	assert.Equal(t, ResultFailed, a.Result)

	assert.ErrorIs(t, a.Finish(ResultPassed), ErrTerminal)
	assert.ErrorIs(t, a.Finish(ResultCancelled), ErrTerminal)
	assert.Equal(t, ResultFailed, a.Result)
}

func TestParseResult(t *testing.T) {
	for _, r := range []Result{ResultPending, ResultPassed, ResultFailed, ResultCancelled} {
		got, err := ParseResult(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseResult("maybe")
	assert.Error(t, err)
}
