package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

const (
	ActionSeed = "fast_action"
	VoteSeed   = "fast_vote"
)

// DeriveActionKey returns the record key for an action id and its nonce.
func DeriveActionKey(actionID uint64) (Key, uint8) {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], actionID)
	return deriveKey([]byte(ActionSeed), id[:])
}

// DeriveVoteKey returns the record key for one voter on one action. The key
// is what makes a second vote by the same voter collide in the store.
func DeriveVoteKey(action Key, voter Identity) (Key, uint8) {
	return deriveKey([]byte(VoteSeed), action[:], voter[:])
}

// ActionKeyWithNonce recomputes an action key from a stored nonce.
func ActionKeyWithNonce(actionID uint64, nonce uint8) Key {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], actionID)
	return keyWithNonce(nonce, []byte(ActionSeed), id[:])
}

func VoteKeyWithNonce(action Key, voter Identity, nonce uint8) Key {
	return keyWithNonce(nonce, []byte(VoteSeed), action[:], voter[:])
}

// deriveKey searches nonces from 255 down and returns the first non-zero key.
func deriveKey(seeds ...[]byte) (Key, uint8) {
	for n := 255; n > 0; n-- {
		if k := keyWithNonce(uint8(n), seeds...); !k.IsZero() {
			return k, uint8(n)
		}
	}
	return keyWithNonce(0, seeds...), 0
}

func keyWithNonce(nonce uint8, seeds ...[]byte) Key {
	h := sha256.New()
	for _, s := range seeds {
		h.Write(s)
	}
	h.Write([]byte{nonce})
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// IdentityFor maps an authenticated actor id to an Identity. Actor ids that
// are already 64 hex chars are taken verbatim.
func IdentityFor(actorID string) Identity {
	actorID = strings.TrimSpace(actorID)
	if len(actorID) == hex.EncodedLen(32) {
		if id, err := ParseHash(actorID); err == nil {
			return id
		}
	}
	return sha256.Sum256([]byte("identity:" + actorID))
}
