package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Record sizes of the persisted layout, discriminator included.
const (
	ActionRecordLen = 145
	VoteRecordLen   = 114
)

var (
	actionDiscriminator = discriminator("FastAction")
	voteDiscriminator   = discriminator("FastVote")
)

func discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

type recordWriter struct {
	buf []byte
}

func (w *recordWriter) bytes(b []byte) { w.buf = append(w.buf, b...) }
func (w *recordWriter) u8(v uint8)     { w.buf = append(w.buf, v) }
func (w *recordWriter) u32(v uint32)   { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *recordWriter) u64(v uint64)   { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *recordWriter) bool(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

type recordReader struct {
	buf []byte
	off int
	err error
}

func (r *recordReader) next(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("record truncated at offset %d", r.off)
		return make([]byte, n)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *recordReader) hash() Hash {
	var h Hash
	copy(h[:], r.next(len(h)))
	return h
}

func (r *recordReader) u8() uint8   { return r.next(1)[0] }
func (r *recordReader) u32() uint32 { return binary.LittleEndian.Uint32(r.next(4)) }
func (r *recordReader) u64() uint64 { return binary.LittleEndian.Uint64(r.next(8)) }

func (r *recordReader) bool() bool {
	switch v := r.u8(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		if r.err == nil {
			r.err = fmt.Errorf("invalid bool byte %d at offset %d", v, r.off-1)
		}
		return false
	}
}

// EncodeAction serializes an Action to its fixed 145-byte record layout.
func EncodeAction(a Action) []byte {
	w := recordWriter{buf: make([]byte, 0, ActionRecordLen)}
	w.bytes(actionDiscriminator[:])
	w.u64(a.ActionID)
	w.bytes(a.ActionHash[:])
	w.bytes(a.DescriptionHash[:])
	w.bytes(a.Creator[:])
	w.u8(a.Threshold)
	w.u32(a.VotesFor)
	w.u32(a.VotesAgainst)
	w.u32(a.VoteCount)
	w.u64(a.CreatedTick)
	w.u64(a.DeadlineTick)
	w.bool(a.Executed)
	w.u8(uint8(a.Result))
	w.u8(a.Nonce)
	w.u8(0) // padding
	return w.buf
}

func DecodeAction(data []byte) (Action, error) {
	var a Action
	if len(data) != ActionRecordLen {
		return a, fmt.Errorf("action record is %d bytes, want %d", len(data), ActionRecordLen)
	}
	r := recordReader{buf: data}
	if d := r.next(8); string(d) != string(actionDiscriminator[:]) {
		return a, fmt.Errorf("not an action record")
	}
	a.ActionID = r.u64()
	a.ActionHash = r.hash()
	a.DescriptionHash = r.hash()
	a.Creator = r.hash()
	a.Threshold = r.u8()
	a.VotesFor = r.u32()
	a.VotesAgainst = r.u32()
	a.VoteCount = r.u32()
	a.CreatedTick = r.u64()
	a.DeadlineTick = r.u64()
	a.Executed = r.bool()
	a.Result = Result(r.u8())
	a.Nonce = r.u8()
	if r.err != nil {
		return a, r.err
	}
	if !a.Result.Valid() {
		return a, fmt.Errorf("invalid result tag %d", uint8(a.Result))
	}
	a.Key = ActionKeyWithNonce(a.ActionID, a.Nonce)
	return a, nil
}

// EncodeVote serializes a Vote to its fixed 114-byte record layout.
func EncodeVote(v Vote) []byte {
	w := recordWriter{buf: make([]byte, 0, VoteRecordLen)}
	w.bytes(voteDiscriminator[:])
	w.bytes(v.Action[:])
	w.bytes(v.Voter[:])
	w.bytes(v.Commitment[:])
	w.bool(v.Value)
	w.u64(v.VotedTick)
	w.u8(v.Nonce)
	return w.buf
}

func DecodeVote(data []byte) (Vote, error) {
	var v Vote
	if len(data) != VoteRecordLen {
		return v, fmt.Errorf("vote record is %d bytes, want %d", len(data), VoteRecordLen)
	}
	r := recordReader{buf: data}
	if d := r.next(8); string(d) != string(voteDiscriminator[:]) {
		return v, fmt.Errorf("not a vote record")
	}
	v.Action = r.hash()
	v.Voter = r.hash()
	v.Commitment = r.hash()
	v.Value = r.bool()
	v.VotedTick = r.u64()
	v.Nonce = r.u8()
	if r.err != nil {
		return v, r.err
	}
	v.Key = VoteKeyWithNonce(v.Action, v.Voter, v.Nonce)
	return v, nil
}
