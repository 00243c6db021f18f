package engine

import (
	"math"
	"math/bits"

	"fastvote/internal/domain"
)

// Tally decides an action from its final counters. It reads nothing but its
// arguments, so the outcome cannot depend on the order votes arrived in.
// The approval percentage truncates; a percentage equal to the threshold
// passes.
func Tally(votesFor, votesAgainst uint32, threshold uint8) (domain.Result, error) {
	if votesFor > math.MaxUint32-votesAgainst {
		return domain.ResultPending, ErrCounterOverflow
	}
	total := votesFor + votesAgainst
	if total == 0 {
		return domain.ResultPending, ErrQuorumNotMet
	}
	hi, scaled := bits.Mul64(uint64(votesFor), 100)
	if hi != 0 {
		return domain.ResultPending, ErrCounterOverflow
	}
	approval := scaled / uint64(total)
	if approval >= uint64(threshold) {
		return domain.ResultPassed, nil
	}
	return domain.ResultFailed, nil
}

// ApprovalPercent reports floor(votesFor*100/total), or 0 with no votes.
func ApprovalPercent(votesFor, votesAgainst uint32) uint64 {
	total := uint64(votesFor) + uint64(votesAgainst)
	if total == 0 {
		return 0
	}
	return uint64(votesFor) * 100 / total
}
