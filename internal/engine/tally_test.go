package engine

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"fastvote/internal/domain"
)

func TestTally(t *testing.T) {
	cases := []struct {
		name      string
		for_      uint32
		against   uint32
		threshold uint8
		want      domain.Result
		err       error
	}{
		{"no votes", 0, 0, 50, domain.ResultPending, ErrQuorumNotMet},
		{"exact threshold passes", 3, 2, 60, domain.ResultPassed, nil},
		{"one over fails", 3, 2, 61, domain.ResultFailed, nil},
		{"truncates down", 2, 1, 67, domain.ResultFailed, nil},
		{"truncates to 66", 2, 1, 66, domain.ResultPassed, nil},
		{"threshold 100 needs unanimity", 99, 1, 100, domain.ResultFailed, nil},
		{"threshold 1 with a single yes", 1, 99, 1, domain.ResultPassed, nil},
		{"counter overflow", math.MaxUint32, 1, 50, domain.ResultPending, ErrCounterOverflow},
		{"large counters", math.MaxUint32 / 2, math.MaxUint32 / 2, 50, domain.ResultPassed, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Tally(tc.for_, tc.against, tc.threshold)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestApprovalPercent(t *testing.T) {
	assert.Equal(t, uint64(0), ApprovalPercent(0, 0))
	assert.Equal(t, uint64(66), ApprovalPercent(2, 1))
	assert.Equal(t, uint64(100), ApprovalPercent(math.MaxUint32, 0))
}

func TestTallyMatchesCrossMultiplication(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("passes iff floor(for*100/total) >= threshold", prop.ForAll(
		func(votesFor, votesAgainst uint32, threshold uint8) bool {
			got, err := Tally(votesFor, votesAgainst, threshold)
			total := uint64(votesFor) + uint64(votesAgainst)
			if total > math.MaxUint32 {
				return err == ErrCounterOverflow
			}
			if total == 0 {
				return err == ErrQuorumNotMet
			}
			want := domain.ResultFailed
			if uint64(votesFor)*100/total >= uint64(threshold) {
				want = domain.ResultPassed
			}
			return err == nil && got == want
		},
		gen.UInt32Range(0, 1<<20),
		gen.UInt32Range(0, 1<<20),
		gen.UInt8Range(1, 100),
	))
	properties.TestingRun(t)
}
