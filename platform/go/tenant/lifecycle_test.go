package tenant

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := map[State][]State{
		StatePending:     {StateActive, StateDeleted},
		StateActive:      {StateSuspended, StateDeactivated, StateDeleted},
		StateSuspended:   {StateActive, StateDeactivated, StateDeleted},
		StateDeactivated: {StateDeleted},
	}

	for _, from := range AllStates {
		for _, to := range AllStates {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			require.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestNothingReturnsToPending(t *testing.T) {
	t.Parallel()

	for _, from := range AllStates {
		require.False(t, CanTransition(from, StatePending), from)
	}
	require.True(t, StateDeleted.Terminal())
	require.False(t, StateSuspended.Terminal())
}

func TestOnlyActiveIsResolvable(t *testing.T) {
	t.Parallel()

	for _, s := range AllStates {
		require.Equal(t, s == StateActive, s.Resolvable(), s)
	}
}

func TestCheckRecordDescriptorInvariant(t *testing.T) {
	t.Parallel()

	require.NoError(t, CheckRecord(StateActive, true))
	require.NoError(t, CheckRecord(StateSuspended, true))
	require.NoError(t, CheckRecord(StatePending, false))
	require.NoError(t, CheckRecord(StateDeleted, false))

	require.ErrorIs(t, CheckRecord(StateActive, false), ErrInvalidRecord)
	require.ErrorIs(t, CheckRecord(StatePending, true), ErrInvalidRecord)
	require.ErrorIs(t, CheckRecord(StateDeactivated, true), ErrInvalidRecord)
	require.Equal(t, KindInvalidState, KindOf(CheckRecord("archived", false)))
}

func TestParseState(t *testing.T) {
	t.Parallel()

	st, err := ParseState("suspended")
	require.NoError(t, err)
	require.Equal(t, StateSuspended, st)

	_, err = ParseState("disabled")
	require.Error(t, err)
}
