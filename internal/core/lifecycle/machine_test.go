package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abasto/internal/core/apperror"
)

func TestFire_RequestHappyPath(t *testing.T) {
	state := Initial(KindRequest)
	require.Equal(t, StateDraft, state)

	steps := []struct {
		event Event
		want  State
	}{
		{EventSubmit, StatePending},
		{EventApprove, StateApproved},
		{EventBeginDispatch, StateDispatching},
		{EventClose, StateClosed},
	}

	for _, step := range steps {
		next, err := Fire(KindRequest, state, step.event)
		require.NoError(t, err, "event %s from %s", step.event, state)
		assert.Equal(t, step.want, next)
		state = next
	}

	assert.True(t, IsTerminal(KindRequest, state))
}

func TestFire_RequestReject(t *testing.T) {
	next, err := Fire(KindRequest, StatePending, EventReject)
	require.NoError(t, err)
	assert.Equal(t, StateRejected, next)
	assert.True(t, IsTerminal(KindRequest, next))
}

func TestFire_NoReturnToPendingFromApproved(t *testing.T) {
	_, err := Fire(KindRequest, StateApproved, EventSubmit)
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeBusinessRule))
}

func TestFire_TerminalRejectsAllEvents(t *testing.T) {
	tests := []struct {
		kind  Kind
		state State
	}{
		{KindRequest, StateRejected},
		{KindRequest, StateClosed},
		{KindOrder, StateReceived},
		{KindReceipt, StateCompleted},
		{KindDispatch, StateCompleted},
	}

	events := []Event{EventSubmit, EventApprove, EventReject, EventConfirm, EventClose, EventComplete}

	for _, tt := range tests {
		for _, ev := range events {
			_, err := Fire(tt.kind, tt.state, ev)
			require.Error(t, err, "%s/%s should reject %s", tt.kind, tt.state, ev)
			assert.True(t, apperror.HasCode(err, apperror.CodeDocumentClosed))
		}
	}
}

func TestFire_OrderAndReceiptAndDispatch(t *testing.T) {
	next, err := Fire(KindOrder, StateDraft, EventConfirm)
	require.NoError(t, err)
	assert.Equal(t, StateIssued, next)

	next, err = Fire(KindOrder, StateIssued, EventFullyReceive)
	require.NoError(t, err)
	assert.Equal(t, StateReceived, next)

	require.Equal(t, StateOpen, Initial(KindReceipt))
	next, err = Fire(KindReceipt, StateOpen, EventClose)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, next)

	next, err = Fire(KindDispatch, StateDraft, EventConfirm)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, next)
}

func TestCanFire(t *testing.T) {
	assert.True(t, CanFire(KindRequest, StatePending, EventApprove))
	assert.False(t, CanFire(KindRequest, StateDraft, EventApprove))
	assert.False(t, CanFire(KindOrder, StateReceived, EventConfirm))
}
