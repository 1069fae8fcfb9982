package collect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-collector/internal/model"
)

func TestStateMachine_ForwardOnly(t *testing.T) {
	sm := NewStateMachine("stub", nil)
	assert.Equal(t, model.RunStateIdle, sm.State())

	require.NoError(t, sm.Advance(model.RunStateListing))
	require.NoError(t, sm.Advance(model.RunStateDetailFetch))

	assert.Error(t, sm.Advance(model.RunStateListing))
	assert.Error(t, sm.Advance(model.RunStateDetailFetch))
	assert.Equal(t, model.RunStateDetailFetch, sm.State())

	require.NoError(t, sm.Advance(model.RunStateDone))
	assert.Error(t, sm.Advance(model.RunStateAggregating))
}

func TestStateMachine_SkipToDone(t *testing.T) {
	sm := NewStateMachine("stub", nil)
	require.NoError(t, sm.Advance(model.RunStateListing))
	require.NoError(t, sm.Advance(model.RunStateDone))
	assert.Equal(t, model.RunStateDone, sm.State())
}

func TestStateMachine_UnknownState(t *testing.T) {
	sm := NewStateMachine("stub", nil)
	assert.Error(t, sm.Advance(model.RunState("paused")))
}
