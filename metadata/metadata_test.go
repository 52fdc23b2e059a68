package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyValueAccessors(t *testing.T) {
	v := IntValue(42)
	assert.Equal(t, PropertyTypeInt, v.Type())
	i, ok := v.AsInt()
	require.True(t, ok)
	assert.Equal(t, int32(42), i)
	_, ok = v.AsString()
	assert.False(t, ok)

	d, ok := DoubleValue(0.5).AsDouble()
	require.True(t, ok)
	assert.Equal(t, 0.5, d)

	s, ok := StringValue("train").AsString()
	require.True(t, ok)
	assert.Equal(t, "train", s)
}

func TestEnumDecoding(t *testing.T) {
	for _, v := range []int32{1, 2, 3} {
		_, err := PropertyTypeFromInt(v)
		assert.NoError(t, err)
	}
	_, err := PropertyTypeFromInt(0)
	assert.Error(t, err)
	_, err = PropertyTypeFromInt(4)
	assert.Error(t, err)

	state, err := ArtifactStateFromInt(4)
	require.NoError(t, err)
	assert.Equal(t, ArtifactStateDeleted, state)
	_, err = ArtifactStateFromInt(5)
	assert.Error(t, err)

	execState, err := ExecutionStateFromInt(6)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStateCanceled, execState)
	_, err = ExecutionStateFromInt(7)
	assert.Error(t, err)

	et, err := EventTypeFromInt(4)
	require.NoError(t, err)
	assert.Equal(t, EventTypeOutput, et)
	_, err = EventTypeFromInt(-1)
	assert.Error(t, err)
}

func TestEventSteps(t *testing.T) {
	idx := IndexStep(3)
	i, ok := idx.Index()
	require.True(t, ok)
	assert.Equal(t, int32(3), i)
	_, ok = idx.Key()
	assert.False(t, ok)

	key := KeyStep("data")
	k, ok := key.Key()
	require.True(t, ok)
	assert.Equal(t, "data", k)
}

func TestKindTableNames(t *testing.T) {
	assert.Equal(t, "Artifact", KindArtifact.TableName())
	assert.Equal(t, "Execution", KindExecution.TableName())
	assert.Equal(t, "Context", KindContext.TableName())
}
