package mlmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sile/mlmd-go/metadata"
)

type pipelineFixture struct {
	contextID   metadata.ContextID
	artifactID  metadata.ArtifactID
	executionID metadata.ExecutionID
}

func newPipelineFixture(t *testing.T, s *Store) pipelineFixture {
	t.Helper()
	ctx := context.Background()

	contextType, err := s.PutContextType("experiment").Execute(ctx)
	require.NoError(t, err)
	artifactType, err := s.PutArtifactType("DataSet").Execute(ctx)
	require.NoError(t, err)
	executionType, err := s.PutExecutionType("Train").Execute(ctx)
	require.NoError(t, err)

	contextID, err := s.PostContext(contextType, "exp-1").Execute(ctx)
	require.NoError(t, err)
	artifactID, err := s.PostArtifact(artifactType).URI("db://train").Execute(ctx)
	require.NoError(t, err)
	executionID, err := s.PostExecution(executionType).Execute(ctx)
	require.NoError(t, err)

	return pipelineFixture{contextID, artifactID, executionID}
}

func TestAttributionAndAssociation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := newPipelineFixture(t, s)

	require.NoError(t, s.PutAttribution(ctx, f.contextID, f.artifactID))
	// Recording the same edge again succeeds and stays a single edge.
	require.NoError(t, s.PutAttribution(ctx, f.contextID, f.artifactID))
	require.NoError(t, s.PutAssociation(ctx, f.contextID, f.executionID))

	artifacts, err := s.GetArtifacts().Context(f.contextID).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, f.artifactID, artifacts[0].ID)

	executions, err := s.GetExecutions().Context(f.contextID).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, f.executionID, executions[0].ID)

	byArtifact, err := s.GetContexts().Artifact(f.artifactID).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, byArtifact, 1)
	assert.Equal(t, f.contextID, byArtifact[0].ID)

	byExecution, err := s.GetContexts().Execution(f.executionID).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, byExecution, 1)
	assert.Equal(t, f.contextID, byExecution[0].ID)
}

func TestGetContextsSharedMembershipReturnsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	contextType, err := s.PutContextType("experiment").PropertyString("note").Execute(ctx)
	require.NoError(t, err)
	artifactType, err := s.PutArtifactType("DataSet").Execute(ctx)
	require.NoError(t, err)
	executionType, err := s.PutExecutionType("Train").Execute(ctx)
	require.NoError(t, err)

	contextID, err := s.PostContext(contextType, "exp-1").
		Property("note", metadata.StringValue("baseline")).
		Execute(ctx)
	require.NoError(t, err)
	train, err := s.PostArtifact(artifactType).URI("db://train").Execute(ctx)
	require.NoError(t, err)
	eval, err := s.PostArtifact(artifactType).URI("db://eval").Execute(ctx)
	require.NoError(t, err)
	executionID, err := s.PostExecution(executionType).Execute(ctx)
	require.NoError(t, err)

	require.NoError(t, s.PutAttribution(ctx, contextID, train))
	require.NoError(t, s.PutAttribution(ctx, contextID, eval))
	require.NoError(t, s.PutAssociation(ctx, contextID, executionID))

	// The context matches one Attribution row per artifact but still reads
	// back as a single item, with its properties attached.
	contexts, err := s.GetContexts().Artifact(train, eval).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.Equal(t, contextID, contexts[0].ID)
	assert.Equal(t, metadata.StringValue("baseline"), contexts[0].Properties["note"])

	n, err := s.GetContexts().Artifact(train, eval).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	both, err := s.GetContexts().Artifact(train, eval).Execution(executionID).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, both, 1)

	n, err = s.GetContexts().Artifact(train, eval).Execution(executionID).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRelationsRequireBothRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := newPipelineFixture(t, s)

	err := s.PutAttribution(ctx, f.contextID+100, f.artifactID)
	require.ErrorIs(t, err, ErrNotFound)
	err = s.PutAttribution(ctx, f.contextID, f.artifactID+100)
	require.ErrorIs(t, err, ErrNotFound)
	err = s.PutAssociation(ctx, f.contextID, f.executionID+100)
	require.ErrorIs(t, err, ErrNotFound)
	err = s.PutEvent(f.executionID+100, f.artifactID).Execute(ctx)
	require.ErrorIs(t, err, ErrNotFound)
	err = s.PutEvent(f.executionID, f.artifactID+100).Execute(ctx)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutEventAndGetEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := newPipelineFixture(t, s)

	err := s.PutEvent(f.executionID, f.artifactID).
		Type(metadata.EventTypeInput).
		StepKey("data").
		StepIndex(0).
		Execute(ctx)
	require.NoError(t, err)

	events, err := s.GetEvents().Execute(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, f.artifactID, e.ArtifactID)
	assert.Equal(t, f.executionID, e.ExecutionID)
	assert.Equal(t, metadata.EventTypeInput, e.Type)
	assert.False(t, e.CreateTime.IsZero())
	require.Len(t, e.Path, 2)
	key, ok := e.Path[0].Key()
	require.True(t, ok)
	assert.Equal(t, "data", key)
	index, ok := e.Path[1].Index()
	require.True(t, ok)
	assert.Equal(t, int32(0), index)
}

func TestGetEventsFiltersCompose(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := newPipelineFixture(t, s)

	artifactType, err := s.PutArtifactType("Model").Execute(ctx)
	require.NoError(t, err)
	model, err := s.PostArtifact(artifactType).Execute(ctx)
	require.NoError(t, err)
	otherExec, err := s.PostExecution(mustExecutionType(t, s)).Execute(ctx)
	require.NoError(t, err)

	require.NoError(t, s.PutEvent(f.executionID, f.artifactID).Type(metadata.EventTypeInput).Execute(ctx))
	require.NoError(t, s.PutEvent(f.executionID, model).Type(metadata.EventTypeOutput).Execute(ctx))
	require.NoError(t, s.PutEvent(otherExec, model).Type(metadata.EventTypeInput).Execute(ctx))

	// Artifact and execution filters are OR-composed.
	events, err := s.GetEvents().Artifact(f.artifactID).Execution(otherExec).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, f.artifactID, events[0].ArtifactID)
	assert.Equal(t, otherExec, events[1].ExecutionID)

	byExecution, err := s.GetEvents().Execution(f.executionID).Execute(ctx)
	require.NoError(t, err)
	assert.Len(t, byExecution, 2)

	n, err := s.GetEvents().Artifact(model).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	limited, err := s.GetEvents().OrderByCreateTime(false).Limit(1).Execute(ctx)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGetEventsMalformedPathStep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := newPipelineFixture(t, s)

	err := s.PutEvent(f.executionID, f.artifactID).StepKey("data").Execute(ctx)
	require.NoError(t, err)

	// An index step with no index is neither kind of step.
	var eventID int32
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT id FROM Event").Scan(&eventID))
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO EventPath (event_id, is_index_step) VALUES (?, 1)", eventID)
	require.NoError(t, err)

	_, err = s.GetEvents().Execute(ctx)
	require.ErrorIs(t, err, ErrConvert)
}

func mustExecutionType(t *testing.T, s *Store) metadata.TypeID {
	t.Helper()
	id, err := s.PutExecutionType("Eval").Execute(context.Background())
	require.NoError(t, err)
	return id
}
