package mlmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sile/mlmd-go/metadata"
)

func dataSetType(t *testing.T, s *Store) metadata.TypeID {
	t.Helper()
	id, err := s.PutArtifactType("DataSet").
		PropertyInt("day").
		PropertyString("split").
		Execute(context.Background())
	require.NoError(t, err)
	return id
}

func TestPostAndGetArtifact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	typeID := dataSetType(t, s)

	id, err := s.PostArtifact(typeID).
		Name("train-day1").
		URI("db://train/1").
		State(metadata.ArtifactStateLive).
		Property("day", metadata.IntValue(1)).
		Property("split", metadata.StringValue("train")).
		CustomProperty("owner", metadata.StringValue("ml-team")).
		Execute(ctx)
	require.NoError(t, err)

	artifacts, err := s.GetArtifacts().IDs(id).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	a := artifacts[0]
	assert.Equal(t, id, a.ID)
	assert.Equal(t, typeID, a.TypeID)
	require.NotNil(t, a.Name)
	assert.Equal(t, "train-day1", *a.Name)
	require.NotNil(t, a.URI)
	assert.Equal(t, "db://train/1", *a.URI)
	assert.Equal(t, metadata.ArtifactStateLive, a.State)
	assert.Equal(t, metadata.PropertyValues{
		"day":   metadata.IntValue(1),
		"split": metadata.StringValue("train"),
	}, a.Properties)
	assert.Equal(t, metadata.PropertyValues{
		"owner": metadata.StringValue("ml-team"),
	}, a.CustomProperties)
	assert.False(t, a.CreateTime.IsZero())
	assert.Equal(t, a.CreateTime, a.LastUpdateTime)
}

func TestPostArtifactValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	typeID := dataSetType(t, s)

	// Unknown type id.
	_, err := s.PostArtifact(typeID + 100).Execute(ctx)
	require.ErrorIs(t, err, ErrTypeNotFound)

	// An execution type id is not an artifact type id.
	execType, err := s.PutExecutionType("Train").Execute(ctx)
	require.NoError(t, err)
	_, err = s.PostArtifact(execType).Execute(ctx)
	require.ErrorIs(t, err, ErrTypeNotFound)

	// Undeclared property.
	_, err = s.PostArtifact(typeID).Property("size", metadata.IntValue(1)).Execute(ctx)
	require.ErrorIs(t, err, ErrUndefinedProperty)

	// Declared property with the wrong value type.
	_, err = s.PostArtifact(typeID).Property("day", metadata.StringValue("monday")).Execute(ctx)
	require.ErrorIs(t, err, ErrUndefinedProperty)

	// Custom properties need no declaration.
	_, err = s.PostArtifact(typeID).CustomProperty("size", metadata.IntValue(1)).Execute(ctx)
	require.NoError(t, err)
}

func TestArtifactNameUniqueWithinType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	typeID := dataSetType(t, s)

	first, err := s.PostArtifact(typeID).Name("train").Execute(ctx)
	require.NoError(t, err)

	_, err = s.PostArtifact(typeID).Name("train").Execute(ctx)
	require.ErrorIs(t, err, ErrNameAlreadyExists)

	// The same name under another type is fine.
	otherType, err := s.PutArtifactType("Model").Execute(ctx)
	require.NoError(t, err)
	_, err = s.PostArtifact(otherType).Name("train").Execute(ctx)
	require.NoError(t, err)

	// Renaming onto a taken name fails; keeping one's own name succeeds.
	second, err := s.PostArtifact(typeID).Name("test").Execute(ctx)
	require.NoError(t, err)
	err = s.PutArtifact(second).Name("train").Execute(ctx)
	require.ErrorIs(t, err, ErrNameAlreadyExists)
	err = s.PutArtifact(first).Name("train").Execute(ctx)
	require.NoError(t, err)
}

func TestPutArtifactUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	typeID := dataSetType(t, s)

	id, err := s.PostArtifact(typeID).
		URI("db://train").
		Property("day", metadata.IntValue(1)).
		Execute(ctx)
	require.NoError(t, err)

	err = s.PutArtifact(id).
		State(metadata.ArtifactStateMarkedForDeletion).
		Property("day", metadata.IntValue(2)).
		Property("split", metadata.StringValue("eval")).
		CustomProperty("note", metadata.StringValue("stale")).
		Execute(ctx)
	require.NoError(t, err)

	artifacts, err := s.GetArtifacts().IDs(id).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	a := artifacts[0]
	// Untouched fields survive, supplied ones overwrite or upsert.
	require.NotNil(t, a.URI)
	assert.Equal(t, "db://train", *a.URI)
	assert.Equal(t, metadata.ArtifactStateMarkedForDeletion, a.State)
	assert.Equal(t, metadata.IntValue(2), a.Properties["day"])
	assert.Equal(t, metadata.StringValue("eval"), a.Properties["split"])
	assert.Equal(t, metadata.StringValue("stale"), a.CustomProperties["note"])
	assert.False(t, a.LastUpdateTime.Before(a.CreateTime))
}

func TestPutArtifactNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.PutArtifact(12345).URI("db://x").Execute(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetArtifactsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	typeID := dataSetType(t, s)
	modelType, err := s.PutArtifactType("Model").Execute(ctx)
	require.NoError(t, err)

	train, err := s.PostArtifact(typeID).Name("train").URI("db://train").Execute(ctx)
	require.NoError(t, err)
	test, err := s.PostArtifact(typeID).Name("test").URI("db://test").Execute(ctx)
	require.NoError(t, err)
	model, err := s.PostArtifact(modelType).Name("model-v1").Execute(ctx)
	require.NoError(t, err)

	byType, err := s.GetArtifacts().Type("DataSet").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, byType, 2)
	assert.Equal(t, train, byType[0].ID)
	assert.Equal(t, test, byType[1].ID)

	byTypeAndName, err := s.GetArtifacts().TypeAndName("DataSet", "test").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, byTypeAndName, 1)
	assert.Equal(t, test, byTypeAndName[0].ID)

	byPattern, err := s.GetArtifacts().TypeAndNamePattern("Model", "model-%").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, byPattern, 1)
	assert.Equal(t, model, byPattern[0].ID)

	byURI, err := s.GetArtifacts().URI("db://train").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, byURI, 1)
	assert.Equal(t, train, byURI[0].ID)

	byIDs, err := s.GetArtifacts().IDs(train, model).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, byIDs, 2)

	none, err := s.GetArtifacts().Type("DataSet").TypeAndName("DataSet", "missing").Execute(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)

	n, err := s.GetArtifacts().Type("DataSet").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGetArtifactsOrderLimitOffset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	typeID := dataSetType(t, s)

	var ids []metadata.ArtifactID
	for _, name := range []string{"a", "b", "c"} {
		id, err := s.PostArtifact(typeID).Name(name).Execute(ctx)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	desc, err := s.GetArtifacts().OrderBy(OrderByID, false).Limit(2).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, ids[2], desc[0].ID)
	assert.Equal(t, ids[1], desc[1].ID)

	page, err := s.GetArtifacts().OrderBy(OrderByID, true).Limit(2).Offset(2).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[2], page[0].ID)

	// Count ignores pagination.
	n, err := s.GetArtifacts().Limit(1).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestGetArtifactsTimeRanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	typeID := dataSetType(t, s)

	id, err := s.PostArtifact(typeID).Execute(ctx)
	require.NoError(t, err)

	arts, err := s.GetArtifacts().IDs(id).Execute(ctx)
	require.NoError(t, err)
	created := arts[0].CreateTime

	within, err := s.GetArtifacts().
		CreatedWithin(created, created.Add(time.Millisecond)).
		Execute(ctx)
	require.NoError(t, err)
	require.Len(t, within, 1)

	before, err := s.GetArtifacts().
		CreatedWithin(time.Time{}, created).
		Execute(ctx)
	require.NoError(t, err)
	assert.Empty(t, before)
}

func TestExecutionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	typeID, err := s.PutExecutionType("Train").PropertyDouble("learning_rate").Execute(ctx)
	require.NoError(t, err)

	id, err := s.PostExecution(typeID).
		Name("run-1").
		State(metadata.ExecutionStateRunning).
		Property("learning_rate", metadata.DoubleValue(0.01)).
		Execute(ctx)
	require.NoError(t, err)

	err = s.PutExecution(id).State(metadata.ExecutionStateComplete).Execute(ctx)
	require.NoError(t, err)

	executions, err := s.GetExecutions().TypeAndName("Train", "run-1").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, metadata.ExecutionStateComplete, executions[0].LastKnownState)
	assert.Equal(t, metadata.DoubleValue(0.01), executions[0].Properties["learning_rate"])
}

func TestContextRequiresName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	typeID, err := s.PutContextType("experiment").Execute(ctx)
	require.NoError(t, err)

	_, err = s.PostContext(typeID, "").Execute(ctx)
	require.ErrorIs(t, err, ErrContextNameRequired)

	id, err := s.PostContext(typeID, "exp-1").Execute(ctx)
	require.NoError(t, err)

	err = s.PutContext(id).Name("").Execute(ctx)
	require.ErrorIs(t, err, ErrContextNameRequired)

	// Context names are unique within their type.
	_, err = s.PostContext(typeID, "exp-1").Execute(ctx)
	require.ErrorIs(t, err, ErrNameAlreadyExists)
}

func TestContextRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	typeID, err := s.PutContextType("experiment").PropertyString("tag").Execute(ctx)
	require.NoError(t, err)

	id, err := s.PostContext(typeID, "exp-1").
		Property("tag", metadata.StringValue("baseline")).
		Execute(ctx)
	require.NoError(t, err)

	err = s.PutContext(id).Name("exp-1-renamed").Execute(ctx)
	require.NoError(t, err)

	contexts, err := s.GetContexts().Type("experiment").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.Equal(t, "exp-1-renamed", contexts[0].Name)
	assert.Equal(t, metadata.StringValue("baseline"), contexts[0].Properties["tag"])
}

func TestGetArtifactsCorruptPropertyRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	typeID := dataSetType(t, s)
	id, err := s.PostArtifact(typeID).Property("day", metadata.IntValue(1)).Execute(ctx)
	require.NoError(t, err)

	// Two value columns set on one row.
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO ArtifactProperty (artifact_id, name, is_custom_property, int_value, double_value) VALUES (?, 'broken', 1, 1, 2.0)",
		int32(id))
	require.NoError(t, err)

	_, err = s.GetArtifacts().Execute(ctx)
	require.ErrorIs(t, err, ErrConvert)

	// No value column set.
	_, err = s.db.ExecContext(ctx, "DELETE FROM ArtifactProperty WHERE name = 'broken'")
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO ArtifactProperty (artifact_id, name, is_custom_property) VALUES (?, 'empty', 1)",
		int32(id))
	require.NoError(t, err)

	_, err = s.GetArtifacts().Execute(ctx)
	require.ErrorIs(t, err, ErrConvert)
}

func TestGetArtifactsInvalidStateValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	typeID := dataSetType(t, s)
	_, err := s.PostArtifact(typeID).Execute(ctx)
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, "UPDATE Artifact SET state = 99")
	require.NoError(t, err)

	_, err = s.GetArtifacts().Execute(ctx)
	require.ErrorIs(t, err, ErrConvert)
}
