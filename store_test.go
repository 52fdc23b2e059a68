package mlmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewUnsupportedScheme(t *testing.T) {
	_, err := New(context.Background(), "postgres://localhost/mlmd")
	require.ErrorIs(t, err, ErrUnsupportedDatabase)
}

func TestNewInitializesAndReopens(t *testing.T) {
	ctx := context.Background()
	uri := "sqlite://" + filepath.Join(t.TempDir(), "metadata.db")

	s1, err := New(ctx, uri)
	require.NoError(t, err)

	typeID, err := s1.PutArtifactType("DataSet").Execute(ctx)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Reopening passes the schema version check and sees existing data.
	s2, err := New(ctx, uri)
	require.NoError(t, err)
	defer s2.Close()

	types, err := s2.GetArtifactTypes().Execute(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, typeID, types[0].ID)
	assert.Equal(t, "DataSet", types[0].Name)
}

func TestNewRejectsWrongSchemaVersion(t *testing.T) {
	ctx := context.Background()
	uri := "sqlite://" + filepath.Join(t.TempDir(), "metadata.db")

	s, err := New(ctx, uri)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, "UPDATE MLMDEnv SET schema_version = 5")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = New(ctx, uri)
	var verErr *UnsupportedSchemaVersionError
	require.ErrorAs(t, err, &verErr)
	assert.Equal(t, int32(5), verErr.Actual)
}

func TestNewRejectsCorruptEnvTable(t *testing.T) {
	ctx := context.Background()
	uri := "sqlite://" + filepath.Join(t.TempDir(), "metadata.db")

	s, err := New(ctx, uri)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, "INSERT INTO MLMDEnv VALUES (7)")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = New(ctx, uri)
	var envErr *TooManyEnvRecordsError
	require.ErrorAs(t, err, &envErr)
	assert.Equal(t, 2, envErr.Count)
}

func TestTwoStoresOneDatabase(t *testing.T) {
	ctx := context.Background()
	uri := "sqlite://" + filepath.Join(t.TempDir(), "metadata.db")

	writer, err := New(ctx, uri)
	require.NoError(t, err)
	defer writer.Close()
	reader, err := New(ctx, uri)
	require.NoError(t, err)
	defer reader.Close()

	typeID, err := writer.PutContextType("experiment").Execute(ctx)
	require.NoError(t, err)
	_, err = writer.PostContext(typeID, "exp-1").Execute(ctx)
	require.NoError(t, err)

	contexts, err := reader.GetContexts().Execute(ctx)
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.Equal(t, "exp-1", contexts[0].Name)
}
