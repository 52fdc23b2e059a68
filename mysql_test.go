package mlmd

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/sile/mlmd-go/metadata"
)

// TestMySQLStore runs a full pipeline against a real MySQL server in a
// container. Skipped in -short mode and when Docker is unavailable.
func TestMySQLStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MySQL integration test in short mode")
	}
	ctx := context.Background()

	ctr, err := tcmysql.Run(ctx, "mysql:8.4",
		tcmysql.WithDatabase("mlmd"),
		tcmysql.WithUsername("mlmd"),
		tcmysql.WithPassword("secret"),
	)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	defer func() { _ = testcontainers.TerminateContainer(ctr) }()

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)
	uri := fmt.Sprintf("mysql://mlmd:secret@%s:%s/mlmd", host, port.Port())

	s, err := New(ctx, uri)
	require.NoError(t, err)
	defer s.Close()

	typeID, err := s.PutArtifactType("DataSet").
		PropertyInt("day").
		PropertyString("split").
		Execute(ctx)
	require.NoError(t, err)

	id, err := s.PostArtifact(typeID).
		Name("train").
		URI("db://train").
		Property("day", metadata.IntValue(1)).
		Property("split", metadata.StringValue("train")).
		Execute(ctx)
	require.NoError(t, err)

	_, err = s.PostArtifact(typeID).Name("train").Execute(ctx)
	require.ErrorIs(t, err, ErrNameAlreadyExists)

	err = s.PutArtifact(id).Property("day", metadata.IntValue(2)).Execute(ctx)
	require.NoError(t, err)

	artifacts, err := s.GetArtifacts().TypeAndName("DataSet", "train").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, metadata.IntValue(2), artifacts[0].Properties["day"])

	// Reopen against the initialized database; the version check must pass.
	s2, err := New(ctx, uri)
	require.NoError(t, err)
	defer s2.Close()
	n, err := s2.GetArtifacts().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
