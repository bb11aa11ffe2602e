package db

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationURL(t *testing.T) {
	url, err := MigrationURL("postgres://u:p@localhost:5432/bridge?sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, "pgx5://u:p@localhost:5432/bridge?sslmode=disable", url)

	url, err = MigrationURL("postgresql://localhost/bridge")
	require.NoError(t, err)
	assert.Equal(t, "pgx5://localhost/bridge", url)

	_, err = MigrationURL("host=localhost user=u password=secret")
	require.Error(t, err)
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationFS, "migrations/*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
