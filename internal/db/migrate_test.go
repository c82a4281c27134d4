package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateUpDownRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	database, err := Open(dbPath)
	require.NoError(t, err)
	defer database.Close()

	version, dirty, err := database.MigrateVersion("migrations")
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, database.MigrateUp("migrations"))

	version, dirty, err = database.MigrateVersion("migrations")
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Up again is a no-op.
	require.NoError(t, database.MigrateUp("migrations"))

	require.NoError(t, database.MigrateDown("migrations"))
	_, err = database.Exec(`SELECT COUNT(*) FROM sessions`)
	assert.Error(t, err, "sessions table should be gone after down migration")
}
