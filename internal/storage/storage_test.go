package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNames(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])

	sql, err := migrations.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	for _, table := range []string{"users", "machine_tokens", "auth_events", "command_audit"} {
		assert.Contains(t, string(sql), "CREATE TABLE IF NOT EXISTS "+table)
	}
}
