package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrate_SQLite(t *testing.T) {
	ctx := context.Background()
	url := "sqlite://" + filepath.Join(t.TempDir(), "fleet.db")
	flags := []string{"--db-type", "sqlite", "--db-url", url}

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		require.NoError(t, runMigrate(ctx, args, &out))
		return out.String()
	}

	assert.Contains(t, run(append([]string{"version"}, flags...)...), "No migrations applied yet.")
	assert.Contains(t, run(append([]string{"up"}, flags...)...), "Current version: 2")

	status := run(append([]string{"status"}, flags...)...)
	assert.Contains(t, status, "create_performance_stats")
	assert.Contains(t, status, "Applied: 2, Pending: 0")

	assert.Contains(t, run(append([]string{"steps"}, append(flags, "--", "-1")...)...), "Current version: 1")
	assert.Contains(t, run(append([]string{"goto"}, append(flags, "2")...)...), "Current version: 2")
	assert.Contains(t, run(append([]string{"reset"}, flags...)...), "All migrations rolled back.")
}

func TestRunMigrate_Errors(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer

	assert.Error(t, runMigrate(ctx, nil, &out))
	assert.Contains(t, out.String(), "Usage:")

	out.Reset()
	assert.NoError(t, runMigrate(ctx, []string{"help"}, &out))
	assert.Contains(t, out.String(), "goto <version>")

	url := "sqlite://" + filepath.Join(t.TempDir(), "fleet.db")
	err := runMigrate(ctx, []string{"sideways", "--db-type", "sqlite", "--db-url", url}, &out)
	assert.ErrorContains(t, err, "unknown migrate subcommand")

	err = runMigrate(ctx, []string{"goto", "--db-type", "sqlite", "--db-url", url}, &out)
	assert.ErrorContains(t, err, "expected exactly one integer argument")

	err = runMigrate(ctx, []string{"up", "--db-type", "oracle", "--db-url", "oracle://x"}, &out)
	assert.Error(t, err)
}
