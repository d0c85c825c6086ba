package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMigrationFilesSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "0001_a.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "0003_dir.sql"), 0o755))

	names, err := migrationFiles(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"0001_a.sql", "0002_b.sql"}, names)
}

func TestRunMigrationsSkipsWithoutPool(t *testing.T) {
	require.NoError(t, RunMigrations(context.Background(), &Postgres{}, "does-not-exist", zap.NewNop()))
}

func TestDisabledStoresReportErrors(t *testing.T) {
	ctx := context.Background()
	pg := &Postgres{}
	require.False(t, pg.Enabled())
	require.Error(t, pg.Ping(ctx))

	r := &Redis{}
	require.False(t, r.Enabled())
	require.Error(t, r.Ping(ctx))
	r.Close()
	pg.Close()
}

func TestSplitAddrs(t *testing.T) {
	require.Nil(t, splitAddrs(""))
	require.Nil(t, splitAddrs(" , "))
	require.Equal(t, []string{"a:6379", "b:6379"}, splitAddrs("a:6379, b:6379,"))
}
