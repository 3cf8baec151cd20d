package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMigrator_UpDownLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateDown(ctx, 100), "reset schema")

	steps := []struct {
		name    string
		apply   func() error
		version int64
		pending []string
	}{
		{
			name:    "empty schema",
			apply:   func() error { return nil },
			version: 0,
			pending: []string{"0001_catalog_orders", "0002_outbox_timeline"},
		},
		{
			name:    "one step up",
			apply:   func() error { return store.MigrateUp(ctx, 1) },
			version: 1,
			pending: []string{"0002_outbox_timeline"},
		},
		{
			name:    "rest up",
			apply:   func() error { return store.MigrateUp(ctx, 0) },
			version: 2,
		},
		{
			name:    "up again is a no-op",
			apply:   func() error { return store.MigrateUp(ctx, 0) },
			version: 2,
		},
		{
			name:    "down defaults to one step",
			apply:   func() error { return store.MigrateDown(ctx, 0) },
			version: 1,
			pending: []string{"0002_outbox_timeline"},
		},
		{
			name:    "down the rest",
			apply:   func() error { return store.MigrateDown(ctx, 5) },
			version: 0,
			pending: []string{"0001_catalog_orders", "0002_outbox_timeline"},
		},
		{
			name:    "down on empty schema is a no-op",
			apply:   func() error { return store.MigrateDown(ctx, 1) },
			version: 0,
			pending: []string{"0001_catalog_orders", "0002_outbox_timeline"},
		},
	}

	for _, step := range steps {
		require.NoError(t, step.apply(), step.name)

		state, err := store.MigrationStatus(ctx)
		require.NoError(t, err, step.name)
		require.Equal(t, step.version, state.Version, step.name)
		require.Equal(t, int(step.version), state.Applied, step.name)
		require.Equal(t, step.pending, state.Pending, step.name)
	}

	// Остальные интеграционные тесты пакета ждут полную схему.
	require.NoError(t, store.EnsureSchema(ctx))
}
