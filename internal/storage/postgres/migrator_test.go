package postgres

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationNames(migrations []migration) []string {
	out := make([]string, 0, len(migrations))
	for _, m := range migrations {
		out = append(out, m.String())
	}
	return out
}

func TestReadMigrations_Embedded(t *testing.T) {
	set, err := readMigrations(embeddedMigrations)
	require.NoError(t, err)
	require.Equal(t, []string{"0001_catalog_orders", "0002_outbox_timeline"}, migrationNames(set))

	assert.Contains(t, set[0].Up, "CREATE TABLE IF NOT EXISTS products")
	assert.Contains(t, set[0].Up, "CREATE TABLE IF NOT EXISTS order_lines")
	assert.Contains(t, set[1].Up, "CREATE TABLE IF NOT EXISTS outbox_messages")
	for _, m := range set {
		assert.NotEmpty(t, m.Down, "migration %s has no rollback", m)
	}
}

func TestPendingMigrations(t *testing.T) {
	set, err := readMigrations(embeddedMigrations)
	require.NoError(t, err)

	tests := []struct {
		name    string
		applied map[int64]bool
		want    []string
	}{
		{name: "fresh database", applied: nil, want: []string{"0001_catalog_orders", "0002_outbox_timeline"}},
		{name: "empty table", applied: map[int64]bool{}, want: []string{"0001_catalog_orders", "0002_outbox_timeline"}},
		{name: "first applied", applied: map[int64]bool{1: true}, want: []string{"0002_outbox_timeline"}},
		{name: "gap is reported", applied: map[int64]bool{2: true}, want: []string{"0001_catalog_orders"}},
		{name: "all applied", applied: map[int64]bool{1: true, 2: true}, want: []string{}},
		{name: "unknown version ignored", applied: map[int64]bool{1: true, 2: true, 99: true}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, migrationNames(pendingMigrations(set, tt.applied)))
		})
	}
}

func TestRollbackPlan(t *testing.T) {
	set, err := readMigrations(embeddedMigrations)
	require.NoError(t, err)
	both := map[int64]bool{1: true, 2: true}

	plan, err := rollbackPlan(set, both, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_outbox_timeline"}, migrationNames(plan))

	plan, err = rollbackPlan(set, both, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_outbox_timeline", "0001_catalog_orders"}, migrationNames(plan))

	plan, err = rollbackPlan(set, map[int64]bool{}, 1)
	require.NoError(t, err)
	assert.Empty(t, plan)

	_, err = rollbackPlan(set, map[int64]bool{1: true, 7: true}, 1)
	require.ErrorContains(t, err, "unknown migration version 7")
}

func TestReadMigrations_Errors(t *testing.T) {
	const ddl = "CREATE TABLE lots (id INT);"

	tests := []struct {
		name    string
		files   fstest.MapFS
		wantErr string
	}{
		{
			name:    "no directory",
			files:   fstest.MapFS{},
			wantErr: "no migration files found",
		},
		{
			name: "missing down",
			files: fstest.MapFS{
				"sql/migrations/0001_lots.up.sql": {Data: []byte(ddl)},
			},
			wantErr: "both up and down",
		},
		{
			name: "bad file name",
			files: fstest.MapFS{
				"sql/migrations/lots.sql": {Data: []byte(ddl)},
			},
			wantErr: "invalid migration file name",
		},
		{
			name: "blank body",
			files: fstest.MapFS{
				"sql/migrations/0001_lots.up.sql":   {Data: []byte(" \n\t")},
				"sql/migrations/0001_lots.down.sql": {Data: []byte("DROP TABLE lots;")},
			},
			wantErr: "empty",
		},
		{
			name: "name mismatch",
			files: fstest.MapFS{
				"sql/migrations/0001_lots.up.sql":      {Data: []byte(ddl)},
				"sql/migrations/0001_batches.down.sql": {Data: []byte("DROP TABLE lots;")},
			},
			wantErr: "two names",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readMigrations(tt.files)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestReadMigrations_SortsByVersion(t *testing.T) {
	files := fstest.MapFS{
		"sql/migrations/0010_lots.up.sql":    {Data: []byte("CREATE TABLE lots (id INT);")},
		"sql/migrations/0010_lots.down.sql":  {Data: []byte("DROP TABLE lots;")},
		"sql/migrations/0002_racks.up.sql":   {Data: []byte("CREATE TABLE racks (id INT);")},
		"sql/migrations/0002_racks.down.sql": {Data: []byte("DROP TABLE racks;")},
		"sql/migrations/README.md":           {Data: []byte("ignored")},
	}

	set, err := readMigrations(files)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_racks", "0010_lots"}, migrationNames(set))
	assert.Equal(t, "DROP TABLE lots;", set[1].body(migrationDown))
}

func TestMigrate_RejectsUnknownDirection(t *testing.T) {
	store := &Store{}
	err := store.migrate(context.Background(), migrationDirection("sideways"), 0)
	require.ErrorContains(t, err, "unsupported migration direction")
}
