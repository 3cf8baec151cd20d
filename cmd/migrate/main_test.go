package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{"-direction=Down", "-steps=2"}, env(map[string]string{dsnEnv: " postgres://x "}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.direction != "down" || opts.steps != 2 || opts.dsn != "postgres://x" {
		t.Fatalf("unexpected options %+v", opts)
	}

	opts, err = parseArgs([]string{"-dsn=postgres://flag"}, env(map[string]string{dsnEnv: "postgres://env"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.dsn != "postgres://flag" || opts.direction != "up" {
		t.Fatalf("flag must win over env, got %+v", opts)
	}
}

func TestParseArgs_Errors(t *testing.T) {
	cases := map[string][]string{
		"no dsn":         {"-direction=up"},
		"bad direction":  {"-direction=sideways", "-dsn=x"},
		"negative steps": {"-steps=-1", "-dsn=x"},
		"unknown flag":   {"-force", "-dsn=x"},
	}
	for name, args := range cases {
		if _, err := parseArgs(args, env(nil)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestRun(t *testing.T) {
	fake := &fakeMigrator{state: postgres.MigrationState{Version: 2, Applied: 2, Pending: []string{"0003_indexes"}}}

	var out bytes.Buffer
	if err := run(context.Background(), fake, options{direction: "up", steps: 1}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.up != 1 || fake.down != 0 {
		t.Fatalf("unexpected calls up=%d down=%d", fake.up, fake.down)
	}
	if !strings.Contains(out.String(), "version=2 applied=2") || !strings.Contains(out.String(), "pending: 0003_indexes") {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	if err := run(context.Background(), fake, options{direction: "status"}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.up != 1 || fake.down != 0 {
		t.Fatal("status must not migrate")
	}

	fake.err = errors.New("lock timeout")
	if err := run(context.Background(), fake, options{direction: "down"}, &out); err == nil {
		t.Fatal("expected error")
	}
}

func TestRun_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("STOREFRONT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("STOREFRONT_POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	defer store.Close()

	var out bytes.Buffer
	if err := run(ctx, store, options{direction: "up"}, &out); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if !strings.Contains(out.String(), "migrate up ok") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

type fakeMigrator struct {
	state    postgres.MigrationState
	err      error
	up, down int
}

func (f *fakeMigrator) MigrateUp(context.Context, int) error {
	f.up++
	return f.err
}

func (f *fakeMigrator) MigrateDown(context.Context, int) error {
	f.down++
	return f.err
}

func (f *fakeMigrator) MigrationStatus(context.Context) (postgres.MigrationState, error) {
	return f.state, nil
}
