package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/config"
	"github.com/JakeFAU/realtime-menu-ingest/internal/exporter"
)

type fakeApp struct {
	kinds   []catalog.Kind
	runErr  error
	served  string
	closed  bool
	exports []exporter.Artifact
}

func (f *fakeApp) Run(_ context.Context, kinds []catalog.Kind) ([]catalog.RunSummary, error) {
	f.kinds = kinds
	out := make([]catalog.RunSummary, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, catalog.RunSummary{RunID: "run-" + k.String(), Kind: k, Status: catalog.RunCompleted})
	}
	return out, f.runErr
}

func (f *fakeApp) Export(context.Context) ([]exporter.Artifact, error) { return f.exports, nil }

func (f *fakeApp) Serve(ctx context.Context, addr string) error {
	f.served = addr
	<-ctx.Done()
	return nil
}

func (f *fakeApp) Close() { f.closed = true }

type fakeMigrator struct {
	up, down int
	closed   bool
}

func (m *fakeMigrator) Up() error                   { m.up++; return nil }
func (m *fakeMigrator) Down(steps int) error        { m.down += steps; return nil }
func (m *fakeMigrator) Version() (uint, bool, error) { return 2, false, nil }
func (m *fakeMigrator) Close() error                { m.closed = true; return nil }

func withFakeApp(t *testing.T, fake *fakeApp) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) { return fake, nil }
	t.Cleanup(func() { newApp = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommandParsesKinds(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	out, err := execute(t, "run", "menus", "tags")
	require.NoError(t, err)
	require.Equal(t, []catalog.Kind{catalog.KindRestaurant, catalog.KindTag}, fake.kinds)
	require.True(t, fake.closed)
	require.Empty(t, fake.served)

	var summaries []catalog.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 2)
	require.Equal(t, "run-tag", summaries[1].RunID)
}

func TestRunCommandDefaultsToEveryKind(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	_, err := execute(t, "run", "--serve-addr", "127.0.0.1:0")
	require.NoError(t, err)
	require.Empty(t, fake.kinds)
	require.Equal(t, "127.0.0.1:0", fake.served)
}

func TestRunCommandRejectsUnknownKind(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, err := execute(t, "run", "cuisines")
	require.ErrorContains(t, err, "unknown kind")
}

func TestRunCommandSurfacesPendingFailure(t *testing.T) {
	withFakeApp(t, &fakeApp{runErr: errors.New("list pending restaurant: relation does not exist")})

	_, err := execute(t, "run", "restaurant")
	require.ErrorContains(t, err, "relation does not exist")
}

func TestRunCommandReadsConfigFile(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	path := filepath.Join(t.TempDir(), "menuingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: 127.0.0.1:0\n"), 0o600))

	_, err := execute(t, "--config", path, "run", "location")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:0", fake.served)
}

func TestConfigErrorsFailTheCommand(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dispatch:\n  concurrency: 0\n"), 0o600))
	_, err := execute(t, "--config", path, "run")
	require.ErrorContains(t, err, "dispatch.concurrency")
}

func TestMigrateCommand(t *testing.T) {
	m := &fakeMigrator{}
	orig := newMigrator
	newMigrator = func(config.Config, *zap.Logger) (Migrator, error) { return m, nil }
	t.Cleanup(func() { newMigrator = orig })

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	require.Equal(t, 1, m.up)
	require.Contains(t, out, "schema version 2")

	_, err = execute(t, "migrate", "down", "--steps", "2")
	require.NoError(t, err)
	require.Equal(t, 2, m.down)
	require.True(t, m.closed)

	_, err = execute(t, "migrate", "sideways")
	require.Error(t, err)
}

func TestMigrateRequiresDSN(t *testing.T) {
	_, err := execute(t, "migrate", "up")
	require.ErrorContains(t, err, "db.dsn")
}

func TestExportCommand(t *testing.T) {
	fake := &fakeApp{exports: []exporter.Artifact{{Table: "locations", URI: "file:///tmp/locations.csv", Rows: 3}}}
	withFakeApp(t, fake)

	out, err := execute(t, "export")
	require.NoError(t, err)
	var artifacts []exporter.Artifact
	require.NoError(t, json.Unmarshal([]byte(out), &artifacts))
	require.Equal(t, fake.exports, artifacts)
	require.True(t, fake.closed)
}
