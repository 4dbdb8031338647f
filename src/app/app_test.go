package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultscope/src/config"
	"faultscope/src/contracts"
	"faultscope/src/pipeline"
	"faultscope/src/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Locator: config.LocatorConfig{SnapshotHost: "192.168.1.10"},
		Planner: config.PlannerConfig{SizeThreshold: 64 << 20},
		Cache:   config.CacheConfig{Dir: filepath.Join(t.TempDir(), "cache")},
		Scan:    config.ScanConfig{MaxBytes: 1 << 20, MaxLines: 1000},
		Store:   config.StoreConfig{Driver: store.DriverMemory},
	}
}

func writeCapture(t *testing.T, lines string) string {
	t.Helper()
	base := t.TempDir()
	dir := filepath.Join(base, "run1", "snapshot-txtlog-192.168.1.10")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	f, err := os.Create(filepath.Join(dir, "log.gz"))
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(lines))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return base
}

func TestNew_LocalTransport(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "local", a.Transport.Name())
	assert.DirExists(t, cfg.Cache.Dir)

	base := writeCapture(t, "[2024-05-21 10:00:01] SetFunc fa_id:0x0165 fa_st:1 fu_st:0x3 fu_st_n:0x0\n"+
		"[2024-05-21 10:00:02] SetFunc fa_id:0x0165 fa_st:0 fu_st:0x0 fu_st_n:0x3\n")

	r, err := a.Engine.QueryFault(context.Background(), pipeline.FaultQuery{BasePath: base, FaultID: "165"})
	require.NoError(t, err)
	require.Len(t, r.Records, 1)
	require.NotNil(t, r.Records[0].OccurrenceCount)
	assert.Equal(t, 1, *r.Records[0].OccurrenceCount)
	assert.Equal(t, contracts.ModeLocal, r.Mode)

	require.NoError(t, a.Store.SaveReport(context.Background(), r))
	got, err := a.Store.GetReport(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestNew_GuideAttachesRemediation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Guide.Path = filepath.Join(t.TempDir(), "guide.yaml")
	require.NoError(t, os.WriteFile(cfg.Guide.Path, []byte(`"0x0165": check brake sensor harness`+"\n"), 0o644))

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	base := writeCapture(t, "[2024-05-21 10:00:01] SetFunc fa_id:0x0165 fa_st:1 fu_st:0x3 fu_st_n:0x0\n")
	r, err := a.Engine.QueryFault(context.Background(), pipeline.FaultQuery{BasePath: base, FaultID: "0x165"})
	require.NoError(t, err)
	require.Len(t, r.Records, 1)
	assert.Equal(t, "check brake sensor harness", r.Records[0].Remediation)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"invalid config", func(c *config.Config) { c.Scan.MaxLines = 0 }, "invalid configuration"},
		{"missing guide", func(c *config.Config) { c.Guide.Path = "/nonexistent/guide.yaml" }, "failed to read guide"},
		{"bad store dsn", func(c *config.Config) {
			// the parent of the database path is a regular file
			parent := filepath.Join(c.Cache.Dir, "..", "not-a-dir")
			_ = os.MkdirAll(filepath.Dir(parent), 0o755)
			_ = os.WriteFile(parent, nil, 0o644)
			c.Store = config.StoreConfig{Driver: store.DriverSQLite, DSN: filepath.Join(parent, "reports.db")}
		}, "failed to open report store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
