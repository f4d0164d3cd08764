package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/config"
	"github.com/JakeFAU/regionpulse/internal/pulse"
	"github.com/JakeFAU/regionpulse/internal/scan"
)

const testConfig = `
llm:
  api_key: test-key
regions:
  - name: Berlin
    country: DE
    city: Berlin
    language: de
  - name: Lyon
    country: FR
    city: Lyon
    language: fr
`

type fakeApp struct {
	cfg     config.Config
	runs    int
	scanReq scan.Request
	scanErr error
	closed  int
}

func (f *fakeApp) Run(context.Context) error {
	f.runs++
	return nil
}

func (f *fakeApp) RunScan(_ context.Context, req scan.Request) (scan.Summary, error) {
	f.scanReq = req
	if f.scanErr != nil {
		return scan.Summary{}, f.scanErr
	}
	return scan.Summary{ScanID: "scan-1", Trigger: req.Trigger, ItemCount: 3}, nil
}

func (f *fakeApp) Regions() []pulse.RegionConfig {
	return f.cfg.Regions
}

func (f *fakeApp) Close(context.Context) error {
	f.closed++
	return nil
}

// useFakeApp swaps the factory for the duration of the test. Tests that call
// it must not run in parallel.
func useFakeApp(t *testing.T, fake *fakeApp) {
	t.Helper()
	prev := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		fake.cfg = cfg
		return fake, nil
	}
	t.Cleanup(func() { newApp = prev })
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
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

func TestScanCommandPrintsSummary(t *testing.T) {
	fake := &fakeApp{}
	useFakeApp(t, fake)

	out, err := execute(t, "--config", writeConfig(t), "scan", "--region", "Berlin", "-r", "Lyon")
	require.NoError(t, err)

	assert.Equal(t, []string{"Berlin", "Lyon"}, fake.scanReq.Regions)
	assert.Equal(t, cliTrigger, fake.scanReq.Trigger)
	assert.Equal(t, 1, fake.closed)

	var summary scan.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "scan-1", summary.ScanID)
	assert.Equal(t, 3, summary.ItemCount)
}

func TestScanCommandPropagatesFailure(t *testing.T) {
	fake := &fakeApp{scanErr: scan.ErrAllRegionsFailed}
	useFakeApp(t, fake)

	_, err := execute(t, "--config", writeConfig(t), "scan")
	require.Error(t, err)
	assert.ErrorIs(t, err, scan.ErrAllRegionsFailed)
	assert.Empty(t, fake.scanReq.Regions)
}

func TestServeCommandRunsApp(t *testing.T) {
	fake := &fakeApp{}
	useFakeApp(t, fake)

	_, err := execute(t, "--config", writeConfig(t), "serve")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.runs)
	assert.Equal(t, 1, fake.closed)
}

func TestRegionsCommandListsConfiguredRegions(t *testing.T) {
	fake := &fakeApp{}
	useFakeApp(t, fake)

	out, err := execute(t, "--config", writeConfig(t), "regions")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Berlin")
	assert.Contains(t, out, "Lyon")
}

func TestRootFailsOnInvalidConfig(t *testing.T) {
	called := false
	prev := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		called = true
		return nil, errors.New("unreachable")
	}
	t.Cleanup(func() { newApp = prev })

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0o600))

	_, err := execute(t, "--config", path, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
	assert.False(t, called)
}

func TestResolveAppWithoutApp(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
