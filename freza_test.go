package freza

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/freza/catalog"
	"github.com/hupe1980/freza/config"
	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/engine"
	"github.com/hupe1980/freza/internal/testutil"
	"github.com/hupe1980/freza/logging"
)

func newTestFreza(t *testing.T, driver string, steps ...testutil.Step) (*Freza, *testutil.FakeLauncher) {
	t.Helper()
	cfg, err := config.Load(func(o *config.LoadOptions) { o.BaseDir = t.TempDir() })
	require.NoError(t, err)
	cfg.Store.Driver = driver

	fake := testutil.NewFakeLauncher(steps...)
	f, err := New(cfg, func(o *Options) {
		o.Launcher = fake
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.Close(ctx)
	})
	return f, fake
}

func TestNewBootstrapsWorkspace(t *testing.T) {
	f, _ := newTestFreza(t, config.DriverFile)
	layout := f.Config().Layout()

	for _, dir := range layout.Dirs() {
		assert.DirExists(t, dir)
	}
	def, ok := f.Catalog().Agent(core.DefaultAgent)
	require.True(t, ok)
	assert.Equal(t, core.DefaultAgent, def.Name)
	assert.FileExists(t, layout.MemoryFile(core.DefaultAgent))
}

func TestInvokePersistsThread(t *testing.T) {
	for _, driver := range []string{config.DriverFile, config.DriverSQLite, config.DriverMemory} {
		t.Run(driver, func(t *testing.T) {
			steps := testutil.NewScript().Text("Hello").Text(" world").Result(0.01, 900, 1).Build()
			f, fake := newTestFreza(t, driver, steps...)

			res, err := f.Engine().Invoke(context.Background(), engine.StartRequest{Message: "hi"})
			require.NoError(t, err)
			assert.Equal(t, core.StatusCompleted, res.Outcome.Status)
			require.Len(t, fake.Requests(), 1)

			th, err := f.Engine().GetThread(context.Background(), res.ThreadID)
			require.NoError(t, err)
			require.Len(t, th.Entries, 1)
			assert.Equal(t, "Hello world", th.Entries[0].Response)
			assert.Equal(t, core.DefaultAgent, th.Agent)
		})
	}
}

func TestHandlerServesAPIAndMetrics(t *testing.T) {
	steps := testutil.NewScript().Text("ok").Result(0.5, 10, 1).Build()
	f, _ := newTestFreza(t, config.DriverMemory, steps...)

	_, err := f.Engine().Invoke(context.Background(), engine.StartRequest{Message: "hi"})
	require.NoError(t, err)

	srv := httptest.NewServer(f.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCatalogReloadSyncsScheduler(t *testing.T) {
	f, _ := newTestFreza(t, config.DriverMemory)
	assert.Empty(t, f.Scheduler().Scheduled())

	require.NoError(t, f.Catalog().SaveAgent(core.AgentDefinition{
		Name:            "nightly",
		Description:     "reflects every night",
		ReflectSchedule: "@daily",
	}, catalog.FormatYAML))

	assert.Equal(t, []string{"nightly"}, f.Scheduler().Scheduled())
}

func TestServeStopsOnCancel(t *testing.T) {
	f, _ := newTestFreza(t, config.DriverMemory)
	// ephemeral port
	f.cfg.HTTP.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.Serve(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.NoError(t, f.Close(context.Background()))
}
