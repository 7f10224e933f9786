package injector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/sensormap/internal/config"
)

func TestInitializeApp(t *testing.T) {
	cfg := config.Default()
	cfg.World.Entities = 20
	cfg.LogLevel = "error"

	app, err := InitializeApp(cfg)
	require.NoError(t, err)
	require.NotNil(t, app.Server)
	require.NoError(t, app.World.Populate())
	assert.Equal(t, 20, app.World.Map().Len())
	assert.Equal(t, "demo", app.World.Map().Name())
	assert.NotNil(t, app.Server.Handler())
}

func TestInitializeAppRejectsBadLevel(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "shouty"
	_, err := InitializeApp(cfg)
	require.Error(t, err)
}

func TestMetricsAreRegistered(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "error"
	cfg.World.Entities = 5
	app, err := InitializeApp(cfg)
	require.NoError(t, err)
	require.NoError(t, app.World.Populate())
	app.World.Tick(0.05)

	families, err := app.Metrics.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["sensor_update_duration_seconds"])
	assert.True(t, names["sensor_volumes"])
	assert.True(t, names["go_goroutines"])
}
