package injector

import (
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zeusync/sensormap/internal/config"
	"github.com/zeusync/sensormap/internal/core/events/bus"
	"github.com/zeusync/sensormap/internal/core/observability/log"
	"github.com/zeusync/sensormap/internal/core/sensor"
	"github.com/zeusync/sensormap/internal/core/sensor/tags"
	"github.com/zeusync/sensormap/internal/core/world"
	"github.com/zeusync/sensormap/internal/server"
)

// App is everything sensord serve needs.
type App struct {
	Logger  log.Log
	World   *world.World
	Server  *server.Server
	Metrics prometheus.Gatherer
}

// ProviderSet builds an App from a config.Config.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideTags,
	ProvideRegistry,
	wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
	wire.Bind(new(prometheus.Gatherer), new(*prometheus.Registry)),
	ProvideSensorMap,
	ProvideBus,
	ProvideWorld,
	ProvideLoop,
	ProvideHub,
	ProvideServer,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg config.Config) (log.Log, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	return log.New(level), nil
}

func ProvideTags() tags.Registry {
	return tags.NewLibrary()
}

// ProvideRegistry returns a registry carrying the Go runtime and process
// collectors next to the sensor metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideSensorMap(cfg config.Config, logger log.Log, reg tags.Registry, r prometheus.Registerer) (*sensor.Map, error) {
	mc := cfg.SensorConfig()
	mc.Logger = logger
	mc.Tags = reg
	mc.Registerer = r
	return sensor.New(mc)
}

func ProvideBus() bus.EventBus {
	return bus.New()
}

func ProvideWorld(m *sensor.Map, cfg config.Config, b bus.EventBus, logger log.Log) (*world.World, error) {
	return world.New(m, cfg.World, b, logger)
}

func ProvideLoop(w *world.World, cfg config.Config, logger log.Log) *server.Loop {
	return server.NewLoop(w, cfg.World.TickInterval, logger)
}

func ProvideHub(b bus.EventBus, cfg config.Config, logger log.Log) *server.Hub {
	return server.NewHub(b, cfg.Server, logger)
}

func ProvideServer(cfg config.Config, loop *server.Loop, hub *server.Hub, b bus.EventBus, g prometheus.Gatherer, logger log.Log) *server.Server {
	return server.NewServer(cfg.Server, loop, hub, b, g, logger)
}
