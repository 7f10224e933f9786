package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusync/sensormap/internal/core/events/bus"
	"github.com/zeusync/sensormap/internal/core/observability/log"
	"github.com/zeusync/sensormap/internal/core/sensor"
	"github.com/zeusync/sensormap/internal/core/sensor/octree"
	"github.com/zeusync/sensormap/internal/core/sensor/tags"
	"github.com/zeusync/sensormap/internal/core/systems/physics"
	"github.com/zeusync/sensormap/internal/core/world"
)

// StatsResponse is served at /stats.
type StatsResponse struct {
	Map       string      `json:"map"`
	Tick      uint64      `json:"tick"`
	Entities  int         `json:"entities"`
	Depth     int         `json:"depth"`
	Sensor    SensorStats `json:"sensor"`
	Bus       bus.Metrics `json:"bus"`
	Clients   int         `json:"clients"`
	Dropped   uint64      `json:"dropped_events"`
	Generated time.Time   `json:"generated"`
}

type SensorStats struct {
	Updates          uint64        `json:"updates"`
	Queries          uint64        `json:"queries"`
	EventsDispatched uint64        `json:"events_dispatched"`
	AverageSweep     time.Duration `json:"average_sweep_ns"`
	LastSweep        time.Duration `json:"last_sweep_ns"`
	LastQueries      int           `json:"last_queries"`
	LastEvents       int           `json:"last_events"`
	LastDirtyCells   int           `json:"last_dirty_cells"`
	Volumes          int           `json:"volumes"`
	StrayVolumes     int           `json:"stray_volumes"`
	OccupiedCells    int           `json:"occupied_cells"`
}

// VolumeView describes one volume in a /volumes response.
type VolumeView struct {
	ID     string     `json:"id"`
	Key    uint64     `json:"key"`
	Shape  string     `json:"shape"`
	Min    [3]float64 `json:"min"`
	Max    [3]float64 `json:"max"`
	Attr   []string   `json:"attr"`
	Listen []string   `json:"listen"`
	Cell   *uint32    `json:"cell"`
	Entity string     `json:"entity,omitempty"`
}

type VolumesResponse struct {
	Count     int          `json:"count"`
	Truncated bool         `json:"truncated"`
	Volumes   []VolumeView `json:"volumes"`
}

type CellResponse struct {
	Cell   uint32     `json:"cell"`
	Depth  int        `json:"depth"`
	Coords [3]uint32  `json:"coords"`
	Parent *uint32    `json:"parent"`
	Min    [3]float64 `json:"min"`
	Max    [3]float64 `json:"max"`
}

// handler serves the read-only introspection endpoints. All map access goes
// through the loop.
type handler struct {
	loop   *Loop
	hub    *Hub
	bus    bus.EventBus
	cfg    Config
	logger log.Log
}

func (s *Server) routes() http.Handler {
	h := &handler{
		loop:   s.loop,
		hub:    s.hub,
		bus:    s.bus,
		cfg:    s.config,
		logger: s.logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stats", h.stats)
	mux.HandleFunc("GET /volumes", h.volumes)
	mux.HandleFunc("GET /cells/{cell}", h.cell)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("GET /ws/events", s.hub)
	return mux
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	err := h.loop.Do(r.Context(), func(wd *world.World) error {
		m := wd.Map()
		st := m.Stats()
		resp = StatsResponse{
			Map:      m.Name(),
			Tick:     wd.TickCount(),
			Entities: wd.Len(),
			Depth:    m.Space().Depth(),
			Sensor: SensorStats{
				Updates:          st.Updates,
				Queries:          st.Queries,
				EventsDispatched: st.EventsDispatched,
				AverageSweep:     st.AverageSweep(),
				LastSweep:        st.LastSweep,
				LastQueries:      st.LastQueries,
				LastEvents:       st.LastEvents,
				LastDirtyCells:   st.LastDirtyCells,
				Volumes:          st.Volumes,
				StrayVolumes:     st.StrayVolumes,
				OccupiedCells:    st.OccupiedCells,
			},
		}
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp.Bus = h.bus.Metrics()
	resp.Clients = h.hub.Clients()
	resp.Dropped = h.hub.Dropped()
	resp.Generated = time.Now().UTC()
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) volumes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lo, err := parseVec(q.Get("min"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	hi, err := parseVec(q.Get("max"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	probe := physics.BoxBounds(physics.NewAABB(lo, hi))

	var resp VolumesResponse
	err = h.loop.Do(r.Context(), func(wd *world.World) error {
		m := wd.Map()
		ids := m.Query(probe, tags.None, sensor.InvalidVolumeID)
		resp.Count = len(ids)
		if len(ids) > h.cfg.MaxVolumes {
			ids, resp.Truncated = ids[:h.cfg.MaxVolumes], true
		}
		resp.Volumes = make([]VolumeView, 0, len(ids))
		for _, id := range ids {
			p, _ := m.GetVolumeParams(id)
			cell, _ := m.VolumeCell(id)
			resp.Volumes = append(resp.Volumes, volumeView(m.Tags(), id, p, cell))
		}
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) cell(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(r.PathValue("cell"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, queryError("bad cell %q", r.PathValue("cell")))
		return
	}
	c := octree.Cell(n)

	var (
		resp  CellResponse
		found bool
	)
	err = h.loop.Do(r.Context(), func(wd *world.World) error {
		space := wd.Map().Space()
		if !space.Valid(c) {
			return nil
		}
		found = true
		d, x, y, z := space.Coords(c)
		ext := space.CellExtent(c)
		resp = CellResponse{
			Cell:   uint32(c),
			Depth:  d,
			Coords: [3]uint32{x, y, z},
			Parent: cellRef(space.ParentOf(c)),
			Min:    vec(ext.Min),
			Max:    vec(ext.Max),
		}
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("cell %d out of range", n))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrLoopStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	h.logger.Error("Request failed",
		log.String("path", r.URL.Path),
		log.Int("status", status),
		log.Error(err))
	writeError(w, status, err)
}

func volumeView(reg tags.Registry, id sensor.VolumeID, p sensor.VolumeParams, cell octree.Cell) VolumeView {
	box := p.Bounds.AABB()
	v := VolumeView{
		ID:     id.String(),
		Key:    id.Key(),
		Shape:  p.Bounds.Shape().String(),
		Min:    vec(box.Min),
		Max:    vec(box.Max),
		Attr:   reg.Names(p.AttributeTags),
		Listen: reg.Names(p.ListenerTags),
		Cell:   cellRef(cell),
	}
	if e, ok := p.Owner.(*world.Entity); ok {
		v.Entity = e.Name
	}
	return v
}

func cellRef(c octree.Cell) *uint32 {
	if c == octree.None {
		return nil
	}
	n := uint32(c)
	return &n
}

func vec(v physics.Vec3) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// parseVec parses "x,y,z".
func parseVec(s string) (physics.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return physics.Vec3{}, queryError("want x,y,z, got %q", s)
	}
	var xyz [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return physics.Vec3{}, queryError("bad coordinate %q", p)
		}
		xyz[i] = f
	}
	return physics.V3(xyz[0], xyz[1], xyz[2]), nil
}

func queryError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
