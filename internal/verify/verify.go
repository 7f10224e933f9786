// Package verify checks a sensor map against brute force. Every seed builds
// its own map, fills it with random volumes, compares Query with an
// exhaustive scan and then runs rounds of random mutations, comparing each
// listener's result set and events after every Update.
package verify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/zeusync/sensormap/internal/core/observability/log"
	"github.com/zeusync/sensormap/internal/core/sensor"
	"github.com/zeusync/sensormap/internal/core/sensor/tags"
	"github.com/zeusync/sensormap/internal/core/systems/physics"
	"github.com/zeusync/sensormap/pkg/concurrent"
)

// ErrMismatch is returned by Run when any seed disagreed with brute force.
var ErrMismatch = errors.New("sensor map disagrees with brute force")

type Config struct {
	Volumes int
	Probes  int
	Rounds  int
	// Seeds independent maps are checked, seeded Seed, Seed+1, ...
	Seeds    int
	Seed     uint64
	Parallel int

	// Extent is the half size of the octree root. Volumes are placed up to
	// 10% beyond it, so some are strays.
	Extent  float64
	Depth   int
	MaxSize float64
	// TagBits is the number of distinct tag bits handed out.
	TagBits int
	// ListenerRatio is the share of volumes created as listeners.
	ListenerRatio float64
	// MaxMutations bounds the number of changes per round.
	MaxMutations int
}

func DefaultConfig() Config {
	return Config{
		Volumes:       2000,
		Probes:        200,
		Rounds:        50,
		Seeds:         4,
		Seed:          1,
		Extent:        256,
		Depth:         6,
		MaxSize:       24,
		TagBits:       4,
		ListenerRatio: 0.3,
		MaxMutations:  100,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Volumes < 0 || c.Probes < 0 || c.Rounds < 0:
		return errors.New("volumes, probes and rounds must not be negative")
	case c.Seeds <= 0:
		return errors.New("seeds must be positive")
	case c.Extent <= 0:
		return errors.New("extent must be positive")
	case c.TagBits <= 0 || c.TagBits > tags.Width:
		return fmt.Errorf("tag bits must be in 1..%d", tags.Width)
	case c.ListenerRatio < 0 || c.ListenerRatio > 1:
		return errors.New("listener ratio must be in 0..1")
	}
	return nil
}

// Mismatch describes one disagreement with brute force.
type Mismatch struct {
	Seed  uint64
	Round int
	// What is "query", "results", "entering", "leaving" or "owner".
	What   string
	Volume sensor.VolumeID
	Want   []sensor.VolumeID
	Got    []sensor.VolumeID
}

func (m Mismatch) String() string {
	return fmt.Sprintf("seed %d round %d %s %s: want %v, got %v", m.Seed, m.Round, m.What, m.Volume, m.Want, m.Got)
}

// Report summarizes one seed.
type Report struct {
	Seed       uint64
	Queries    int
	Updates    int
	Events     int
	Elapsed    time.Duration
	Mismatches []Mismatch
}

func (r Report) OK() bool { return len(r.Mismatches) == 0 }

// Run checks every seed, cfg.Parallel at a time, and returns their reports
// in seed order. The error wraps ErrMismatch when any report is not OK.
func Run(ctx context.Context, cfg Config, logger log.Log) ([]Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNop()
	}

	seeds := make([]uint64, cfg.Seeds)
	for i := range seeds {
		seeds[i] = cfg.Seed + uint64(i)
	}
	reports, err := concurrent.Map(ctx, seeds, cfg.Parallel, func(ctx context.Context, seed uint64) (Report, error) {
		r, err := runSeed(ctx, cfg, seed)
		if err != nil {
			return r, err
		}
		fields := []log.Field{
			log.Uint64("seed", seed),
			log.Int("queries", r.Queries),
			log.Int("updates", r.Updates),
			log.Int("events", r.Events),
			log.Duration("elapsed", r.Elapsed),
		}
		if r.OK() {
			logger.Info("Seed verified", fields...)
		} else {
			logger.Error("Seed failed", append(fields, log.Int("mismatches", len(r.Mismatches)))...)
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}

	failed := 0
	for _, r := range reports {
		if !r.OK() {
			failed++
		}
	}
	if failed > 0 {
		return reports, fmt.Errorf("%w: %d of %d seeds", ErrMismatch, failed, len(reports))
	}
	return reports, nil
}

type recorder struct{ events []sensor.Event }

func (r *recorder) OnSensorEvent(e sensor.Event) { r.events = append(r.events, e) }

type checker struct {
	cfg    Config
	seed   uint64
	rng    *rand.Rand
	m      *sensor.Map
	rec    *recorder
	ids    []sensor.VolumeID
	owners map[sensor.VolumeID]int
	report *Report
}

func runSeed(ctx context.Context, cfg Config, seed uint64) (Report, error) {
	start := time.Now()
	report := Report{Seed: seed}

	mc := sensor.DefaultConfig()
	mc.Name = fmt.Sprintf("verify-%d", seed)
	e := cfg.Extent
	mc.Bounds = physics.AABB{Min: physics.V3(-e, -e, -e), Max: physics.V3(e, e, e)}
	mc.Depth = cfg.Depth
	mc.MaxVolumes = max(cfg.Volumes*2, sensor.DefaultMaxVolumes)
	m, err := sensor.New(mc)
	if err != nil {
		return report, err
	}

	c := &checker{
		cfg:    cfg,
		seed:   seed,
		rng:    rand.New(rand.NewPCG(seed, seed*0x9e3779b97f4a7c15+1)),
		m:      m,
		rec:    &recorder{},
		owners: make(map[sensor.VolumeID]int),
		report: &report,
	}
	for i := 0; i < cfg.Volumes; i++ {
		if err := c.create(); err != nil {
			return report, err
		}
	}

	c.checkQueries()
	for round := 0; round < cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := c.round(round); err != nil {
			return report, err
		}
	}
	report.Elapsed = time.Since(start)
	return report, nil
}

func (c *checker) create() error {
	p := sensor.VolumeParams{
		Bounds:        c.randomBounds(c.cfg.Extent*1.1, c.cfg.MaxSize),
		AttributeTags: c.randomTags(),
		Sink:          c.rec,
		Owner:         len(c.owners),
	}
	if c.rng.Float64() < c.cfg.ListenerRatio {
		p.ListenerTags = c.randomTags()
	}
	id, err := c.m.CreateVolume(p)
	if err != nil {
		return err
	}
	c.owners[id] = p.Owner.(int)
	c.ids = append(c.ids, id)
	return nil
}

func (c *checker) checkQueries() {
	for i := 0; i < c.cfg.Probes; i++ {
		probe := c.randomBounds(c.cfg.Extent*1.2, c.cfg.MaxSize*4)
		listen := c.randomTags()
		if c.rng.IntN(8) == 0 {
			listen = tags.None
		}
		want := c.brute(probe, listen, sensor.InvalidVolumeID)
		got := sortIDs(c.m.Query(probe, listen, sensor.InvalidVolumeID))
		c.report.Queries++
		if !slices.Equal(want, got) {
			c.mismatch(-1, "query", sensor.InvalidVolumeID, want, got)
		}
	}
}

func (c *checker) round(round int) error {
	before := make(map[sensor.VolumeID][]sensor.VolumeID, len(c.ids))
	for _, id := range c.ids {
		before[id] = c.m.Results(id)
	}

	for n := c.rng.IntN(c.cfg.MaxMutations + 1); n > 0; n-- {
		if err := c.mutate(); err != nil {
			return err
		}
	}

	c.m.Update()
	c.report.Updates++
	events := c.rec.events
	c.rec.events = nil
	c.report.Events += len(events)

	got := make(map[sensor.VolumeID][]sensor.Event)
	for _, e := range events {
		if owner, ok := e.OtherOwner.(int); !ok || owner != c.owners[e.Other] {
			c.mismatch(round, "owner", e.Self, nil, []sensor.VolumeID{e.Other})
		}
		got[e.Self] = append(got[e.Self], e)
	}

	for _, id := range c.ids {
		p, _ := c.m.GetVolumeParams(id)
		var want []sensor.VolumeID
		if !p.ListenerTags.IsEmpty() {
			want = c.brute(p.Bounds, p.ListenerTags, id)
		}
		if res := sortIDs(c.m.Results(id)); !slices.Equal(want, res) {
			c.mismatch(round, "results", id, want, res)
		}

		entered, left := diff(before[id], want)
		var gotEntered, gotLeft []sensor.VolumeID
		for _, e := range got[id] {
			if e.Kind == sensor.Entering {
				gotEntered = append(gotEntered, e.Other)
			} else {
				gotLeft = append(gotLeft, e.Other)
			}
		}
		if gotEntered = sortIDs(gotEntered); !slices.Equal(entered, gotEntered) {
			c.mismatch(round, "entering", id, entered, gotEntered)
		}
		if gotLeft = sortIDs(gotLeft); !slices.Equal(left, gotLeft) {
			c.mismatch(round, "leaving", id, left, gotLeft)
		}
		delete(got, id)
	}
	// whatever is left was sent to a listener that is not alive
	for self, evs := range got {
		var others []sensor.VolumeID
		for _, e := range evs {
			others = append(others, e.Other)
		}
		c.mismatch(round, "results", self, nil, others)
	}
	return nil
}

func (c *checker) mutate() error {
	if len(c.ids) == 0 {
		return c.create()
	}
	i := c.rng.IntN(len(c.ids))
	id := c.ids[i]
	p, _ := c.m.GetVolumeParams(id)
	switch c.rng.IntN(8) {
	case 0, 1, 2:
		step := c.randomBounds(c.cfg.MaxSize/2, 0).Center()
		return c.m.UpdateBounds(id, p.Bounds.Translate(step))
	case 3:
		return c.m.UpdateBounds(id, c.randomBounds(c.cfg.Extent*1.1, c.cfg.MaxSize))
	case 4:
		return c.m.SetAttributeTags(id, c.randomTags())
	case 5:
		return c.m.SetListenerTags(id, c.randomTags())
	case 6:
		c.ids[i] = c.ids[len(c.ids)-1]
		c.ids = c.ids[:len(c.ids)-1]
		return c.m.DestroyVolume(id)
	default:
		return c.create()
	}
}

func (c *checker) brute(b physics.Bounds, listen tags.Tags, exclude sensor.VolumeID) []sensor.VolumeID {
	var out []sensor.VolumeID
	c.m.Each(func(id sensor.VolumeID, p sensor.VolumeParams) bool {
		if id != exclude && (listen.IsEmpty() || p.AttributeTags.Intersects(listen)) && p.Bounds.Overlaps(b) {
			out = append(out, id)
		}
		return true
	})
	return sortIDs(out)
}

func (c *checker) mismatch(round int, what string, id sensor.VolumeID, want, got []sensor.VolumeID) {
	c.report.Mismatches = append(c.report.Mismatches, Mismatch{
		Seed:   c.seed,
		Round:  round,
		What:   what,
		Volume: id,
		Want:   want,
		Got:    got,
	})
}

func (c *checker) randomBounds(extent, maxSize float64) physics.Bounds {
	r := c.rng
	center := physics.V3((r.Float64()*2-1)*extent, (r.Float64()*2-1)*extent, (r.Float64()*2-1)*extent)
	half := physics.V3(r.Float64()*maxSize/2+0.01, r.Float64()*maxSize/2+0.01, r.Float64()*maxSize/2+0.01)
	switch r.IntN(4) {
	case 0:
		return physics.PointBounds(center)
	case 1:
		return physics.BoxAt(center, half)
	case 2:
		return physics.SphereBounds(physics.Sphere{Center: center, Radius: half.X})
	default:
		axes := physics.AxesFromEuler(r.Float64()*2*math.Pi, r.Float64()*2*math.Pi, r.Float64()*2*math.Pi)
		return physics.OrientedBounds(physics.NewOBB(center, half, axes))
	}
}

func (c *checker) randomTags() tags.Tags {
	return tags.Tags(c.rng.Uint64() & (1<<c.cfg.TagBits - 1))
}

// diff returns the ids only in after and the ids only in before, sorted.
func diff(before, after []sensor.VolumeID) (entered, left []sensor.VolumeID) {
	for _, id := range after {
		if !slices.Contains(before, id) {
			entered = append(entered, id)
		}
	}
	for _, id := range before {
		if !slices.Contains(after, id) {
			left = append(left, id)
		}
	}
	return sortIDs(entered), sortIDs(left)
}

// sortIDs sorts ids in place, mapping empty to nil so results compare equal.
func sortIDs(ids []sensor.VolumeID) []sensor.VolumeID {
	if len(ids) == 0 {
		return nil
	}
	slices.SortFunc(ids, sensor.VolumeID.Compare)
	return ids
}
