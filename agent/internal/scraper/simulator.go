package scraper

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/airguard/airguard/agent/internal/config"
	"github.com/airguard/airguard/pkg/types"
)

const defaultSpikeLength = 6

// walk describes how one attribute drifts: it is pulled towards base,
// perturbed by gaussian noise of width sigma, pushed by spike per poll while
// a spike is active, and kept within [min, max].
type walk struct {
	base, sigma, spike, min, max float64
}

var walks = map[string]walk{
	types.AttrTemperature: {base: 24, sigma: 0.3, spike: 0.2, min: 10, max: 40},
	types.AttrHumidity:    {base: 50, sigma: 1.0, spike: 0.5, min: 15, max: 95},
	types.AttrCO2:         {base: 600, sigma: 25, spike: 220, min: 380, max: 5000},
	types.AttrCO:          {base: 1.5, sigma: 0.2, spike: 2.5, min: 0, max: 100},
	types.AttrPM25:        {base: 12, sigma: 1.5, spike: 12, min: 0, max: 500},
}

// Simulator is a sensor source that produces a mean-reverting random walk
// around typical indoor values, with occasional pollution spikes that push
// CO2, CO and PM2.5 into the poor range. It is safe for concurrent use.
type Simulator struct {
	id          string
	probability float64
	length      int

	mu        sync.Mutex
	rng       *rand.Rand
	values    map[string]float64
	spikeLeft int
	now       func() time.Time
}

// NewSimulator builds a Simulator from the source's simulation settings.
func NewSimulator(src config.Source) *Simulator {
	seed := src.Simulation.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	length := src.Simulation.SpikeLength
	if length == 0 {
		length = defaultSpikeLength
	}
	values := make(map[string]float64, len(walks))
	for attr, w := range walks {
		values[attr] = w.base
	}
	return &Simulator{
		id:          src.ID,
		probability: src.Simulation.SpikeProbability,
		length:      length,
		rng:         rand.New(rand.NewSource(seed)), //nolint:gosec // not crypto
		values:      values,
		now:         time.Now,
	}
}

// Scrape advances the walk by one step. It never fails.
func (s *Simulator) Scrape(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.spikeLeft == 0 && s.probability > 0 && s.rng.Float64() < s.probability {
		s.spikeLeft = s.length
	}
	spiking := s.spikeLeft > 0
	if spiking {
		s.spikeLeft--
	}

	for _, attr := range attrOrder {
		w := walks[attr]
		v := s.values[attr]
		v += (w.base-v)*0.1 + s.rng.NormFloat64()*w.sigma
		if spiking {
			v += w.spike
		}
		s.values[attr] = math.Max(w.min, math.Min(w.max, v))
	}

	res := newResult(s.id, "simulated", s.now())
	res.Reading = types.Reading{
		Timestamp:   res.ScrapedAt,
		Temperature: round(s.values[types.AttrTemperature], 1),
		Humidity:    round(s.values[types.AttrHumidity], 1),
		CO2:         round(s.values[types.AttrCO2], 0),
		CO:          round(s.values[types.AttrCO], 2),
		PM25:        round(s.values[types.AttrPM25], 1),
	}
	return res, nil
}

// Spiking reports whether a pollution spike is in progress.
func (s *Simulator) Spiking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spikeLeft > 0
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
