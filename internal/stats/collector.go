package stats

import (
	"fmt"
	"os"
	"time"

	"github.com/geopm/geopmd/internal/platformio"
	"github.com/geopm/geopmd/internal/topo"
)

// Request names one signal to track, at one domain and domain index.
type Request struct {
	Name      string
	Domain    topo.Domain
	DomainIdx int
}

// Collector pushes a fixed set of Requests through a platformio.PlatformIO
// and accumulates their samples into a RuntimeStats, generating the same
// YAML report shape as GEOPM's native stats collector.
type Collector struct {
	pio       *platformio.PlatformIO
	pioHandle []platformio.Handle
	stats     *RuntimeStats
	timeBegin time.Time
	hostname  string
}

// NewCollector pushes every request's signal through pio and returns a
// Collector ready to accumulate samples with Update.
func NewCollector(pio *platformio.PlatformIO, requests []Request) (*Collector, error) {
	names := make([]string, 0, len(requests))
	handles := make([]platformio.Handle, 0, len(requests))
	for _, req := range requests {
		h, err := pio.PushSignal(req.Name, req.Domain, req.DomainIdx)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
		if req.Domain == topo.DomainBoard && req.DomainIdx == 0 {
			names = append(names, req.Name)
		} else {
			names = append(names, fmt.Sprintf("%s-%s-%d", req.Name, req.Domain, req.DomainIdx))
		}
	}

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	return &Collector{
		pio:       pio,
		pioHandle: handles,
		stats:     New(names, nil),
		hostname:  host,
	}, nil
}

// Update samples every tracked handle through the PlatformIO (the caller
// is expected to have already called pio.ReadBatch) and folds the result
// into the running moments. The begin-time stamp latches on first call.
func (c *Collector) Update() error {
	if c.timeBegin.IsZero() {
		c.timeBegin = time.Now()
	}
	sample := make([]float64, len(c.pioHandle))
	for i, h := range c.pioHandle {
		v, err := c.pio.Sample(h)
		if err != nil {
			return err
		}
		sample[i] = v
	}
	return c.stats.Update(sample)
}

// Reset zeroes every metric's accumulated moments without resetting the
// begin-time stamp.
func (c *Collector) Reset() {
	c.stats.Reset()
}

// metricSnapshot is one metric's rendered fields, captured in the fixed
// order the report emits them in.
type metricSnapshot struct {
	name                          string
	count                         uint64
	first, last, min, max, mean, std float64
}

func (c *Collector) snapshot() ([]metricSnapshot, error) {
	out := make([]metricSnapshot, c.stats.NumMetric())
	for i := range out {
		name, err := c.stats.MetricName(i)
		if err != nil {
			return nil, err
		}
		count, _ := c.stats.Count(i)
		first, _ := c.stats.First(i)
		last, _ := c.stats.Last(i)
		min, _ := c.stats.Min(i)
		max, _ := c.stats.Max(i)
		mean, _ := c.stats.Mean(i)
		std, _ := c.stats.Std(i)
		out[i] = metricSnapshot{name, count, first, last, min, max, mean, std}
	}
	return out, nil
}

// MetricSnapshot is a metric's accumulated moments at the moment Snapshot
// was called, exported for consumers outside this package (statsdiff).
type MetricSnapshot struct {
	Name                          string
	Count                         uint64
	First, Last, Min, Max, Mean, Std float64
}

// Snapshot returns every tracked metric's current moments, in registration
// order, as a value usable after Reset or further Update calls mutate the
// Collector's own running state.
func (c *Collector) Snapshot() ([]MetricSnapshot, error) {
	internal, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]MetricSnapshot, len(internal))
	for i, m := range internal {
		out[i] = MetricSnapshot{
			Name: m.name, Count: m.count,
			First: m.first, Last: m.last, Min: m.min, Max: m.max, Mean: m.mean, Std: m.std,
		}
	}
	return out, nil
}
