package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type Opts struct {
	Name string
	Help string
}

type collector interface {
	name() string
	writePrometheus(*strings.Builder)
}

type Registry struct {
	mu         sync.RWMutex
	collectors map[string]collector
}

func NewRegistry() *Registry {
	return &Registry{
		collectors: map[string]collector{},
	}
}

func (r *Registry) MustRegister(items ...collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		name := item.name()
		if _, exists := r.collectors[name]; exists {
			panic("metrics collector already registered: " + name)
		}
		r.collectors[name] = item
	}
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		var sb strings.Builder

		r.mu.RLock()
		names := make([]string, 0, len(r.collectors))
		for name := range r.collectors {
			names = append(names, name)
		}
		sort.Strings(names)
		collectors := make([]collector, 0, len(names))
		for _, name := range names {
			collectors = append(collectors, r.collectors[name])
		}
		r.mu.RUnlock()

		for _, c := range collectors {
			c.writePrometheus(&sb)
		}
		_, _ = w.Write([]byte(sb.String()))
	})
}

var Default = NewRegistry()

func DefaultHandler() http.Handler {
	return Default.Handler()
}

type Counter struct {
	opts Opts
	mu   sync.RWMutex
	v    float64
}

func NewCounter(opts Opts) *Counter {
	return &Counter{opts: opts}
}

func (c *Counter) name() string {
	return c.opts.Name
}

func (c *Counter) Inc() { c.Add(1) }

func (c *Counter) Add(delta float64) {
	if delta < 0 {
		return
	}
	c.mu.Lock()
	c.v += delta
	c.mu.Unlock()
}

func (c *Counter) Value() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v
}

func (c *Counter) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, c.opts.Name, "counter", c.opts.Help)
	fmt.Fprintf(sb, "%s %s\n", c.opts.Name, floatToString(c.Value()))
}

type Gauge struct {
	opts Opts
	mu   sync.RWMutex
	v    float64
}

func NewGauge(opts Opts) *Gauge {
	return &Gauge{opts: opts}
}

func (g *Gauge) name() string {
	return g.opts.Name
}

func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.v = v
	g.mu.Unlock()
}

func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.v += v
	g.mu.Unlock()
}

func (g *Gauge) Inc() { g.Add(1) }
func (g *Gauge) Dec() { g.Add(-1) }

func (g *Gauge) Value() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.v
}

func (g *Gauge) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, g.opts.Name, "gauge", g.opts.Help)
	fmt.Fprintf(sb, "%s %s\n", g.opts.Name, floatToString(g.Value()))
}

func writeMetricHead(sb *strings.Builder, name, kind, help string) {
	if help != "" {
		fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	}
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
}

func floatToString(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
